package restore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/errs"
)

func testEngine(t *testing.T) (*Engine, *cloudclient.MockClient) {
	t.Helper()
	cloud := cloudclient.NewMockClient()
	sessions := newTestSessionProvider(cloud)
	js := newFakeStore()
	log := slog.Default()
	return New(cloud, sessions, js, nil, Config{}, log), cloud
}

func seedBootableVM(cloud *cloudclient.MockClient, vmID, volID, projectID string) {
	cloud.Servers[vmID] = cloudclient.Server{ID: vmID, Name: "vm-a", ProjectID: projectID, Status: "ACTIVE", FlavorID: "flavor-1", BootVolume: volID}
	cloud.Volumes[volID] = cloudclient.Volume{ID: volID, Name: "vm-a-boot", ProjectID: projectID, Status: "in-use", SizeGB: 20}
	cloud.Snapshots["snap-1"] = cloudclient.Snapshot{ID: "snap-1", Name: "snap", VolumeID: volID, ProjectID: projectID, Status: "available", SizeGB: 20}
}

func TestPlan_StepOrderIsDeterministicForNewMode(t *testing.T) {
	e, cloud := testEngine(t)
	seedBootableVM(cloud, "vm-1", "vol-1", "proj-1")

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1",
		Mode: "NEW", IPStrategy: "NEW_IPS", RequestedBy: "alice",
	})
	require.NoError(t, err)

	var kinds []string
	for _, s := range result.Job.Steps {
		kinds = append(kinds, s.Kind)
	}
	require.Equal(t, []string{
		StepValidateLiveState, StepEnsureServiceUser, StepQuotaCheck,
		StepCreateVolumeFromSnap, StepWaitVolumeAvailable,
		StepCreatePorts, StepCreateServer, StepWaitServerActive, StepFinalize,
	}, kinds)
}

func TestPlan_StepOrderIncludesReplaceOnlySteps(t *testing.T) {
	e, cloud := testEngine(t)
	seedBootableVM(cloud, "vm-1", "vol-1", "proj-1")

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1",
		Mode: "REPLACE", IPStrategy: "NEW_IPS", CleanupOldStorage: true, RequestedBy: "alice",
	})
	require.NoError(t, err)

	var kinds []string
	for _, s := range result.Job.Steps {
		kinds = append(kinds, s.Kind)
	}
	require.Equal(t, []string{
		StepValidateLiveState, StepEnsureServiceUser, StepQuotaCheck,
		StepDeleteExistingVM, StepWaitVMDeleted, StepCleanupOldPorts,
		StepCreateVolumeFromSnap, StepWaitVolumeAvailable,
		StepCreatePorts, StepCreateServer, StepWaitServerActive, StepFinalize,
		StepCleanupOldStorage,
	}, kinds)
}

func TestPlan_RefusesNonBootFromVolumeVM(t *testing.T) {
	e, cloud := testEngine(t)
	cloud.Servers["vm-2"] = cloudclient.Server{ID: "vm-2", Name: "vm-b", ProjectID: "proj-1", Status: "ACTIVE"}

	_, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-2", SnapshotID: "snap-1", Mode: "NEW", IPStrategy: "NEW_IPS",
	})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindUnsupportedBootMode))
}

func TestPlan_RefusesSnapshotNotBelongingToVM(t *testing.T) {
	e, cloud := testEngine(t)
	seedBootableVM(cloud, "vm-1", "vol-1", "proj-1")
	cloud.Snapshots["snap-other"] = cloudclient.Snapshot{ID: "snap-other", VolumeID: "vol-unrelated", Status: "available"}

	_, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-other", Mode: "NEW", IPStrategy: "NEW_IPS",
	})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindSnapshotMismatch))
}
