package restore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// erroringClient overrides single operations on top of MockClient so
// individual steps can be forced to fail without touching the shared
// mock used by every other package's tests.
type erroringClient struct {
	*cloudclient.MockClient
	failCreateServer bool
	blockVolumeWait  chan struct{}
}

func (c *erroringClient) CreateServer(ctx context.Context, s cloudclient.Session, spec cloudclient.ServerSpec) (cloudclient.Server, error) {
	if c.failCreateServer {
		return cloudclient.Server{}, errs.New(errs.KindInternal, "injected failure")
	}
	return c.MockClient.CreateServer(ctx, s, spec)
}

// GetVolume reports "creating" forever while blockVolumeWait is open,
// so handleWaitVolumeAvailable's poll loop keeps ticking (and keeps
// observing cancellation) instead of completing on the first check.
func (c *erroringClient) GetVolume(ctx context.Context, s cloudclient.Session, volumeID string) (cloudclient.Volume, error) {
	if c.blockVolumeWait != nil {
		select {
		case <-c.blockVolumeWait:
		default:
			v, err := c.MockClient.GetVolume(ctx, s, volumeID)
			if err == nil {
				v.Status = "creating"
			}
			return v, err
		}
	}
	return c.MockClient.GetVolume(ctx, s, volumeID)
}

func waitForStatus(t *testing.T, js store.JobStore, jobID string, want store.RestoreJobStatus, timeout time.Duration) *store.RestoreJob {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := js.GetRestoreJob(context.Background(), jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s", want)
	return nil
}

func TestExecute_RefusesConfirmationMismatchForReplace(t *testing.T) {
	e, cloud := testEngine(t)
	seedBootableVM(cloud, "vm-1", "vol-1", "proj-1")

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1", Mode: "REPLACE", IPStrategy: "NEW_IPS",
	})
	require.NoError(t, err)

	err = e.Execute(context.Background(), result.Job.ID, "wrong phrase")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindConfirmationRequired))
}

func TestExecute_SucceedsForNewMode(t *testing.T) {
	e, cloud := testEngine(t)
	seedBootableVM(cloud, "vm-1", "vol-1", "proj-1")

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1", Mode: "NEW", IPStrategy: "NEW_IPS",
	})
	require.NoError(t, err)

	require.NoError(t, e.Execute(context.Background(), result.Job.ID, ""))

	job := waitForStatus(t, e.Store, result.Job.ID, store.JobSucceeded, time.Second)
	require.NotEmpty(t, job.Result["server_id"])
}

func TestExecute_RollsBackAndFailsOnStepError(t *testing.T) {
	cloud := &erroringClient{MockClient: cloudclient.NewMockClient(), failCreateServer: true}
	seedBootableVM(cloud.MockClient, "vm-1", "vol-1", "proj-1")

	sessions := newTestSessionProvider(cloud)
	e := New(cloud, sessions, newFakeStore(), nil, Config{}, slog.Default())

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1", Mode: "NEW", IPStrategy: "NEW_IPS",
	})
	require.NoError(t, err)

	require.NoError(t, e.Execute(context.Background(), result.Job.ID, ""))

	job := waitForStatus(t, e.Store, result.Job.ID, store.JobFailed, time.Second)
	require.Equal(t, StepCreateServer, job.Result["failed_step"])
}

func TestExecute_CancelDuringWaitVolumeAvailable(t *testing.T) {
	oldPoll := waitVolumeAvailPoll
	waitVolumeAvailPoll = 5 * time.Millisecond
	t.Cleanup(func() { waitVolumeAvailPoll = oldPoll })

	cloud := &erroringClient{MockClient: cloudclient.NewMockClient(), blockVolumeWait: make(chan struct{})}
	seedBootableVM(cloud.MockClient, "vm-1", "vol-1", "proj-1")

	sessions := newTestSessionProvider(cloud)
	e := New(cloud, sessions, newFakeStore(), nil, Config{}, slog.Default())

	result, err := e.Plan(context.Background(), PlanInput{
		ProjectID: "proj-1", VMID: "vm-1", SnapshotID: "snap-1", Mode: "NEW", IPStrategy: "NEW_IPS",
	})
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background(), result.Job.ID, ""))

	// Let the job reach RUNNING and enter the WAIT_VOLUME_AVAILABLE poll
	// loop (the volume never reports "available" while blockVolumeWait
	// stays open) before requesting cancellation.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Cancel(context.Background(), result.Job.ID))

	job := waitForStatus(t, e.Store, result.Job.ID, store.JobCanceled, 2*time.Second)
	require.Equal(t, store.JobCanceled, job.Status)
}
