package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// errCanceled is returned by a WAIT_* handler's poll loop when it
// observes the job's cancellation flag between poll ticks; the
// executor treats it as a cancellation, not a step failure, giving
// cancel-mid-wait the poll-interval-latency behavior spec.md
// describes rather than the step-boundary-only rule that applies to
// every other step kind.
var errCanceled = errors.New("canceled")

// runState carries the plan plus every resource ID accumulated across
// step handlers within one execution attempt, the "prior step
// outputs" spec.md's handler contract refers to. It is in-memory only
// and lives for the lifetime of one goroutine.
type runState struct {
	job   *store.RestoreJob
	plan  Plan
	admin cloudclient.Session
	sess  cloudclient.Session

	deletedPortIDs []string
	newVolumeID    string
	newPortIDs     []string
	newPortIPs     map[string]string
	newServerID    string
	warnings       []string
}

// stepHandler is a pure-ish function of (engine, state): it may call
// the cloud client and the session provider, but never touches the
// job store directly: the executor loop owns all persistence.
type stepHandler func(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error)

var stepHandlers = map[string]stepHandler{
	StepValidateLiveState:    handleValidateLiveState,
	StepEnsureServiceUser:    handleEnsureServiceUser,
	StepQuotaCheck:           handleQuotaCheck,
	StepDeleteExistingVM:     handleDeleteExistingVM,
	StepWaitVMDeleted:        handleWaitVMDeleted,
	StepCleanupOldPorts:      handleCleanupOldPorts,
	StepCreateVolumeFromSnap: handleCreateVolumeFromSnapshot,
	StepWaitVolumeAvailable:  handleWaitVolumeAvailable,
	StepCreatePorts:          handleCreatePorts,
	StepCreateServer:         handleCreateServer,
	StepWaitServerActive:     handleWaitServerActive,
	StepFinalize:             handleFinalize,
	StepCleanupOldStorage:    handleCleanupOldStorage,
}

func handleValidateLiveState(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	snap, err := e.Cloud.GetSnapshot(ctx, st.admin, st.plan.SnapshotID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSnapshotNotFound, "snapshot no longer present", err)
	}
	if snap.Status != "available" {
		return nil, errs.New(errs.KindSnapshotMismatch, "snapshot is no longer in a restorable state: "+snap.Status)
	}
	if st.job.Mode == "REPLACE" {
		if _, err := e.Cloud.GetServer(ctx, st.admin, st.job.VMID); err != nil && !errs.Is(err, errs.KindNotFound) {
			return nil, fmt.Errorf("re-checking deletion target: %w", err)
		}
	} else if _, err := e.Cloud.GetServer(ctx, st.admin, st.job.VMID); err != nil {
		return nil, errs.Wrap(errs.KindVMNotFound, "source vm no longer present", err)
	}
	return store.JSONMap{"snapshot_status": snap.Status}, nil
}

func handleEnsureServiceUser(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	sess, degraded, err := e.scopedSession(ctx, st.plan.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project session: %w", err)
	}
	st.sess = sess
	if degraded {
		st.warnings = append(st.warnings, "project session degraded; remaining steps run on the admin session")
		return store.JSONMap{"degraded": true}, nil
	}
	return store.JSONMap{"degraded": false}, nil
}

func handleQuotaCheck(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	if st.job.Mode != "NEW" {
		return store.JSONMap{"skipped": "replace mode reuses existing quota headroom"}, nil
	}
	quotas, err := e.Cloud.GetComputeQuotas(ctx, st.sess, st.plan.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("fetching live quotas: %w", err)
	}
	if !quotas.Fits(st.plan.QuotaDelta) {
		return nil, errs.New(errs.KindQuotaInsufficient, "project quota does not cover this restore")
	}
	return store.JSONMap{"quota_ok": true}, nil
}

func handleDeleteExistingVM(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	if err := e.Cloud.DeleteServer(ctx, st.admin, st.job.VMID); err != nil {
		return nil, fmt.Errorf("deleting existing vm: %w", err)
	}
	return store.JSONMap{
		"deleted_vm_id":     st.job.VMID,
		"original_port_ids": st.plan.OriginalPortIDs,
	}, nil
}

func handleWaitVMDeleted(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	return pollWithCancellation(ctx, e, st, waitVMDeletedTimeout, waitVMDeletedPoll, func() (store.JSONMap, bool, error) {
		_, err := e.Cloud.GetServer(ctx, st.admin, st.job.VMID)
		if errs.Is(err, errs.KindNotFound) {
			return store.JSONMap{"deleted": true}, true, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("polling for vm deletion: %w", err)
		}
		return nil, false, nil
	}, "vm did not delete within 300s")
}

// pollWithCancellation runs check repeatedly at interval until it
// reports done, the timeout elapses, or the job's cancellation flag is
// observed. The poll-tick-granularity cancellation behavior spec.md
// carves out for WAIT_* steps specifically.
func pollWithCancellation(ctx context.Context, e *Engine, st *runState, timeout, interval time.Duration, check func() (store.JSONMap, bool, error), timeoutMsg string) (store.JSONMap, error) {
	deadline := time.Now().Add(timeout)
	for {
		canceled, err := e.Store.ObserveCancellation(ctx, st.job.ID)
		if err == nil && canceled {
			return nil, errCanceled
		}

		detail, done, err := check()
		if err != nil {
			return nil, err
		}
		if done {
			return detail, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.KindTimeout, timeoutMsg)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func handleCleanupOldPorts(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	var deleted []string

	for _, portID := range st.plan.OriginalPortIDs {
		if err := e.Cloud.DeletePort(ctx, st.admin, portID); err != nil {
			return nil, fmt.Errorf("deleting original port %s: %w", portID, err)
		}
		deleted = append(deleted, portID)
	}

	remaining, err := e.Cloud.ListPorts(ctx, st.admin, map[string]string{"device_id": st.job.VMID})
	if err != nil {
		return nil, fmt.Errorf("listing remaining ports by device: %w", err)
	}
	for _, p := range remaining {
		if err := e.Cloud.DeletePort(ctx, st.admin, p.ID); err != nil {
			return nil, fmt.Errorf("deleting orphaned port %s: %w", p.ID, err)
		}
		deleted = append(deleted, p.ID)
	}

	targetIPs := map[string]bool{}
	for _, pp := range st.plan.Ports {
		if pp.RequestedIP != "" {
			targetIPs[pp.RequestedIP] = true
		}
	}
	if len(targetIPs) > 0 {
		for _, pp := range st.plan.Ports {
			ports, err := e.Cloud.ListPorts(ctx, st.admin, map[string]string{"network_id": pp.NetworkID})
			if err != nil {
				return nil, fmt.Errorf("listing ports for externally-held ip cleanup: %w", err)
			}
			for _, p := range ports {
				for _, fip := range p.FixedIPs {
					if targetIPs[fip.IPAddress] {
						if err := e.Cloud.DeletePort(ctx, st.admin, p.ID); err != nil {
							return nil, fmt.Errorf("deleting port holding target ip %s: %w", fip.IPAddress, err)
						}
						deleted = append(deleted, p.ID)
					}
				}
			}
		}
	}

	st.deletedPortIDs = deleted

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(portReleaseSettle):
	}

	return store.JSONMap{"deleted_port_ids": deleted}, nil
}

func handleCreateVolumeFromSnapshot(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	vol, err := e.Cloud.CreateVolumeFromSnapshot(ctx, st.sess, cloudclient.VolumeFromSnapshotSpec{
		SnapshotID: st.plan.SnapshotID,
		Name:       st.plan.NewVMName + "-boot",
		SizeGB:     st.plan.QuotaDelta.VolumeGB,
	})
	if err != nil {
		return nil, fmt.Errorf("creating volume from snapshot: %w", err)
	}
	st.newVolumeID = vol.ID
	return store.JSONMap{"volume_id": vol.ID}, nil
}

func handleWaitVolumeAvailable(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	return pollWithCancellation(ctx, e, st, waitVolumeAvailTimeout, waitVolumeAvailPoll, func() (store.JSONMap, bool, error) {
		vol, err := e.Cloud.GetVolume(ctx, st.sess, st.newVolumeID)
		if err != nil {
			return nil, false, fmt.Errorf("polling volume status: %w", err)
		}
		if vol.Status == "error" {
			return nil, false, errs.New(errs.KindInternal, fmt.Sprintf("volume %s entered error status", st.newVolumeID))
		}
		if vol.Status == "available" {
			return store.JSONMap{"volume_id": st.newVolumeID, "status": "available"}, true, nil
		}
		return nil, false, nil
	}, "volume did not become available within 600s")
}

func handleCreatePorts(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	st.newPortIPs = map[string]string{}

	for _, pp := range st.plan.Ports {
		spec := cloudclient.PortSpec{NetworkID: pp.NetworkID, SecurityGroupIDs: pp.SecurityGroupIDs}
		if pp.RequestedIP != "" {
			spec.FixedIPs = []cloudclient.FixedIP{{IPAddress: pp.RequestedIP}}
		}

		var port cloudclient.Port
		var err error
		for attempt := 0; attempt <= portConflictRetries; attempt++ {
			port, err = e.Cloud.CreatePort(ctx, st.sess, spec)
			if err == nil || !errs.Is(err, errs.KindConflict) {
				break
			}
			if attempt == portConflictRetries {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(portConflictRetryBackoff):
			}
		}
		if err != nil {
			if errs.Is(err, errs.KindConflict) && st.plan.IPStrategy == "TRY_SAME_IPS" {
				spec.FixedIPs = nil
				st.warnings = append(st.warnings, fmt.Sprintf("ip conflict on network %s, fell through to DHCP", pp.NetworkID))
				port, err = e.Cloud.CreatePort(ctx, st.sess, spec)
			}
			if err != nil {
				return nil, fmt.Errorf("creating port on network %s: %w", pp.NetworkID, err)
			}
		}

		st.newPortIDs = append(st.newPortIDs, port.ID)
		for _, fip := range port.FixedIPs {
			st.newPortIPs[port.ID] = fip.IPAddress
		}
	}

	return store.JSONMap{"port_ids": st.newPortIDs, "port_ips": st.newPortIPs}, nil
}

func handleCreateServer(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	srv, err := e.Cloud.CreateServer(ctx, st.sess, cloudclient.ServerSpec{
		Name:             st.plan.NewVMName,
		FlavorID:         st.plan.FlavorID,
		BootVolumeID:     st.newVolumeID,
		PortIDs:          st.newPortIDs,
		UserData:         st.plan.UserData,
		SecurityGroupIDs: st.plan.SecurityGroupIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	st.newServerID = srv.ID
	return store.JSONMap{"server_id": srv.ID}, nil
}

func handleWaitServerActive(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	return pollWithCancellation(ctx, e, st, waitServerActiveTimeout, waitServerActivePoll, func() (store.JSONMap, bool, error) {
		srv, err := e.Cloud.GetServer(ctx, st.sess, st.newServerID)
		if err != nil {
			return nil, false, fmt.Errorf("polling server status: %w", err)
		}
		if srv.Status == "ERROR" {
			return nil, false, errs.New(errs.KindInternal, fmt.Sprintf("server %s entered ERROR status", st.newServerID))
		}
		if srv.Status == "ACTIVE" {
			return store.JSONMap{"server_id": st.newServerID, "status": "ACTIVE"}, true, nil
		}
		return nil, false, nil
	}, "server did not become active within 600s")
}

func handleFinalize(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	return store.JSONMap{
		"server_id":  st.newServerID,
		"volume_id":  st.newVolumeID,
		"port_ids":   st.newPortIDs,
		"port_ips":   st.newPortIPs,
		"warnings":   st.warnings,
	}, nil
}

// handleCleanupOldStorage is the only step whose own failure is
// non-fatal: the job still ends SUCCEEDED, with the failure recorded
// in the step's own detail.
func handleCleanupOldStorage(ctx context.Context, e *Engine, st *runState) (store.JSONMap, error) {
	detail := store.JSONMap{}

	vol, err := e.Cloud.GetVolume(ctx, st.admin, st.plan.OriginalVolumeID)
	switch {
	case err != nil:
		detail["volume_delete_skipped"] = fmt.Sprintf("could not inspect original volume: %v", err)
	case vol.Status != "available":
		detail["volume_delete_skipped"] = "original volume is not available (status=" + vol.Status + "), left in place"
	default:
		if err := e.Cloud.DeleteVolume(ctx, st.admin, st.plan.OriginalVolumeID); err != nil {
			detail["volume_delete_failed"] = err.Error()
		} else {
			detail["volume_deleted"] = st.plan.OriginalVolumeID
		}
	}

	if st.plan.DeleteSourceSnapshot {
		if err := e.Cloud.DeleteSnapshot(ctx, st.admin, st.plan.SnapshotID); err != nil {
			detail["snapshot_delete_failed"] = err.Error()
		} else {
			detail["snapshot_deleted"] = st.plan.SnapshotID
		}
	}

	return detail, nil
}

// rollback performs the best-effort cleanup of spec.md §4.6.2: each
// action is independently attempted and a failure never stops the
// next one. The source snapshot is never touched.
func rollback(ctx context.Context, e *Engine, st *runState, log interface {
	Warn(string, ...any)
}) {
	sess := st.sess
	if sess.Token == "" {
		sess = st.admin
	}

	if st.newServerID != "" {
		if err := e.Cloud.DeleteServer(ctx, sess, st.newServerID); err != nil {
			log.Warn("rollback: failed to delete created server", "server_id", st.newServerID, "error", err)
		}
	}
	for _, portID := range st.newPortIDs {
		if err := e.Cloud.DeletePort(ctx, sess, portID); err != nil {
			log.Warn("rollback: failed to delete created port", "port_id", portID, "error", err)
		}
	}
	if st.newVolumeID != "" {
		if e.Cfg.CleanupVolumes {
			if err := e.Cloud.DeleteVolume(ctx, sess, st.newVolumeID); err != nil {
				log.Warn("rollback: failed to delete created volume", "volume_id", st.newVolumeID, "error", err)
			}
		} else {
			log.Warn("rollback: leaving created volume for manual inspection", "volume_id", st.newVolumeID)
		}
	}
}
