package restore

import (
	"context"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// Cleanup walks a job's persisted step details, collects every
// created resource ID, and deletes each. The manual-cleanup API of
// spec.md §4.6.2. Volumes are deleted only when deleteVolume is true
// and the volume is currently available.
func (e *Engine) Cleanup(ctx context.Context, jobID string, deleteVolume bool) (store.JSONMap, error) {
	job, err := e.Store.GetRestoreJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errs.New(errs.KindNotFound, "restore job not found: "+jobID)
	}

	admin, err := e.Sessions.GetAdminSession(ctx)
	if err != nil {
		return nil, err
	}

	result := store.JSONMap{}
	var serverIDs, portIDs, volumeIDs []string

	for _, step := range job.Steps {
		if v, ok := step.Detail["server_id"].(string); ok && v != "" {
			serverIDs = append(serverIDs, v)
		}
		if v, ok := step.Detail["volume_id"].(string); ok && v != "" {
			volumeIDs = append(volumeIDs, v)
		}
		if v, ok := step.Detail["port_ids"].([]any); ok {
			for _, id := range v {
				if s, ok := id.(string); ok {
					portIDs = append(portIDs, s)
				}
			}
		}
	}

	var deletedServers, deletedPorts, deletedVolumes []string
	var failures []string

	for _, id := range dedupe(serverIDs) {
		if err := e.Cloud.DeleteServer(ctx, admin, id); err != nil {
			failures = append(failures, "server "+id+": "+err.Error())
			continue
		}
		deletedServers = append(deletedServers, id)
	}
	for _, id := range dedupe(portIDs) {
		if err := e.Cloud.DeletePort(ctx, admin, id); err != nil {
			failures = append(failures, "port "+id+": "+err.Error())
			continue
		}
		deletedPorts = append(deletedPorts, id)
	}
	if deleteVolume {
		for _, id := range dedupe(volumeIDs) {
			vol, err := e.Cloud.GetVolume(ctx, admin, id)
			if err != nil {
				failures = append(failures, "volume "+id+": "+err.Error())
				continue
			}
			if vol.Status != "available" {
				failures = append(failures, "volume "+id+": not available (status="+vol.Status+"), skipped")
				continue
			}
			if err := e.Cloud.DeleteVolume(ctx, admin, id); err != nil {
				failures = append(failures, "volume "+id+": "+err.Error())
				continue
			}
			deletedVolumes = append(deletedVolumes, id)
		}
	}

	result["deleted_servers"] = deletedServers
	result["deleted_ports"] = deletedPorts
	result["deleted_volumes"] = deletedVolumes
	if len(failures) > 0 {
		result["failures"] = failures
	}
	return result, nil
}

// CleanupStorage is the standalone post-success storage cleanup API of
// spec.md §6.1 (`/restore/jobs/{job_id}/cleanup-storage`): unlike the
// in-plan CLEANUP_OLD_STORAGE step (gated on CleanupOldStorage at plan
// time), this is callable any time after a REPLACE job has succeeded,
// with its own explicit delete flags.
func (e *Engine) CleanupStorage(ctx context.Context, jobID string, deleteOldVolume, deleteSourceSnapshot bool) (store.JSONMap, error) {
	job, err := e.Store.GetRestoreJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errs.New(errs.KindNotFound, "restore job not found: "+jobID)
	}
	if job.Status != store.JobSucceeded {
		return nil, errs.New(errs.KindConflict, "storage cleanup is only available for succeeded jobs")
	}

	var plan Plan
	if err := decodePlan(job.Plan, &plan); err != nil {
		return nil, err
	}

	admin, err := e.Sessions.GetAdminSession(ctx)
	if err != nil {
		return nil, err
	}

	result := store.JSONMap{}

	if deleteOldVolume {
		if plan.OriginalVolumeID == "" {
			result["volume_delete_skipped"] = "no original volume recorded on this job's plan"
		} else {
			vol, err := e.Cloud.GetVolume(ctx, admin, plan.OriginalVolumeID)
			switch {
			case err != nil:
				result["volume_delete_skipped"] = "could not inspect original volume: " + err.Error()
			case vol.Status != "available":
				result["volume_delete_skipped"] = "original volume is not available (status=" + vol.Status + "), left in place"
			default:
				if err := e.Cloud.DeleteVolume(ctx, admin, plan.OriginalVolumeID); err != nil {
					result["volume_delete_failed"] = err.Error()
				} else {
					result["volume_deleted"] = plan.OriginalVolumeID
				}
			}
		}
	}

	if deleteSourceSnapshot {
		if err := e.Cloud.DeleteSnapshot(ctx, admin, job.SnapshotID); err != nil {
			result["snapshot_delete_failed"] = err.Error()
		} else {
			result["snapshot_deleted"] = job.SnapshotID
		}
	}

	return result, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
