package restore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// Retry creates a new RestoreJob that reuses resource IDs captured in
// the failed job's successful steps and starts execution at the first
// non-succeeded step of the old job (spec.md §4.6.2). The old job's
// status is left untouched for audit.
func (e *Engine) Retry(ctx context.Context, oldJobID, ipStrategyOverride string) (*store.RestoreJob, error) {
	old, err := e.Store.GetRestoreJob(ctx, oldJobID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, errs.New(errs.KindNotFound, "restore job not found: "+oldJobID)
	}
	if old.Status != store.JobFailed && old.Status != store.JobCanceled && old.Status != store.JobInterrupted {
		return nil, errs.New(errs.KindConflict, "only a terminal, non-successful job can be retried")
	}

	var plan Plan
	if err := decodePlan(old.Plan, &plan); err != nil {
		return nil, fmt.Errorf("decoding old plan: %w", err)
	}

	ipStrategy := old.IPStrategy
	if ipStrategyOverride != "" {
		ipStrategy = ipStrategyOverride
		plan.IPStrategy = ipStrategyOverride
	}

	// Reuse resource IDs the old job's successful steps created,
	// surfaced in step detail by handleCreateVolumeFromSnapshot,
	// handleCreatePorts, and handleCreateServer, so the new run doesn't
	// recreate resources that already exist.
	carry := store.JSONMap{}
	firstIncomplete := len(old.Steps)
	for i, step := range old.Steps {
		if step.Status != store.StepSucceeded {
			firstIncomplete = i
			break
		}
		for k, v := range step.Detail {
			carry[k] = v
		}
	}

	plan.CarriedOver = carry
	planJSON, err := toJSONMap(plan)
	if err != nil {
		return nil, fmt.Errorf("serializing plan: %w", err)
	}

	newJob := &store.RestoreJob{
		ID:                   uuid.NewString(),
		VMID:                 old.VMID,
		SnapshotID:           old.SnapshotID,
		ProjectID:            old.ProjectID,
		Mode:                 old.Mode,
		IPStrategy:           ipStrategy,
		ManualIPs:            old.ManualIPs,
		CleanupOldStorage:    old.CleanupOldStorage,
		DeleteSourceSnapshot: old.DeleteSourceSnapshot,
		SecurityGroupIDs:     old.SecurityGroupIDs,
		Plan:                 planJSON,
		RequestedBy:          old.RequestedBy,
	}

	for i := firstIncomplete; i < len(old.Steps); i++ {
		newJob.Steps = append(newJob.Steps, store.RestoreStep{
			Ordinal: len(newJob.Steps) + 1,
			Kind:    old.Steps[i].Kind,
			Status:  store.StepPending,
		})
	}
	if len(newJob.Steps) == 0 {
		return nil, errs.New(errs.KindConflict, "old job has no incomplete steps to retry")
	}

	if err := e.Store.InsertRestoreJob(ctx, newJob); err != nil {
		return nil, err
	}
	return newJob, nil
}
