package worker

import (
	"context"

	"github.com/skyvault-io/skyvault/internal/store"
)

// PollOnDemandTrigger claims at most one pending on_demand trigger and
// runs the full stage B/C/D pipeline against it, recording
// step_progress on the trigger row before and after the cycle (spec.md
// §4.5 main loop, step 2). Returns false when nothing was claimed.
func (w *Worker) PollOnDemandTrigger(ctx context.Context) (bool, error) {
	trigger, err := w.Store.ClaimNextOnDemandTrigger(ctx)
	if err != nil {
		return false, err
	}
	if trigger == nil {
		return false, nil
	}

	progress := store.StepProgressList{{Name: "snapshot_cycle", Status: "running"}}
	_ = w.Store.UpdateTriggerProgress(ctx, trigger.ID, store.TriggerRunning, progress)

	status, cycleErr := w.RunSnapshotCycle(ctx, "on_demand")

	finalStatus := store.TriggerCompleted
	progress[0].Status = "completed"
	if cycleErr != nil {
		finalStatus = store.TriggerFailed
		progress[0].Status = "failed"
		progress[0].Detail = cycleErr.Error()
	} else {
		progress[0].Detail = string(status)
	}
	if err := w.Store.UpdateTriggerProgress(ctx, trigger.ID, finalStatus, progress); err != nil {
		w.Log.Error("failed to persist on-demand trigger completion", "trigger_id", trigger.ID, "error", err)
	}

	return true, cycleErr
}
