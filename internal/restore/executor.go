package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/notifications"
	"github.com/skyvault-io/skyvault/internal/store"
)

// Execute validates the confirmation phrase (REPLACE mode only),
// transitions the job PLANNED -> PENDING, and launches the step-machine
// in a background goroutine. It returns as soon as the transition is
// recorded. Execution itself is asynchronous (spec.md §4.6.2, §6.1).
func (e *Engine) Execute(ctx context.Context, jobID, confirmDestructive string) error {
	job, err := e.Store.GetRestoreJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return errs.New(errs.KindNotFound, "restore job not found: "+jobID)
	}
	if job.Status != store.JobPlanned {
		return errs.New(errs.KindConflict, "job is not in PLANNED state")
	}

	if job.Mode == "REPLACE" {
		var plan Plan
		if err := decodePlan(job.Plan, &plan); err != nil {
			return fmt.Errorf("decoding plan: %w", err)
		}
		want := "DELETE AND RESTORE " + plan.OriginalVMName
		if confirmDestructive != want {
			return errs.New(errs.KindConfirmationRequired, "confirm_destructive does not match the required phrase")
		}
	}

	if err := e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobPending, nil); err != nil {
		return err
	}

	go e.runJob(context.WithoutCancel(ctx), jobID)
	return nil
}

// runJob is the single background task per job (spec.md §4.6.2).
func (e *Engine) runJob(ctx context.Context, jobID string) {
	log := e.Log.With("job_id", jobID)

	job, err := e.Store.GetRestoreJob(ctx, jobID)
	if err != nil || job == nil {
		log.Error("runJob: failed to reload job", "error", err)
		return
	}

	var plan Plan
	if err := decodePlan(job.Plan, &plan); err != nil {
		log.Error("runJob: failed to decode plan", "error", err)
		_ = e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobFailed, store.JSONMap{"error": err.Error()})
		return
	}

	admin, err := e.Sessions.GetAdminSession(ctx)
	if err != nil {
		log.Error("runJob: failed to acquire admin session", "error", err)
		_ = e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobFailed, store.JSONMap{"error": err.Error()})
		return
	}

	if err := e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobRunning, nil); err != nil {
		log.Error("runJob: failed to transition to RUNNING", "error", err)
		return
	}

	st := &runState{job: job, plan: plan, admin: admin, sess: admin}
	primeCarriedOver(st, plan.CarriedOver)

	for _, step := range job.Steps {
		if step.Status != store.StepPending {
			continue // resumed job: earlier steps already SUCCEEDED.
		}

		canceled, err := e.Store.ObserveCancellation(ctx, jobID)
		if err != nil {
			log.Error("runJob: cancellation check failed", "error", err)
		}
		if canceled {
			rollback(ctx, e, st, log)
			_ = e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepSkipped, nil)
			_ = e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobCanceled, store.JSONMap{"canceled_at_step": step.Kind})
			log.Info("job canceled", "at_step", step.Kind)
			return
		}

		if err := e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepRunning, nil); err != nil {
			log.Error("runJob: failed to mark step running", "step", step.Kind, "error", err)
			return
		}

		handler, ok := stepHandlers[step.Kind]
		if !ok {
			log.Error("runJob: no handler registered for step kind", "kind", step.Kind)
			_ = e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepFailed, store.JSONMap{"error": "no handler for step kind " + step.Kind})
			e.finishFailed(ctx, jobID, st, step.Kind, "no handler for step kind "+step.Kind, log)
			return
		}

		detail, herr := handler(ctx, e, st)
		if herr != nil {
			if errors.Is(herr, errCanceled) {
				rollback(ctx, e, st, log)
				_ = e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepSkipped, nil)
				_ = e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobCanceled, store.JSONMap{"canceled_at_step": step.Kind})
				log.Info("job canceled", "at_step", step.Kind)
				return
			}
			if step.Kind == StepCleanupOldStorage {
				// non-fatal by contract; record and still succeed.
				_ = e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepSucceeded, store.JSONMap{"note": herr.Error()})
				continue
			}
			_ = e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepFailed, store.JSONMap{"error": herr.Error()})
			rollback(ctx, e, st, log)
			e.finishFailed(ctx, jobID, st, step.Kind, herr.Error(), log)
			return
		}

		if err := e.Store.UpdateRestoreStep(ctx, jobID, step.Ordinal, store.StepSucceeded, detail); err != nil {
			log.Error("runJob: failed to persist step success", "step", step.Kind, "error", err)
			return
		}
	}

	result := store.JSONMap{
		"server_id": st.newServerID,
		"volume_id": st.newVolumeID,
		"port_ids":  st.newPortIDs,
		"warnings":  st.warnings,
	}
	if err := e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobSucceeded, result); err != nil {
		log.Error("runJob: failed to finalize success", "error", err)
		return
	}
	log.Info("restore job succeeded", "server_id", st.newServerID)
}

func (e *Engine) finishFailed(ctx context.Context, jobID string, st *runState, failedStep, reason string, log interface {
	Error(string, ...any)
}) {
	result := store.JSONMap{"failed_step": failedStep, "reason": reason}
	if err := e.Store.UpdateRestoreJobStatus(ctx, jobID, store.JobFailed, result); err != nil {
		log.Error("runJob: failed to persist job failure", "error", err)
	}
	if e.Notifier != nil {
		_ = e.Notifier.Notify(notifications.RestoreJobFailed{
			Service: "skyvault", JobID: jobID, VMID: st.job.VMID, Status: string(store.JobFailed),
			StepKind: failedStep, Message: reason,
		})
	}
}

// primeCarriedOver seeds runState with resource IDs a retried job
// inherited from its predecessor's already-succeeded steps, since
// those steps are not re-run and would otherwise leave st empty for
// the handlers that assume a prior step populated it.
func primeCarriedOver(st *runState, carried map[string]any) {
	if carried == nil {
		return
	}
	if v, ok := carried["volume_id"].(string); ok {
		st.newVolumeID = v
	}
	if v, ok := carried["server_id"].(string); ok {
		st.newServerID = v
	}
	if v, ok := carried["port_ids"].([]any); ok {
		for _, id := range v {
			if s, ok := id.(string); ok {
				st.newPortIDs = append(st.newPortIDs, s)
			}
		}
	}
	if v, ok := carried["deleted_port_ids"].([]any); ok {
		for _, id := range v {
			if s, ok := id.(string); ok {
				st.deletedPortIDs = append(st.deletedPortIDs, s)
			}
		}
	}
	if v, ok := carried["port_ips"].(map[string]any); ok {
		st.newPortIPs = map[string]string{}
		for k, val := range v {
			if s, ok := val.(string); ok {
				st.newPortIPs[k] = s
			}
		}
	}
}

func decodePlan(m store.JSONMap, out *Plan) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
