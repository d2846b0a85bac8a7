package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

// GormStore is the gorm.io/gorm + jmoiron/sqlx backed JobStore.
// GORM models handle the typed CRUD operations and the row-locking
// transactions (including claim_next_on_demand_trigger); sqlx issues
// the raw has_snapshot_today query.
type GormStore struct {
	db   *gorm.DB
	sqlx *sqlx.DB
}

// New wraps an already-open GORM handle. sqlDB is the database/sql
// handle GORM was built from, reused by sqlx for the raw statements.
func New(db *gorm.DB, sqlDB *sqlx.DB) *GormStore {
	return &GormStore{db: db, sqlx: sqlDB}
}

func (g *GormStore) InsertSnapshotRun(ctx context.Context, run *SnapshotRun) error {
	run.Status = RunRunning
	run.StartedAt = time.Now().UTC()
	return g.db.WithContext(ctx).Create(run).Error
}

// AppendSnapshotRecord inserts the record and bumps the parent run's
// counters atomically, inside one transaction.
func (g *GormStore) AppendSnapshotRecord(ctx context.Context, runID string, rec *SnapshotRecord) error {
	rec.RunID = runID
	rec.CreatedAt = time.Now().UTC()
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		column := map[string]string{
			"created": "created",
			"deleted": "deleted",
			"failed":  "failed",
			"skipped": "skipped",
		}[rec.Action]
		if column == "" {
			return nil
		}
		return tx.Model(&SnapshotRun{}).Where("id = ?", runID).
			Update(column, gorm.Expr(column+" + 1")).Error
	})
}

// FinalizeSnapshotRun computes the final status from counters per the
// §4.3 rule (failed if created=0 ∧ failed>0; partial if failed>0 ∧
// created>0; else completed) unless an explicit status is supplied.
func (g *GormStore) FinalizeSnapshotRun(ctx context.Context, runID string, final *SnapshotRunStatus) (SnapshotRunStatus, error) {
	var run SnapshotRun
	if err := g.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return "", err
	}

	status := RunCompleted
	if final != nil {
		status = *final
	} else {
		switch {
		case run.Created == 0 && run.Failed > 0:
			status = RunFailed
		case run.Failed > 0 && run.Created > 0:
			status = RunPartial
		default:
			status = RunCompleted
		}
	}

	now := time.Now().UTC()
	if err := g.db.WithContext(ctx).Model(&SnapshotRun{}).Where("id = ?", runID).
		Updates(map[string]any{"status": status, "finished_at": now}).Error; err != nil {
		return "", err
	}
	return status, nil
}

// HasSnapshotToday checks the has_snapshot_today predicate (§4.3
// dedup invariant) via a single COUNT against the current UTC
// calendar day, issued through sqlx for an unambiguous date-boundary
// expression independent of GORM's query builder.
func (g *GormStore) HasSnapshotToday(ctx context.Context, volumeID, policyName string) (bool, error) {
	var count int
	err := g.sqlx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM snapshot_records
		WHERE volume_id = ? AND policy_name = ? AND action = 'created'
		  AND created_at >= UTC_DATE() AND created_at < UTC_DATE() + INTERVAL 1 DAY
	`, volumeID, policyName)
	if err != nil {
		return false, fmt.Errorf("has_snapshot_today: %w", err)
	}
	return count > 0, nil
}

// InsertRestoreJob enforces "at most one job per vm_id in
// {PENDING, RUNNING}" with a SELECT ... FOR UPDATE existence check
// inside the insert transaction, since MySQL has no partial unique
// index to push the invariant into the storage engine directly (see
// DESIGN.md Open Question resolution).
func (g *GormStore) InsertRestoreJob(ctx context.Context, job *RestoreJob) error {
	job.Status = JobPlanned
	job.LastHeartbeat = time.Now().UTC()
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&RestoreJob{}).
			Where("vm_id = ? AND status IN ?", job.VMID, InFlightStatuses).
			Clauses(lockingClause()).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return &ErrConcurrentRestore{VMID: job.VMID}
		}
		return tx.Create(job).Error
	})
}

func (g *GormStore) GetRestoreJob(ctx context.Context, jobID string) (*RestoreJob, error) {
	var job RestoreJob
	if err := g.db.WithContext(ctx).Preload("Steps").First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (g *GormStore) ListRestoreJobs(ctx context.Context) ([]RestoreJob, error) {
	var jobs []RestoreJob
	err := g.db.WithContext(ctx).Order("created_at desc").Find(&jobs).Error
	return jobs, err
}

func (g *GormStore) UpdateRestoreJobStatus(ctx context.Context, jobID string, status RestoreJobStatus, result JSONMap) error {
	updates := map[string]any{"status": status, "last_heartbeat": time.Now().UTC()}
	if result != nil {
		updates["result"] = result
	}
	return g.db.WithContext(ctx).Model(&RestoreJob{}).Where("id = ?", jobID).Updates(updates).Error
}

func (g *GormStore) UpdateRestoreStep(ctx context.Context, jobID string, ordinal int, status RestoreStepStatus, detail JSONMap) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		updates := map[string]any{"status": status, "detail": detail}
		if status == StepRunning {
			updates["started_at"] = now
		}
		if status == StepSucceeded || status == StepFailed || status == StepSkipped {
			updates["finished_at"] = now
		}
		if err := tx.Model(&RestoreStep{}).
			Where("job_id = ? AND ordinal = ?", jobID, ordinal).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.Model(&RestoreJob{}).Where("id = ?", jobID).
			Update("last_heartbeat", now).Error
	})
}

func (g *GormStore) ObserveCancellation(ctx context.Context, jobID string) (bool, error) {
	var job RestoreJob
	if err := g.db.WithContext(ctx).Select("status", "cancel_requested").First(&job, "id = ?", jobID).Error; err != nil {
		return false, err
	}
	return job.Status == JobCanceled || job.CancelRequested, nil
}

// RequestCancellation is idempotent: cancelling a job already in a
// terminal state is a no-op (§8.6). PLANNED/PENDING jobs transition
// to CANCELED directly since no executor is running yet; RUNNING jobs
// are flagged and the executor performs rollback-equivalent cleanup
// before transitioning itself.
func (g *GormStore) RequestCancellation(ctx context.Context, jobID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job RestoreJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return err
		}
		switch job.Status {
		case JobSucceeded, JobFailed, JobCanceled, JobInterrupted:
			return nil // terminal: no-op.
		case JobPlanned, JobPending:
			return tx.Model(&RestoreJob{}).Where("id = ?", jobID).
				Update("status", JobCanceled).Error
		default: // RUNNING
			return tx.Model(&RestoreJob{}).Where("id = ?", jobID).
				Update("cancel_requested", true).Error
		}
	})
}

// ClaimNextOnDemandTrigger atomically flips one pending trigger to
// running. Inside one transaction it selects the oldest pending row
// under a row lock (SELECT ... FOR UPDATE), then updates that row by id;
// concurrent callers race on the row lock and at most one claims it.
func (g *GormStore) ClaimNextOnDemandTrigger(ctx context.Context) (*OnDemandTrigger, error) {
	var claimed *OnDemandTrigger
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trigger OnDemandTrigger
		err := tx.Clauses(lockingClause()).
			Where("status = ?", TriggerPending).
			Order("created_at asc").
			First(&trigger).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&OnDemandTrigger{}).Where("id = ? AND status = ?", trigger.ID, TriggerPending).
			Update("status", TriggerRunning).Error; err != nil {
			return err
		}
		trigger.Status = TriggerRunning
		claimed = &trigger
		return nil
	})
	return claimed, err
}

func (g *GormStore) InsertOnDemandTrigger(ctx context.Context, requestedBy string) (*OnDemandTrigger, error) {
	var trigger *OnDemandTrigger
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&OnDemandTrigger{}).
			Where("status IN ?", []OnDemandTriggerStatus{TriggerPending, TriggerRunning}).
			Clauses(lockingClause()).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("trigger already pending or running")
		}
		t := &OnDemandTrigger{RequestedBy: requestedBy, Status: TriggerPending, CreatedAt: time.Now().UTC()}
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		trigger = t
		return nil
	})
	return trigger, err
}

func (g *GormStore) UpdateTriggerProgress(ctx context.Context, triggerID uint, status OnDemandTriggerStatus, progress StepProgressList) error {
	return g.db.WithContext(ctx).Model(&OnDemandTrigger{}).Where("id = ?", triggerID).
		Updates(map[string]any{"status": status, "step_progress": progress}).Error
}

func (g *GormStore) LatestTrigger(ctx context.Context) (*OnDemandTrigger, error) {
	var trigger OnDemandTrigger
	err := g.db.WithContext(ctx).Order("created_at desc").First(&trigger).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trigger, nil
}

// RecoverStaleJobs runs once on worker startup: every in-flight
// RestoreJob is marked INTERRUPTED and every running trigger is
// marked failed, both with reason "process restarted" (§4.3).
func (g *GormStore) RecoverStaleJobs(ctx context.Context) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&RestoreJob{}).
			Where("status IN ?", InFlightStatuses).
			Updates(map[string]any{
				"status": JobInterrupted,
				"result": JSONMap{"reason": "process restarted"},
			}).Error; err != nil {
			return err
		}
		return tx.Model(&OnDemandTrigger{}).
			Where("status = ?", TriggerRunning).
			Update("status", TriggerFailed).Error
	})
}

// upsertAssignmentTx resolves a.PolicySet to an existing row by name
// (so repeated rule matches across volumes share one PolicySet instead
// of inserting a duplicate each time), then upserts the per-volume
// Assignment, preserving any existing operator override. Runs against
// whatever *gorm.DB it is given, so callers can share one transaction
// across many assignments.
func upsertAssignmentTx(tx *gorm.DB, a *Assignment) error {
	var policySet PolicySet
	err := tx.Where("name = ?", a.PolicySet.Name).First(&policySet).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		policySet = a.PolicySet
		if err := tx.Create(&policySet).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		policySet.Policies = a.PolicySet.Policies
		policySet.RetentionMap = a.PolicySet.RetentionMap
		policySet.IsActive = a.PolicySet.IsActive
		if err := tx.Save(&policySet).Error; err != nil {
			return err
		}
	}
	a.PolicySetID = policySet.ID
	a.PolicySet = policySet

	var existing Assignment
	err = tx.Where("volume_id = ?", a.VolumeID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(a).Error
	}
	if err != nil {
		return err
	}
	if existing.Source == "operator" && a.Source != "operator" {
		// Manual operator overrides are preserved (§3 ownership rule).
		return nil
	}
	a.ID = existing.ID
	return tx.Save(a).Error
}

// UpsertAssignment upserts a single Assignment in its own transaction.
func (g *GormStore) UpsertAssignment(ctx context.Context, a *Assignment) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertAssignmentTx(tx, a)
	})
}

// UpsertAssignmentBatch upserts every Assignment in batch as one
// all-or-nothing transaction (spec.md §4.5 stage A's per-chunk
// atomicity requirement) - the caller is responsible for splitting a
// larger result set into chunks before calling this.
func (g *GormStore) UpsertAssignmentBatch(ctx context.Context, batch []*Assignment) error {
	if len(batch) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range batch {
			if err := upsertAssignmentTx(tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormStore) ListActiveAssignments(ctx context.Context) ([]Assignment, error) {
	var out []Assignment
	err := g.db.WithContext(ctx).Preload("PolicySet").
		Joins("JOIN policy_sets ON policy_sets.id = assignments.policy_set_id").
		Where("assignments.auto_snapshot = ? AND policy_sets.is_active = ?", true, true).
		Find(&out).Error
	return out, err
}

func (g *GormStore) ListExclusions(ctx context.Context) ([]Exclusion, error) {
	var out []Exclusion
	err := g.db.WithContext(ctx).Find(&out).Error
	return out, err
}

// RecordInventorySyncWatermark stamps the single watermark row with
// the current time, signaling that stage B's inventory refresh
// request has been issued (spec.md §4.5 stage B).
func (g *GormStore) RecordInventorySyncWatermark(ctx context.Context) error {
	now := time.Now().UTC()
	return g.db.WithContext(ctx).
		Clauses(onConflictUpdateWatermark()).
		Create(&SyncWatermark{ID: 1, UpdatedAt: now}).Error
}

// InventorySyncWatermarkAge returns how long ago the watermark was
// last stamped. An unset watermark is reported as an effectively
// infinite age so the caller refuses to proceed.
func (g *GormStore) InventorySyncWatermarkAge(ctx context.Context) (time.Duration, error) {
	var wm SyncWatermark
	err := g.db.WithContext(ctx).First(&wm, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Duration(1<<62) - 1, nil
	}
	if err != nil {
		return 0, err
	}
	return time.Since(wm.UpdatedAt), nil
}
