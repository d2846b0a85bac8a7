package store

import (
	"context"
	"time"
)

// ErrConcurrentRestore is returned by InsertRestoreJob when a job for
// the same vm_id is already PENDING or RUNNING. The job store must
// surface this specific error, never a generic conflict (§4.3, §9).
type ErrConcurrentRestore struct{ VMID string }

func (e *ErrConcurrentRestore) Error() string {
	return "restore already in flight for vm " + e.VMID
}

// JobStore is the typed interface every component above C3 depends
// on. No caller ever issues raw SQL against the durable store.
type JobStore interface {
	InsertSnapshotRun(ctx context.Context, run *SnapshotRun) error
	AppendSnapshotRecord(ctx context.Context, runID string, rec *SnapshotRecord) error
	FinalizeSnapshotRun(ctx context.Context, runID string, final *SnapshotRunStatus) (SnapshotRunStatus, error)
	HasSnapshotToday(ctx context.Context, volumeID, policyName string) (bool, error)

	InsertRestoreJob(ctx context.Context, job *RestoreJob) error
	GetRestoreJob(ctx context.Context, jobID string) (*RestoreJob, error)
	ListRestoreJobs(ctx context.Context) ([]RestoreJob, error)
	UpdateRestoreJobStatus(ctx context.Context, jobID string, status RestoreJobStatus, result JSONMap) error
	UpdateRestoreStep(ctx context.Context, jobID string, ordinal int, status RestoreStepStatus, detail JSONMap) error
	ObserveCancellation(ctx context.Context, jobID string) (bool, error)
	RequestCancellation(ctx context.Context, jobID string) error

	ClaimNextOnDemandTrigger(ctx context.Context) (*OnDemandTrigger, error)
	InsertOnDemandTrigger(ctx context.Context, requestedBy string) (*OnDemandTrigger, error)
	UpdateTriggerProgress(ctx context.Context, triggerID uint, status OnDemandTriggerStatus, progress StepProgressList) error
	LatestTrigger(ctx context.Context) (*OnDemandTrigger, error)

	RecoverStaleJobs(ctx context.Context) error

	UpsertAssignment(ctx context.Context, a *Assignment) error
	UpsertAssignmentBatch(ctx context.Context, batch []*Assignment) error
	ListActiveAssignments(ctx context.Context) ([]Assignment, error)
	ListExclusions(ctx context.Context) ([]Exclusion, error)

	RecordInventorySyncWatermark(ctx context.Context) error
	InventorySyncWatermarkAge(ctx context.Context) (time.Duration, error)
}
