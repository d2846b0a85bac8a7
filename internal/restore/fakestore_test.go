package restore

import (
	"context"
	"sync"
	"time"

	"github.com/skyvault-io/skyvault/internal/store"
)

// fakeStore is a minimal in-memory store.JobStore covering only the
// restore-job surface the Engine exercises, used so restore package
// tests don't need a sqlmock-backed GormStore for every scenario.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*store.RestoreJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*store.RestoreJob{}}
}

func (f *fakeStore) InsertSnapshotRun(ctx context.Context, run *store.SnapshotRun) error { return nil }
func (f *fakeStore) AppendSnapshotRecord(ctx context.Context, runID string, rec *store.SnapshotRecord) error {
	return nil
}
func (f *fakeStore) FinalizeSnapshotRun(ctx context.Context, runID string, final *store.SnapshotRunStatus) (store.SnapshotRunStatus, error) {
	return store.RunCompleted, nil
}
func (f *fakeStore) HasSnapshotToday(ctx context.Context, volumeID, policyName string) (bool, error) {
	return false, nil
}

func (f *fakeStore) InsertRestoreJob(ctx context.Context, job *store.RestoreJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.Status = store.JobPlanned
	cp := *job
	cp.Steps = append([]store.RestoreStep(nil), job.Steps...)
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeStore) GetRestoreJob(ctx context.Context, jobID string) (*store.RestoreJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	cp.Steps = append([]store.RestoreStep(nil), j.Steps...)
	return &cp, nil
}

func (f *fakeStore) ListRestoreJobs(ctx context.Context) ([]store.RestoreJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.RestoreJob
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) UpdateRestoreJobStatus(ctx context.Context, jobID string, status store.RestoreJobStatus, result store.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	j.Status = status
	if result != nil {
		j.Result = result
	}
	j.LastHeartbeat = time.Now().UTC()
	return nil
}

func (f *fakeStore) UpdateRestoreStep(ctx context.Context, jobID string, ordinal int, status store.RestoreStepStatus, detail store.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	for i := range j.Steps {
		if j.Steps[i].Ordinal == ordinal {
			j.Steps[i].Status = status
			if detail != nil {
				j.Steps[i].Detail = detail
			}
		}
	}
	j.LastHeartbeat = time.Now().UTC()
	return nil
}

func (f *fakeStore) ObserveCancellation(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	return j.Status == store.JobCanceled || j.CancelRequested, nil
}

func (f *fakeStore) RequestCancellation(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	switch j.Status {
	case store.JobSucceeded, store.JobFailed, store.JobCanceled, store.JobInterrupted:
		return nil
	case store.JobPlanned, store.JobPending:
		j.Status = store.JobCanceled
	default:
		j.CancelRequested = true
	}
	return nil
}

func (f *fakeStore) ClaimNextOnDemandTrigger(ctx context.Context) (*store.OnDemandTrigger, error) {
	return nil, nil
}
func (f *fakeStore) InsertOnDemandTrigger(ctx context.Context, requestedBy string) (*store.OnDemandTrigger, error) {
	return nil, nil
}
func (f *fakeStore) UpdateTriggerProgress(ctx context.Context, triggerID uint, status store.OnDemandTriggerStatus, progress store.StepProgressList) error {
	return nil
}
func (f *fakeStore) LatestTrigger(ctx context.Context) (*store.OnDemandTrigger, error) { return nil, nil }

func (f *fakeStore) RecoverStaleJobs(ctx context.Context) error { return nil }

func (f *fakeStore) UpsertAssignment(ctx context.Context, a *store.Assignment) error { return nil }
func (f *fakeStore) UpsertAssignmentBatch(ctx context.Context, batch []*store.Assignment) error {
	return nil
}
func (f *fakeStore) ListActiveAssignments(ctx context.Context) ([]store.Assignment, error) {
	return nil, nil
}
func (f *fakeStore) ListExclusions(ctx context.Context) ([]store.Exclusion, error) { return nil, nil }

func (f *fakeStore) RecordInventorySyncWatermark(ctx context.Context) error { return nil }
func (f *fakeStore) InventorySyncWatermarkAge(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

var _ store.JobStore = (*fakeStore)(nil)
