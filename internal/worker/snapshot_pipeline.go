package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/notifications"
	"github.com/skyvault-io/skyvault/internal/policy"
	"github.com/skyvault-io/skyvault/internal/store"
)

// staleInventoryBudget is the maximum age a sync watermark may have
// before stage C refuses to start (spec.md §4.5 stage B).
const staleInventoryBudget = time.Hour

// RunSnapshotCycle executes stages B, C, and D for one scheduler tick
// (scheduled or on_demand) and finalizes the SnapshotRun.
func (w *Worker) RunSnapshotCycle(ctx context.Context, runType string) (store.SnapshotRunStatus, error) {
	// Stage B: refuse to start against stale inventory, then refresh
	// the watermark (on refusal too) for the next cycle's check.
	age, err := w.Store.InventorySyncWatermarkAge(ctx)
	if err != nil {
		return "", fmt.Errorf("checking inventory sync watermark: %w", err)
	}
	if age > staleInventoryBudget {
		run := &store.SnapshotRun{ID: uuid.NewString(), RunType: runType, DryRun: w.Cfg.DryRun}
		if err := w.Store.InsertSnapshotRun(ctx, run); err != nil {
			return "", fmt.Errorf("inserting snapshot run: %w", err)
		}
		failed := store.RunFailed
		status, ferr := w.Store.FinalizeSnapshotRun(ctx, run.ID, &failed)
		if ferr != nil {
			return "", ferr
		}
		w.Log.Error("snapshot cycle refused: inventory watermark stale", "age", age, "run_id", run.ID)
		if err := w.Store.RecordInventorySyncWatermark(ctx); err != nil {
			w.Log.Error("recording inventory sync watermark after stale refusal", "error", err)
		}
		return status, fmt.Errorf("inventory watermark stale (%s old)", age)
	}
	if err := w.Store.RecordInventorySyncWatermark(ctx); err != nil {
		return "", fmt.Errorf("recording inventory sync watermark: %w", err)
	}

	run := &store.SnapshotRun{ID: uuid.NewString(), RunType: runType, DryRun: w.Cfg.DryRun}
	if err := w.Store.InsertSnapshotRun(ctx, run); err != nil {
		return "", fmt.Errorf("inserting snapshot run: %w", err)
	}
	runLog := w.Log.With("run_id", run.ID, "run_type", runType)

	assignments, err := w.Store.ListActiveAssignments(ctx)
	if err != nil {
		return "", fmt.Errorf("listing active assignments: %w", err)
	}
	exclusions, err := w.Store.ListExclusions(ctx)
	if err != nil {
		return "", fmt.Errorf("listing exclusions: %w", err)
	}
	excludedVolumes := map[string]bool{}
	now := time.Now().UTC()
	for _, e := range exclusions {
		if e.Scope == "volume" && e.Active(now) {
			excludedVolumes[e.TargetID] = true
		}
	}

	admin, err := w.Sessions.GetAdminSession(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring admin session: %w", err)
	}

	type volumeAssignment struct {
		volume     cloudclient.Volume
		assignment store.Assignment
	}
	byProject := map[string][]volumeAssignment{}
	for _, a := range assignments {
		if excludedVolumes[a.VolumeID] {
			continue
		}
		vol, err := w.Cloud.GetVolume(ctx, admin, a.VolumeID)
		if err != nil {
			runLog.Warn("stage C: could not resolve volume, skipping", "volume_id", a.VolumeID, "error", err)
			continue
		}
		byProject[vol.ProjectID] = append(byProject[vol.ProjectID], volumeAssignment{volume: vol, assignment: a})
	}

	// Stage C: process project groups sequentially (session-cache
	// locality), volumes within a group concurrently (bounded pool).
	for projectID, items := range byProject {
		if ctx.Err() != nil {
			break
		}
		sess, err := w.scopedSession(ctx, projectID)
		if err != nil {
			runLog.Error("stage C: no usable session for project, skipping group", "project_id", projectID, "error", err)
			continue
		}

		sem := make(chan struct{}, poolWidth)
		var wg sync.WaitGroup
		for _, item := range items {
			item := item
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.processVolumeAssignment(ctx, run.ID, sess, item.volume, item.assignment, runLog)
			}()
		}
		wg.Wait()
	}

	// Stage D: retention pruning runs after creation for every
	// assignment, not only ones stage C actually touched this cycle.
	for _, a := range assignments {
		if excludedVolumes[a.VolumeID] {
			continue
		}
		for policyName := range a.PolicySet.RetentionMap {
			w.pruneRetention(ctx, run.ID, admin, a.VolumeID, policyName, a.PolicySet.RetentionMap, runLog)
		}
	}

	status, err := w.Store.FinalizeSnapshotRun(ctx, run.ID, nil)
	if err != nil {
		return "", fmt.Errorf("finalizing snapshot run: %w", err)
	}

	if (status == store.RunPartial || status == store.RunFailed) && w.Notifier != nil {
		_ = w.Notifier.Notify(notifications.SnapshotRunFinalized{
			Service: "skyvault", RunID: run.ID, RunType: runType, Status: string(status),
		})
	}

	runLog.Info("snapshot cycle finalized", "status", status)
	return status, nil
}

// processVolumeAssignment applies every policy name on one assignment
// to one volume: size guard, calendar gate, dedup, then creation.
func (w *Worker) processVolumeAssignment(ctx context.Context, runID string, sess cloudclient.Session, vol cloudclient.Volume, a store.Assignment, log interface {
	Warn(string, ...any)
	Info(string, ...any)
	Error(string, ...any)
}) {
	for _, policyName := range a.PolicySet.Policies {
		rec := &store.SnapshotRecord{VolumeID: vol.ID, PolicyName: policyName}

		if vol.SizeGB > w.Cfg.AutoSnapshotMaxSizeGB {
			rec.Action = "skipped"
			reason := "oversized"
			rec.Reason = &reason
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			continue
		}

		if !policy.GateMatches(policyName, time.Now()) {
			rec.Action = "skipped"
			reason := "not_scheduled"
			rec.Reason = &reason
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			continue
		}

		already, err := w.Store.HasSnapshotToday(ctx, vol.ID, policyName)
		if err != nil {
			log.Error("has_snapshot_today check failed", "volume_id", vol.ID, "error", err)
			continue
		}
		if already {
			rec.Action = "skipped"
			reason := "already_today"
			rec.Reason = &reason
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			continue
		}

		serverSlug := "unattached"
		if len(vol.Attachments) > 0 {
			serverSlug = vol.Attachments[0].ServerID
		}
		name := snapshotName(vol.ProjectID, policyName, serverSlug, vol.Name, time.Now())
		meta := map[string]string{"created_by": "auto", "policy": policyName}

		snap, err := w.Cloud.CreateSnapshot(ctx, sess, vol.ID, name, meta)
		switch {
		case err == nil:
			rec.Action = "created"
			rec.RemoteSnapshotID = &snap.ID
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			log.Info("snapshot created", "volume_id", vol.ID, "policy", policyName, "snapshot_id", snap.ID)
		case errs.Is(err, errs.KindSizeRejected):
			rec.Action = "skipped"
			reason := "size_rejected"
			rec.Reason = &reason
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			log.Warn("snapshot creation rejected for size, skipped not failed", "volume_id", vol.ID, "policy", policyName)
		default:
			rec.Action = "failed"
			reason := err.Error()
			rec.Reason = &reason
			_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
			log.Error("snapshot creation failed", "volume_id", vol.ID, "policy", policyName, "error", err)
		}
	}
}

// pruneRetention lists every auto-managed snapshot for (volume,
// policy), sorts newest first, and deletes everything past the
// configured retention count. Runs after creation so the just-created
// snapshot counts toward the budget (spec.md §4.5 stage D).
func (w *Worker) pruneRetention(ctx context.Context, runID string, sess cloudclient.Session, volumeID, policyName string, retention map[string]int, log interface {
	Warn(string, ...any)
	Info(string, ...any)
	Error(string, ...any)
}) {
	keep, ok := retention[policyName]
	if !ok || keep <= 0 {
		return
	}

	snaps, err := w.Cloud.ListSnapshots(ctx, sess, volumeID)
	if err != nil {
		log.Warn("retention pruning: could not list snapshots", "volume_id", volumeID, "error", err)
		return
	}

	var managed []cloudclient.Snapshot
	for _, s := range snaps {
		if s.Metadata["created_by"] == "auto" && s.Metadata["policy"] == policyName {
			managed = append(managed, s)
		}
	}
	sort.Slice(managed, func(i, j int) bool { return managed[i].CreatedAt.After(managed[j].CreatedAt) })

	if len(managed) <= keep {
		return
	}
	for _, surplus := range managed[keep:] {
		rec := &store.SnapshotRecord{VolumeID: volumeID, PolicyName: policyName, RemoteSnapshotID: &surplus.ID}
		if err := w.Cloud.DeleteSnapshot(ctx, sess, surplus.ID); err != nil {
			rec.Action = "failed"
			reason := "retention delete failed: " + err.Error()
			rec.Reason = &reason
		} else {
			rec.Action = "deleted"
		}
		_ = w.Store.AppendSnapshotRecord(ctx, runID, rec)
	}
}
