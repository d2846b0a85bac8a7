package worker

import (
	"context"
	"fmt"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/policy"
	"github.com/skyvault-io/skyvault/internal/store"
)

// RunPolicyAssignment is stage A: enumerate every volume across every
// tenant via the admin session, run the rule document against each,
// and persist the resulting Assignments in chunks of
// Cfg.AssignmentChunkSize (default 500) rows per transaction.
func (w *Worker) RunPolicyAssignment(ctx context.Context) error {
	if w.RuleDoc == nil {
		return fmt.Errorf("policy assignment: no rule document loaded")
	}

	admin, err := w.Sessions.GetAdminSession(ctx)
	if err != nil {
		return fmt.Errorf("policy assignment: acquiring admin session: %w", err)
	}

	volumes, err := w.Cloud.ListVolumes(ctx, admin, nil)
	if err != nil {
		return fmt.Errorf("policy assignment: listing volumes: %w", err)
	}

	tenantNames := w.projectTenantNames(ctx)

	var pending []*store.Assignment
	assigned, excluded := 0, 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := w.Store.UpsertAssignmentBatch(ctx, pending); err != nil {
			return err
		}
		assigned += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, v := range volumes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		candidate := policy.Candidate{
			TenantName: tenantNames[v.ProjectID],
			VolumeName: v.Name,
			SizeGB:     v.SizeGB,
			Bootable:   len(v.Attachments) > 0,
			Metadata:   v.Metadata,
		}
		if candidate.TenantName == "" {
			candidate.TenantName = v.ProjectID
		}

		decision := w.RuleDoc.Evaluate(candidate)
		if !decision.Assign {
			excluded++
			continue
		}

		pending = append(pending, buildAssignment(v, decision))
		if len(pending) >= w.Cfg.AssignmentChunkSize {
			if err := flush(); err != nil {
				w.Log.Error("policy assignment: failed to persist assignment chunk", "chunk_size", w.Cfg.AssignmentChunkSize, "error", err)
				pending = pending[:0]
			}
		}
	}

	if err := flush(); err != nil {
		w.Log.Error("policy assignment: failed to persist final assignment chunk", "error", err)
	}

	w.Log.Info("policy assignment completed", "volumes_seen", len(volumes), "assigned", assigned, "excluded", excluded)
	return nil
}

// buildAssignment builds the PolicySet implied by a rule match (named
// after the rule) and the per-volume Assignment row pointing at it, for
// a caller to batch with others into one transactional chunk. The
// upsert preserves any existing operator override (gorm_store.go's
// UpsertAssignmentBatch already encodes that rule).
func buildAssignment(v cloudclient.Volume, decision policy.Decision) *store.Assignment {
	policySet := store.PolicySet{
		Name:         decision.RuleName,
		Scope:        "global",
		Policies:     store.StringList(decision.Policies),
		RetentionMap: store.IntMap(decision.Retention),
		IsActive:     true,
	}

	return &store.Assignment{
		VolumeID:     v.ID,
		PolicySet:    policySet,
		AutoSnapshot: true,
		Source:       "rule",
	}
}

// projectTenantNames returns the project_id -> tenant name map used
// for rule matching. It is always empty, so every volume falls back to
// using its raw project ID as the tenant name.
func (w *Worker) projectTenantNames(ctx context.Context) map[string]string {
	// This core has no direct accessor for InventoryResource rows on
	// the JobStore interface (the inventory table is owned and
	// populated by an external collector, per spec.md §4.5 stage B);
	// tenant-name enrichment is therefore best-effort and limited to
	// whatever the rule-match candidate already carries.
	return map[string]string{}
}
