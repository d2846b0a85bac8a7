// Package worker implements the Snapshot Worker (C5): the single
// long-lived process that drives policy assignment, snapshot
// creation, and retention pruning on a schedule, plus the 10-second
// on-demand trigger poll.
//
// Grounded on the teacher's daemon.go (gocron scheduling,
// gocron-ui dashboard) and workflow/snapshot.go (per-volume goroutine
// fan-out, policy evaluation loop, webhook notification on failure),
// generalized from a two-cron/single-tenant shape into the four-stage
// pipeline of spec.md §4.5 operating across every tenant the Job
// Store's inventory and rule document cover.
package worker

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/notifications"
	"github.com/skyvault-io/skyvault/internal/policy"
	"github.com/skyvault-io/skyvault/internal/session"
	"github.com/skyvault-io/skyvault/internal/store"
)

// poolWidth is the bounded fan-out for per-volume snapshot operations
// within one project group (spec.md §4.5 stage C, default 8).
const poolWidth = 8

// Config is the subset of process settings the worker needs.
type Config struct {
	AutoSnapshotMaxSizeGB int
	DryRun                bool
	AssignmentChunkSize   int // rows per transaction in stage A, default 500
}

// Worker is the C5 implementation.
type Worker struct {
	Cloud    cloudclient.CloudClient
	Sessions *session.Provider
	Store    store.JobStore
	Notifier *notifications.Webhook
	Cfg      Config
	Log      *slog.Logger
	RuleDoc  *policy.RuleDocument
}

// New builds a Worker. RuleDoc may be swapped later via SetRuleDocument
// when the rule file is reloaded.
func New(cloud cloudclient.CloudClient, sessions *session.Provider, js store.JobStore, notifier *notifications.Webhook, cfg Config, log *slog.Logger) *Worker {
	if cfg.AssignmentChunkSize <= 0 {
		cfg.AssignmentChunkSize = 500
	}
	return &Worker{
		Cloud:    cloud,
		Sessions: sessions,
		Store:    js,
		Notifier: notifier,
		Cfg:      cfg,
		Log:      log,
	}
}

// SetRuleDocument installs a freshly loaded, validated rule document.
func (w *Worker) SetRuleDocument(doc *policy.RuleDocument) {
	w.RuleDoc = doc
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases and collapses runs of non-alphanumeric
// characters to a single hyphen, the way the snapshot name template
// of spec.md §4.5 stage C expects for tenant/server/volume names.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// snapshotName builds "auto-{tenant_slug}-{policy}-{server_slug}-{volume_slug}-{utc_timestamp}".
func snapshotName(tenant, policyName, server, volume string, now time.Time) string {
	parts := []string{"auto", slugify(tenant), policyName, slugify(server), slugify(volume), now.UTC().Format("20060102T150405Z")}
	return strings.Join(parts, "-")
}

// scopedSession obtains a project-scoped session, falling back to the
// admin session with a logged warning when the provider degrades
// (§4.2, §4.5 stage C.2).
func (w *Worker) scopedSession(ctx context.Context, projectID string) (cloudclient.Session, error) {
	s, err := w.Sessions.GetProjectSession(ctx, projectID)
	if err == nil {
		return s, nil
	}
	w.Log.Warn("project session degraded, falling back to admin session", "project_id", projectID, "error", err)
	return w.Sessions.GetAdminSession(ctx)
}
