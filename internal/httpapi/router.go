// Package httpapi is the thin HTTP surface of spec.md §6.1: every
// handler validates its input, calls into restore.Engine / worker.Worker
// / store.JobStore, and marshals the result. No business logic lives
// here: that is the whole point of the split from internal/restore
// and internal/worker.
//
// Grounded on the sendense/migratekit reference pack's use of
// gin-gonic/gin for its job-control API (no gin usage survives in the
// teacher, which has no HTTP surface at all and is a pure CLI/cron
// daemon, so this package's shape is new, but the library choice is
// pulled from the rest of the corpus rather than introduced from
// outside it).
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyvault-io/skyvault/internal/restore"
	"github.com/skyvault-io/skyvault/internal/store"
	"github.com/skyvault-io/skyvault/internal/worker"
)

// Router bundles the collaborators every handler needs.
type Router struct {
	Restore        *restore.Engine
	Worker         *worker.Worker
	Store          store.JobStore
	RestoreEnabled bool
	Log            *slog.Logger
}

// New builds the gin engine with every route of spec.md §6.1 wired.
func New(restoreEngine *restore.Engine, w *worker.Worker, js store.JobStore, restoreEnabled bool, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{Restore: restoreEngine, Worker: w, Store: js, RestoreEnabled: restoreEnabled, Log: log}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), r.requestLogger())

	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	restoreGroup := engine.Group("/restore", r.requireRestoreEnabled())
	restoreGroup.POST("/plan", r.handlePlan)
	restoreGroup.POST("/execute", r.handleExecute)
	restoreGroup.POST("/cancel/:job_id", r.handleCancel)
	restoreGroup.POST("/jobs/:job_id/retry", r.handleRetry)
	restoreGroup.POST("/jobs/:job_id/cleanup", r.handleCleanup)
	restoreGroup.POST("/jobs/:job_id/cleanup-storage", r.handleCleanupStorage)
	restoreGroup.GET("/jobs", r.handleListJobs)
	restoreGroup.GET("/jobs/:job_id", r.handleGetJob)
	restoreGroup.GET("/vm/:vm_id/restore-points", r.handleRestorePoints)
	restoreGroup.GET("/networks/:network_id/available-ips", r.handleAvailableIPs)

	snapshotGroup := engine.Group("/snapshot")
	snapshotGroup.POST("/run-now", r.handleRunNow)
	snapshotGroup.GET("/run-now/status", r.handleRunNowStatus)

	return engine
}

// requestLogger mirrors the teacher's component-scoped slog usage:
// one structured line per request instead of gin's default text logger.
func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		r.Log.Info("http request",
			"method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "actor", c.GetHeader("X-Actor"))
	}
}

// requireRestoreEnabled implements the feature-flag gate of §6.1: when
// RESTORE_ENABLED is false, every restore endpoint refuses uniformly.
func (r *Router) requireRestoreEnabled() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.RestoreEnabled {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "feature disabled"})
			return
		}
		c.Next()
	}
}
