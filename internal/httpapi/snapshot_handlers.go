package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// handleRunNow inserts a pending OnDemandTrigger row, picked up by the
// worker's 10s poll loop (spec.md §4.5 stage "on-demand"). Rejects with
// 409 if a trigger is already pending or running, mirroring the single-
// in-flight-trigger invariant the worker's poll assumes.
func (r *Router) handleRunNow(c *gin.Context) {
	latest, err := r.Store.LatestTrigger(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if latest != nil && (latest.Status == store.TriggerPending || latest.Status == store.TriggerRunning) {
		writeError(c, errs.New(errs.KindConflict, "an on-demand snapshot run is already pending or running"))
		return
	}

	trigger, err := r.Store.InsertOnDemandTrigger(c.Request.Context(), c.GetHeader("X-Actor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"trigger_id": trigger.ID, "status": trigger.Status})
}

func (r *Router) handleRunNowStatus(c *gin.Context) {
	trigger, err := r.Store.LatestTrigger(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if trigger == nil {
		c.JSON(http.StatusOK, gin.H{"status": "none"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trigger_id":    trigger.ID,
		"status":        trigger.Status,
		"step_progress": trigger.StepProgress,
	})
}
