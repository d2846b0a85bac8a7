package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/restore"
)

// bindOptionalJSON binds a request body that may legitimately be
// empty (every body field here defaults to its zero value).
func bindOptionalJSON(c *gin.Context, out any) error {
	err := c.ShouldBindJSON(out)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// planRequest mirrors spec.md §4.6.1's plan input body.
type planRequest struct {
	ProjectID            string            `json:"project_id" binding:"required"`
	VMID                 string            `json:"vm_id" binding:"required"`
	SnapshotID           string            `json:"snapshot_id" binding:"required"`
	Mode                 string            `json:"mode" binding:"required"`
	NewVMName            string            `json:"new_vm_name"`
	IPStrategy           string            `json:"ip_strategy" binding:"required"`
	ManualIPs            map[string]string `json:"manual_ips"`
	SecurityGroupIDs     []string          `json:"security_group_ids"`
	CleanupOldStorage    bool              `json:"cleanup_old_storage"`
	DeleteSourceSnapshot bool              `json:"delete_source_snapshot"`
}

func (r *Router) handlePlan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := r.Restore.Plan(c.Request.Context(), restore.PlanInput{
		ProjectID:            req.ProjectID,
		VMID:                 req.VMID,
		SnapshotID:           req.SnapshotID,
		Mode:                 req.Mode,
		NewVMName:            req.NewVMName,
		IPStrategy:           req.IPStrategy,
		ManualIPs:            req.ManualIPs,
		SecurityGroupIDs:     req.SecurityGroupIDs,
		CleanupOldStorage:    req.CleanupOldStorage,
		DeleteSourceSnapshot: req.DeleteSourceSnapshot,
		RequestedBy:          c.GetHeader("X-Actor"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":      result.Job.ID,
		"plan":        result.Plan,
		"warnings":    result.Warnings,
		"quota_check": result.QuotaOK,
	})
}

type executeRequest struct {
	JobID              string `json:"job_id" binding:"required"`
	ConfirmDestructive string `json:"confirm_destructive"`
}

func (r *Router) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.Restore.Execute(c.Request.Context(), req.JobID, req.ConfirmDestructive); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": req.JobID, "status": "PENDING"})
}

func (r *Router) handleCancel(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := r.Restore.Cancel(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "cancellation_requested": true})
}

type retryRequest struct {
	IPStrategyOverride string `json:"ip_strategy_override"`
}

func (r *Router) handleRetry(c *gin.Context) {
	var req retryRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := r.Restore.Retry(c.Request.Context(), c.Param("job_id"), req.IPStrategyOverride)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type cleanupRequest struct {
	DeleteVolume bool `json:"delete_volume"`
}

func (r *Router) handleCleanup(c *gin.Context) {
	var req cleanupRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := r.Restore.Cleanup(c.Request.Context(), c.Param("job_id"), req.DeleteVolume)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type cleanupStorageRequest struct {
	DeleteOldVolume      bool `json:"delete_old_volume"`
	DeleteSourceSnapshot bool `json:"delete_source_snapshot"`
}

func (r *Router) handleCleanupStorage(c *gin.Context) {
	var req cleanupStorageRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := r.Restore.CleanupStorage(c.Request.Context(), c.Param("job_id"), req.DeleteOldVolume, req.DeleteSourceSnapshot)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleListJobs(c *gin.Context) {
	jobs, err := r.Store.ListRestoreJobs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (r *Router) handleGetJob(c *gin.Context) {
	job, err := r.Store.GetRestoreJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if job == nil {
		writeError(c, errs.New(errs.KindNotFound, "restore job not found"))
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleRestorePoints lists the candidate snapshots for a VM's boot
// volume, the read-only accessor spec.md §6.1 names, backed directly
// by C1 rather than any locally cached table.
func (r *Router) handleRestorePoints(c *gin.Context) {
	vmID := c.Param("vm_id")
	admin, err := r.Restore.Sessions.GetAdminSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	vm, err := r.Restore.Cloud.GetServer(c.Request.Context(), admin, vmID)
	if err != nil {
		writeError(c, err)
		return
	}
	if vm.BootVolume == "" {
		writeError(c, errs.New(errs.KindUnsupportedBootMode, "vm is not boot-from-volume"))
		return
	}

	snaps, err := r.Restore.Cloud.ListSnapshots(c.Request.Context(), admin, vm.BootVolume)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vm_id": vmID, "volume_id": vm.BootVolume, "restore_points": snaps})
}

// handleAvailableIPs reports a network's subnet CIDRs and how many
// fixed IPs its ports currently hold, as a standalone read for callers
// building a MANUAL_IP request body. Individual free addresses are not
// enumerated.
func (r *Router) handleAvailableIPs(c *gin.Context) {
	networkID := c.Param("network_id")
	admin, err := r.Restore.Sessions.GetAdminSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	subnets, err := r.Restore.Cloud.ListSubnets(c.Request.Context(), admin, networkID)
	if err != nil {
		writeError(c, err)
		return
	}

	used := map[string]bool{}
	ports, err := r.Restore.Cloud.ListPorts(c.Request.Context(), admin, map[string]string{"network_id": networkID})
	if err != nil {
		writeError(c, err)
		return
	}
	for _, p := range ports {
		for _, fip := range p.FixedIPs {
			used[fip.IPAddress] = true
		}
	}

	var cidrs []string
	for _, sn := range subnets {
		cidrs = append(cidrs, sn.CIDR)
	}
	c.JSON(http.StatusOK, gin.H{"network_id": networkID, "subnet_cidrs": cidrs, "in_use_count": len(used)})
}
