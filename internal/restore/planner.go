package restore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/skyvault-io/skyvault/internal/cloudclient"
	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// PlanInput is the planner's request body (spec.md §4.6.1).
type PlanInput struct {
	ProjectID            string
	VMID                 string
	SnapshotID           string
	Mode                 string // "NEW" | "REPLACE"
	NewVMName            string
	IPStrategy           string // "NEW_IPS" | "TRY_SAME_IPS" | "SAME_IPS_OR_FAIL" | "MANUAL_IP"
	ManualIPs            map[string]string
	SecurityGroupIDs     []string
	CleanupOldStorage    bool
	DeleteSourceSnapshot bool
	RequestedBy          string
}

// PortPlan is one planned port, pre-resolved per the IP strategy.
type PortPlan struct {
	NetworkID        string   `json:"network_id"`
	OriginalIPs      []string `json:"original_ips,omitempty"`
	RequestedIP      string   `json:"requested_ip,omitempty"`
	AvailableIPs     []string `json:"available_ips,omitempty"` // MANUAL_IP fallback: the network's subnet CIDRs, not individual free addresses
	SecurityGroupIDs []string `json:"security_group_ids,omitempty"`
}

// Plan is the structured document persisted on RestoreJob.Plan and
// surfaced to the HTTP caller.
type Plan struct {
	ProjectID            string           `json:"project_id"`
	VMID                 string           `json:"vm_id"`
	OriginalVMName       string           `json:"original_vm_name"`
	SnapshotID           string           `json:"snapshot_id"`
	Mode                 string           `json:"mode"`
	NewVMName            string           `json:"new_vm_name"`
	FlavorID             string           `json:"flavor_id"`
	UserData             string           `json:"user_data,omitempty"`
	IPStrategy           string           `json:"ip_strategy"`
	Ports                []PortPlan       `json:"ports"`
	SecurityGroupIDs     []string         `json:"security_group_ids,omitempty"`
	OriginalPortIDs      []string         `json:"original_port_ids,omitempty"`
	OriginalVolumeID     string           `json:"original_volume_id"`
	CleanupOldStorage    bool             `json:"cleanup_old_storage"`
	DeleteSourceSnapshot bool             `json:"delete_source_snapshot"`
	QuotaDelta           cloudclient.QuotaDelta `json:"quota_delta"`

	// CarriedOver holds resource IDs inherited from a prior failed
	// attempt's successful steps, set only by Retry.
	CarriedOver map[string]any `json:"carried_over,omitempty"`
}

// PlanResult is what Plan returns to the HTTP layer.
type PlanResult struct {
	Job         *store.RestoreJob
	Plan        Plan
	Warnings    []string
	QuotaOK     bool
}

// stepKind for RestoreStep.Kind, the canonical ordinal table of
// spec.md §4.6.1.
const (
	StepValidateLiveState       = "VALIDATE_LIVE_STATE"
	StepEnsureServiceUser       = "ENSURE_SERVICE_USER"
	StepQuotaCheck              = "QUOTA_CHECK"
	StepDeleteExistingVM        = "DELETE_EXISTING_VM"
	StepWaitVMDeleted           = "WAIT_VM_DELETED"
	StepCleanupOldPorts         = "CLEANUP_OLD_PORTS"
	StepCreateVolumeFromSnap    = "CREATE_VOLUME_FROM_SNAPSHOT"
	StepWaitVolumeAvailable     = "WAIT_VOLUME_AVAILABLE"
	StepCreatePorts             = "CREATE_PORTS"
	StepCreateServer            = "CREATE_SERVER"
	StepWaitServerActive        = "WAIT_SERVER_ACTIVE"
	StepFinalize                = "FINALIZE"
	StepCleanupOldStorage       = "CLEANUP_OLD_STORAGE"
)

// buildStepKinds returns the deterministic ordinal list for mode,
// exactly the table in spec.md §4.6.1.
func buildStepKinds(mode string, cleanupOldStorage bool) []string {
	kinds := []string{StepValidateLiveState, StepEnsureServiceUser, StepQuotaCheck}
	if mode == "REPLACE" {
		kinds = append(kinds, StepDeleteExistingVM, StepWaitVMDeleted, StepCleanupOldPorts)
	}
	kinds = append(kinds,
		StepCreateVolumeFromSnap, StepWaitVolumeAvailable,
		StepCreatePorts, StepCreateServer, StepWaitServerActive, StepFinalize,
	)
	if mode == "REPLACE" && cleanupOldStorage {
		kinds = append(kinds, StepCleanupOldStorage)
	}
	return kinds
}

// Plan runs the synchronous planning algorithm of spec.md §4.6.1 and
// persists a PLANNED RestoreJob plus its step rows.
func (e *Engine) Plan(ctx context.Context, in PlanInput) (*PlanResult, error) {
	admin, err := e.Sessions.GetAdminSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring admin session: %w", err)
	}

	vm, err := e.Cloud.GetServer(ctx, admin, in.VMID)
	if err != nil {
		return nil, errs.Wrap(errs.KindVMNotFound, "vm not found", err)
	}
	if vm.ProjectID != "" && vm.ProjectID != in.ProjectID {
		return nil, errs.New(errs.KindVMNotFound, "vm does not belong to the requested project")
	}

	// Boot-mode validation: only boot-from-volume VMs can be restored.
	if vm.BootVolume == "" {
		return nil, errs.New(errs.KindUnsupportedBootMode, "vm is not boot-from-volume")
	}

	snap, err := e.Cloud.GetSnapshot(ctx, admin, in.SnapshotID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSnapshotNotFound, "snapshot not found", err)
	}
	if snap.VolumeID != vm.BootVolume {
		return nil, errs.New(errs.KindSnapshotMismatch, "snapshot does not belong to a volume attached to this vm")
	}

	var warnings []string

	ports, err := e.Cloud.ListPorts(ctx, admin, map[string]string{"device_id": in.VMID})
	if err != nil {
		return nil, fmt.Errorf("enumerating vm ports: %w", err)
	}

	flavor, err := e.Cloud.GetFlavor(ctx, admin, vm.FlavorID)
	if err != nil {
		return nil, fmt.Errorf("fetching flavor: %w", err)
	}

	userData, hasUserData, err := e.Cloud.GetUserData(ctx, admin, in.VMID)
	if err != nil {
		return nil, fmt.Errorf("fetching user-data: %w", err)
	}
	if !hasUserData {
		warnings = append(warnings, "no cloud-init user-data found on source vm")
	}

	portPlans, ipWarnings, err := e.resolvePortPlans(ctx, admin, ports, in)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, ipWarnings...)

	newVMName := in.NewVMName
	if newVMName == "" {
		newVMName = vm.Name
	}

	plan := Plan{
		ProjectID:            in.ProjectID,
		VMID:                 in.VMID,
		OriginalVMName:       vm.Name,
		SnapshotID:           in.SnapshotID,
		Mode:                 in.Mode,
		NewVMName:            newVMName,
		FlavorID:             vm.FlavorID,
		UserData:             userData,
		IPStrategy:           in.IPStrategy,
		Ports:                portPlans,
		SecurityGroupIDs:     in.SecurityGroupIDs,
		OriginalVolumeID:     vm.BootVolume,
		CleanupOldStorage:    in.CleanupOldStorage,
		DeleteSourceSnapshot: in.DeleteSourceSnapshot,
		QuotaDelta: cloudclient.QuotaDelta{
			Instances: 1,
			VCPUs:     flavor.VCPUs,
			RAMMB:     flavor.RAMMB,
			Volumes:   1,
			VolumeGB:  snap.SizeGB,
		},
	}
	for _, p := range ports {
		plan.OriginalPortIDs = append(plan.OriginalPortIDs, p.ID)
	}

	quotaOK := true
	if in.Mode == "NEW" {
		quotas, err := e.Cloud.GetComputeQuotas(ctx, admin, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("checking compute quotas: %w", err)
		}
		if !quotas.Fits(plan.QuotaDelta) {
			quotaOK = false
			warnings = append(warnings, "project quota is insufficient for this restore; QUOTA_CHECK at execute time will re-verify and may fail")
		}
	}

	planJSON, err := toJSONMap(plan)
	if err != nil {
		return nil, fmt.Errorf("serializing plan: %w", err)
	}

	kinds := buildStepKinds(in.Mode, in.CleanupOldStorage)
	job := &store.RestoreJob{
		ID:                   uuid.NewString(),
		VMID:                 in.VMID,
		SnapshotID:           in.SnapshotID,
		ProjectID:            in.ProjectID,
		Mode:                 in.Mode,
		IPStrategy:           in.IPStrategy,
		ManualIPs:            store.StringMap(in.ManualIPs),
		CleanupOldStorage:    in.CleanupOldStorage,
		DeleteSourceSnapshot: in.DeleteSourceSnapshot,
		SecurityGroupIDs:     store.StringList(in.SecurityGroupIDs),
		Plan:                 planJSON,
		RequestedBy:          in.RequestedBy,
		Steps:                make([]store.RestoreStep, len(kinds)),
	}
	for i, kind := range kinds {
		job.Steps[i] = store.RestoreStep{Ordinal: i + 1, Kind: kind, Status: store.StepPending}
	}

	if err := e.Store.InsertRestoreJob(ctx, job); err != nil {
		return nil, err
	}

	return &PlanResult{Job: job, Plan: plan, Warnings: warnings, QuotaOK: quotaOK}, nil
}

// resolvePortPlans applies the IP strategy resolution table of
// spec.md §4.6.1 step 8 to each original port.
func (e *Engine) resolvePortPlans(ctx context.Context, admin cloudclient.Session, ports []cloudclient.Port, in PlanInput) ([]PortPlan, []string, error) {
	var out []PortPlan
	var warnings []string

	for _, p := range ports {
		pp := PortPlan{NetworkID: p.NetworkID, SecurityGroupIDs: in.SecurityGroupIDs}
		for _, fip := range p.FixedIPs {
			pp.OriginalIPs = append(pp.OriginalIPs, fip.IPAddress)
		}

		switch in.IPStrategy {
		case "NEW_IPS":
			// no fixed IP requested; DHCP at create time.
		case "TRY_SAME_IPS", "SAME_IPS_OR_FAIL":
			if len(pp.OriginalIPs) > 0 {
				pp.RequestedIP = pp.OriginalIPs[0]
			}
		case "MANUAL_IP":
			if ip, ok := in.ManualIPs[p.NetworkID]; ok && ip != "" {
				pp.RequestedIP = ip
			} else {
				subnets, err := e.Cloud.ListSubnets(ctx, admin, p.NetworkID)
				if err != nil {
					return nil, nil, fmt.Errorf("listing subnets for manual ip fallback: %w", err)
				}
				for _, sn := range subnets {
					pp.AvailableIPs = append(pp.AvailableIPs, sn.CIDR)
				}
				warnings = append(warnings, fmt.Sprintf("no manual ip supplied for network %s; advisory availability list attached", p.NetworkID))
			}
		default:
			return nil, nil, errs.New(errs.KindConflict, "unknown ip_strategy: "+in.IPStrategy)
		}

		out = append(out, pp)
	}
	return out, warnings, nil
}
