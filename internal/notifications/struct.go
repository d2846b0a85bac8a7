// Package notifications posts best-effort webhook events for failures
// the operator should know about without polling the Job Store:
// restore job failures and snapshot run partial/failed finalization.
// Generalized from the teacher's single SnapshotCreationFailure event.
package notifications

import "time"

// Webhook is a basic-auth HTTP POST notifier, unchanged from the
// teacher's implementation.
type Webhook struct {
	URL      string
	Username string
	Password string
}

// Event is anything Notify can serialize and POST.
type Event interface {
	eventKind() string
}

// SnapshotCreationFailure reports one volume's snapshot creation
// failing inside a SnapshotRun. Kept from the teacher, generalized to
// carry the window as plain timestamps instead of a policy-package
// type so this package has no dependency on internal/policy.
type SnapshotCreationFailure struct {
	Service    string    `json:"service"`
	VMName     string    `json:"virtual_machine_name,omitempty"`
	VMID       string    `json:"virtual_machine_id,omitempty"`
	VolumeID   string    `json:"volume_id"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Message    string    `json:"message"`
	WindowFrom time.Time `json:"window_start"`
	WindowTo   time.Time `json:"window_end"`
}

func (SnapshotCreationFailure) eventKind() string { return "snapshot_creation_failure" }

// SnapshotRunFinalized reports a SnapshotRun finishing as partial or
// failed. New in this core, the teacher has no notion of a run.
type SnapshotRunFinalized struct {
	Service string `json:"service"`
	RunID   string `json:"run_id"`
	RunType string `json:"run_type"`
	Status  string `json:"status"`
	Created int    `json:"created"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

func (SnapshotRunFinalized) eventKind() string { return "snapshot_run_finalized" }

// RestoreJobFailed reports a RestoreJob transitioning to FAILED.
// New in this core.
type RestoreJobFailed struct {
	Service     string `json:"service"`
	JobID       string `json:"job_id"`
	VMID        string `json:"vm_id"`
	Status      string `json:"status"`
	StepOrdinal int    `json:"step_ordinal,omitempty"`
	StepKind    string `json:"step_kind,omitempty"`
	Message     string `json:"message"`
}

func (RestoreJobFailed) eventKind() string { return "restore_job_failed" }
