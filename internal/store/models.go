// Package store is the Job Store (C3): the durable backbone for
// snapshot runs, snapshot records, restore jobs, restore steps, and
// on-demand triggers. It exposes typed operations (JobStore), never
// raw SQL, so callers cannot violate the invariants in §3/§4.3.
//
// Grounded on the sendense/migratekit reference pack's GORM usage
// (database.Connection.GetGormDB()... patterns in
// enhanced_cleanup_service.go / failed_execution_cleanup_service.go).
package store

import (
	"time"

	"gorm.io/gorm"
)

// InventoryResource is the read-only view of one remote cloud object
// the inventory collector maintains; the core never writes to it.
type InventoryResource struct {
	ID         string `gorm:"primaryKey"`
	Kind       string `gorm:"index"` // Project, Server, Volume, Snapshot, Network, Subnet, Port, FloatingIP, Flavor, Image, SecurityGroup
	ProjectID  string `gorm:"index"`
	DomainID   string
	Status     string
	Attributes JSONMap `gorm:"type:json"`
	UpdatedAt  time.Time
}

// PolicySet is a named set of retention policies.
type PolicySet struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex"`
	Scope        string // "global" or a tenant ID
	Policies     StringList `gorm:"type:json"`
	RetentionMap IntMap     `gorm:"type:json"`
	Priority     int
	IsActive     bool
}

// Assignment binds one volume to a policy set.
type Assignment struct {
	ID          uint   `gorm:"primaryKey"`
	VolumeID    string `gorm:"uniqueIndex"`
	PolicySetID uint
	PolicySet   PolicySet
	AutoSnapshot bool
	Source      string // "rule" or "operator"
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exclusion is a volume or project opted out of snapshotting.
type Exclusion struct {
	ID        uint   `gorm:"primaryKey"`
	Scope     string // "volume" or "project"
	TargetID  string `gorm:"index"`
	ExpiresAt *time.Time
}

// Active reports whether the exclusion currently applies.
func (e Exclusion) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// SnapshotRunStatus is the closed set of SnapshotRun.Status values.
type SnapshotRunStatus string

const (
	RunRunning   SnapshotRunStatus = "running"
	RunCompleted SnapshotRunStatus = "completed"
	RunPartial   SnapshotRunStatus = "partial"
	RunFailed    SnapshotRunStatus = "failed"
)

// SnapshotRun is one execution of the scheduler loop.
type SnapshotRun struct {
	ID         string `gorm:"primaryKey"`
	RunType    string // "scheduled" | "on_demand"
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     SnapshotRunStatus
	Created    int
	Deleted    int
	Failed     int
	Skipped    int
	DryRun     bool

	Records []SnapshotRecord `gorm:"constraint:OnDelete:CASCADE"`
}

// SnapshotRecord is one action taken against one volume inside one run.
type SnapshotRecord struct {
	ID               uint   `gorm:"primaryKey"`
	RunID            string `gorm:"index:idx_dedup,priority:1"`
	VolumeID         string `gorm:"index:idx_dedup,priority:2"`
	PolicyName       string `gorm:"index:idx_dedup,priority:3"`
	Action           string // "created" | "deleted" | "skipped" | "failed"
	RemoteSnapshotID *string
	Reason           *string
	CreatedAt        time.Time
}

// OnDemandTriggerStatus is the closed set of OnDemandTrigger.Status values.
type OnDemandTriggerStatus string

const (
	TriggerPending   OnDemandTriggerStatus = "pending"
	TriggerRunning   OnDemandTriggerStatus = "running"
	TriggerCompleted OnDemandTriggerStatus = "completed"
	TriggerFailed    OnDemandTriggerStatus = "failed"
)

// StepProgressEntry is one entry in an OnDemandTrigger's step_progress bag.
type StepProgressEntry struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// OnDemandTrigger is the cross-process signal row inserted by the
// HTTP layer and claimed by the worker.
type OnDemandTrigger struct {
	ID           uint   `gorm:"primaryKey"`
	RequestedBy  string
	Status       OnDemandTriggerStatus
	StepProgress StepProgressList `gorm:"type:json"`
	CreatedAt    time.Time
}

// RestoreJobStatus is the closed set of RestoreJob.Status values (§4.6.2).
type RestoreJobStatus string

const (
	JobPlanned     RestoreJobStatus = "PLANNED"
	JobPending     RestoreJobStatus = "PENDING"
	JobRunning     RestoreJobStatus = "RUNNING"
	JobSucceeded   RestoreJobStatus = "SUCCEEDED"
	JobFailed      RestoreJobStatus = "FAILED"
	JobCanceled    RestoreJobStatus = "CANCELED"
	JobInterrupted RestoreJobStatus = "INTERRUPTED"
)

// InFlightStatuses is the set the unique job-per-VM guard applies to.
var InFlightStatuses = []RestoreJobStatus{JobPending, JobRunning}

// RestoreJob is one restore attempt.
type RestoreJob struct {
	ID                   string `gorm:"primaryKey"`
	VMID                 string `gorm:"index"`
	SnapshotID           string
	ProjectID            string
	Mode                 string // "NEW" | "REPLACE"
	IPStrategy           string // "NEW_IPS" | "TRY_SAME_IPS" | "SAME_IPS_OR_FAIL" | "MANUAL_IP"
	ManualIPs            StringMap `gorm:"type:json"`
	CleanupOldStorage    bool
	DeleteSourceSnapshot bool
	SecurityGroupIDs     StringList `gorm:"type:json"`
	Status               RestoreJobStatus
	Plan                 JSONMap `gorm:"type:json"`
	Result               JSONMap `gorm:"type:json"`
	RequestedBy          string
	LastHeartbeat        time.Time
	CancelRequested      bool
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Steps []RestoreStep `gorm:"constraint:OnDelete:CASCADE"`
}

// RestoreStepStatus is the closed set of RestoreStep.Status values.
type RestoreStepStatus string

const (
	StepPending   RestoreStepStatus = "PENDING"
	StepRunning   RestoreStepStatus = "RUNNING"
	StepSucceeded RestoreStepStatus = "SUCCEEDED"
	StepFailed    RestoreStepStatus = "FAILED"
	StepSkipped   RestoreStepStatus = "SKIPPED"
)

// RestoreStep is one row per step inside a job's plan.
type RestoreStep struct {
	ID         uint   `gorm:"primaryKey"`
	JobID      string `gorm:"index:idx_job_ordinal,priority:1"`
	Ordinal    int    `gorm:"index:idx_job_ordinal,priority:2"`
	Kind       string
	Status     RestoreStepStatus
	Detail     JSONMap `gorm:"type:json"`
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// SyncWatermark is the single-row marker stage B writes after emitting
// its inventory-refresh signal; stage C reads it to refuse starting
// against inventory older than one hour.
type SyncWatermark struct {
	ID        uint `gorm:"primaryKey"`
	UpdatedAt time.Time
}

// AutoMigrate registers every model with GORM's schema migrator.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&InventoryResource{},
		&PolicySet{},
		&Assignment{},
		&Exclusion{},
		&SnapshotRun{},
		&SnapshotRecord{},
		&OnDemandTrigger{},
		&RestoreJob{},
		&RestoreStep{},
		&SyncWatermark{},
	)
}
