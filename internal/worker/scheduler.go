package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron-ui/server"
	"github.com/go-co-op/gocron/v2"
)

// SchedulerConfig controls the main-loop cadence (spec.md §4.5).
type SchedulerConfig struct {
	PolicyAssignInterval time.Duration
	SnapshotInterval     time.Duration
	OnDemandPollInterval time.Duration // default 10s
	DashboardBindAddress string        // empty disables the dashboard
}

// Scheduler wires the worker's pipeline stages onto gocron, exactly as
// the teacher's daemon.go wires its two cron jobs, generalized to the
// four-stage pipeline plus the on-demand poll.
type Scheduler struct {
	worker *Worker
	cfg    SchedulerConfig
	sched  gocron.Scheduler
}

// NewScheduler builds and starts the gocron scheduler, registering
// every job. It does not block; call Wait or rely on the caller's own
// signal-handling loop to keep the process alive.
func NewScheduler(ctx context.Context, w *Worker, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.OnDemandPollInterval <= 0 {
		cfg.OnDemandPollInterval = 10 * time.Second
	}

	if err := w.Store.RecoverStaleJobs(ctx); err != nil {
		return nil, fmt.Errorf("recovering stale jobs at startup: %w", err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	sched := &Scheduler{worker: w, cfg: cfg, sched: s}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.OnDemandPollInterval),
		gocron.NewTask(func() {
			if _, err := w.PollOnDemandTrigger(ctx); err != nil {
				w.Log.Error("on-demand trigger cycle failed", "error", err)
			}
		}),
		gocron.WithName("on-demand trigger poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling on-demand poll: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.PolicyAssignInterval),
		gocron.NewTask(func() {
			if err := w.RunPolicyAssignment(ctx); err != nil {
				w.Log.Error("policy assignment cycle failed", "error", err)
			}
		}),
		gocron.WithName("policy assignment"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling policy assignment: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.SnapshotInterval),
		gocron.NewTask(func() {
			if _, err := w.RunSnapshotCycle(ctx, "scheduled"); err != nil {
				w.Log.Error("scheduled snapshot cycle failed", "error", err)
			}
		}),
		gocron.WithName("snapshot creation + retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("scheduling snapshot cycle: %w", err)
	}

	s.Start()
	w.Log.Info("scheduler started",
		"on_demand_poll", cfg.OnDemandPollInterval,
		"policy_assign_interval", cfg.PolicyAssignInterval,
		"snapshot_interval", cfg.SnapshotInterval)

	return sched, nil
}

// ServeDashboard blocks serving the gocron-ui live dashboard on
// cfg.DashboardBindAddress, exactly as the teacher's daemon.go does
// for operator visibility into job timing.
func (s *Scheduler) ServeDashboard() error {
	if s.cfg.DashboardBindAddress == "" {
		return nil
	}
	ui := server.NewServer(s.sched, 8080, server.WithTitle("Skyvault Worker Dashboard"))
	return http.ListenAndServe(s.cfg.DashboardBindAddress, ui.Router)
}

// Shutdown stops the scheduler gracefully.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
