package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyvault-io/skyvault/internal/config"
	"github.com/skyvault-io/skyvault/internal/httpapi"
	"github.com/skyvault-io/skyvault/internal/worker"
)

var (
	ruleFilePath    string
	apiBindAddress  string
	dashboardPort   int
)

var daemonCommand = &cobra.Command{
	Use:     "daemon",
	Short:   "Run Skyvault in daemon mode",
	GroupID: "skyvault",
	Long:    `Starts Skyvault as a background service: the HTTP API, the scheduled worker (policy assignment, snapshot cycle, on-demand poll), and the restore executor all run in one process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		banner := fmt.Sprintf("Skyvault - Daemon Mode\n\nVersion: %s\nBuild Date: %s", SkyvaultVersion, SkyvaultDate)
		fmt.Println(headerStyle.Render(banner))

		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		ctx := context.Background()
		a, err := newApp(ctx, settings, "daemon")
		if err != nil {
			return err
		}

		if ruleFilePath != "" {
			doc, err := loadRuleDocument(ruleFilePath)
			if err != nil {
				return err
			}
			a.Worker.SetRuleDocument(doc)
		}

		sched, err := worker.NewScheduler(ctx, a.Worker, worker.SchedulerConfig{
			PolicyAssignInterval: settings.PolicyAssignInterval,
			SnapshotInterval:     settings.SnapshotInterval,
			DashboardBindAddress: fmt.Sprintf(":%d", dashboardPort),
		})
		if err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		a.Log.Info("scheduler started", "cloud", cloudProfile)

		go func() {
			if err := sched.ServeDashboard(); err != nil {
				a.Log.Error("scheduler dashboard stopped", "error", err)
			}
		}()

		engine := httpapi.New(a.Restore, a.Worker, a.Store, settings.RestoreEnabled, a.Log.With("component", "httpapi"))
		go func() {
			a.Log.Info("http api listening", "address", apiBindAddress)
			if err := engine.Run(apiBindAddress); err != nil {
				a.Log.Error("http api stopped", "error", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		a.Log.Warn("shutting down due to system signal")
		return sched.Shutdown()
	},
}

func init() {
	rootCommand.AddCommand(daemonCommand)
	daemonCommand.Flags().StringVar(&ruleFilePath, "rule-file", "", "Path to the policy assignment rule file (§6.3 format)")
	daemonCommand.Flags().StringVar(&apiBindAddress, "api-bind-address", "0.0.0.0:8081", "Address to bind the HTTP API")
	daemonCommand.Flags().IntVar(&dashboardPort, "dashboard-port", 8080, "Port for the scheduler dashboard UI")
}
