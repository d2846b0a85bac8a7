package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyvault-io/skyvault/internal/config"
)

var runNowCommand = &cobra.Command{
	Use:     "run-now",
	GroupID: "skyvault",
	Short:   "Run one manual snapshot cycle and exit",
	Long:    `Runs policy assignment followed by one snapshot-creation-and-retention-pruning cycle against every active assignment, then exits. The one-off equivalent of the daemon's scheduled snapshot cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("Skyvault - Manual Snapshot Cycle"))

		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		ctx := context.Background()
		a, err := newApp(ctx, settings, "run-now")
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

		if err := a.Worker.RunPolicyAssignment(ctx); err != nil {
			return fmt.Errorf("policy assignment: %w", err)
		}

		status, err := a.Worker.RunSnapshotCycle(ctx, "on_demand")
		if err != nil {
			return fmt.Errorf("snapshot cycle: %w", err)
		}
		fmt.Printf("run complete: status=%s\n", status)
		return nil
	},
}

func init() {
	rootCommand.AddCommand(runNowCommand)
	runNowCommand.Flags().StringVar(&ruleFilePath, "rule-file", "", "Path to the policy assignment rule file (§6.3 format)")
}
