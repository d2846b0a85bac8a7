package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyvault-io/skyvault/internal/config"
	"github.com/skyvault-io/skyvault/internal/restore"
)

var restoreCommand = &cobra.Command{
	Use:     "restore",
	GroupID: "skyvault",
	Short:   "Operate on restore jobs without running the daemon",
	Long:    `One-off equivalents of the HTTP restore API (§6.1), for operating on a single job from the command line: plan, execute, cancel, retry, cleanup.`,
}

var (
	restoreProjectID            string
	restoreVMID                 string
	restoreSnapshotID           string
	restoreMode                 string
	restoreNewVMName            string
	restoreIPStrategy           string
	restoreSecurityGroupIDs     []string
	restoreCleanupOldStorage    bool
	restoreDeleteSourceSnapshot bool
	restoreJobID                string
	restoreConfirmDestructive   string
	restoreIPStrategyOverride   string
	restoreDeleteVolume         bool
)

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var restorePlanCommand = &cobra.Command{
	Use:   "plan",
	Short: "Build and persist a restore plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, settings, "restore-plan")
		if err != nil {
			return err
		}

		result, err := a.Restore.Plan(ctx, restore.PlanInput{
			ProjectID:            restoreProjectID,
			VMID:                 restoreVMID,
			SnapshotID:           restoreSnapshotID,
			Mode:                 restoreMode,
			NewVMName:            restoreNewVMName,
			IPStrategy:           restoreIPStrategy,
			SecurityGroupIDs:     restoreSecurityGroupIDs,
			CleanupOldStorage:    restoreCleanupOldStorage,
			DeleteSourceSnapshot: restoreDeleteSourceSnapshot,
			RequestedBy:          actor,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var restoreExecuteCommand = &cobra.Command{
	Use:   "execute",
	Short: "Execute a previously planned restore job",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, settings, "restore-execute")
		if err != nil {
			return err
		}
		if err := a.Restore.Execute(ctx, restoreJobID, restoreConfirmDestructive); err != nil {
			return err
		}
		fmt.Printf("job %s transitioned to PENDING; it executes asynchronously\n", restoreJobID)
		return nil
	},
}

var restoreCancelCommand = &cobra.Command{
	Use:   "cancel",
	Short: "Request cancellation of a running restore job",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, settings, "restore-cancel")
		if err != nil {
			return err
		}
		if err := a.Restore.Cancel(ctx, restoreJobID); err != nil {
			return err
		}
		fmt.Printf("cancellation requested for job %s\n", restoreJobID)
		return nil
	},
}

var restoreRetryCommand = &cobra.Command{
	Use:   "retry",
	Short: "Create a new job retrying a failed restore from its first incomplete step",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, settings, "restore-retry")
		if err != nil {
			return err
		}
		job, err := a.Restore.Retry(ctx, restoreJobID, restoreIPStrategyOverride)
		if err != nil {
			return err
		}
		return printJSON(job)
	},
}

var restoreCleanupCommand = &cobra.Command{
	Use:   "cleanup",
	Short: "Manually clean up resources left behind by a restore job",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		ctx := context.Background()
		a, err := newApp(ctx, settings, "restore-cleanup")
		if err != nil {
			return err
		}
		result, err := a.Restore.Cleanup(ctx, restoreJobID, restoreDeleteVolume)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	rootCommand.AddCommand(restoreCommand)
	restoreCommand.AddCommand(restorePlanCommand, restoreExecuteCommand, restoreCancelCommand, restoreRetryCommand, restoreCleanupCommand)

	restorePlanCommand.Flags().StringVar(&restoreProjectID, "project-id", "", "Project (tenant) UUID (required)")
	restorePlanCommand.Flags().StringVar(&restoreVMID, "vm-id", "", "VM UUID to restore (required)")
	restorePlanCommand.Flags().StringVar(&restoreSnapshotID, "snapshot-id", "", "Snapshot UUID to restore from (required)")
	restorePlanCommand.Flags().StringVar(&restoreMode, "mode", "NEW", "Restore mode: NEW or REPLACE")
	restorePlanCommand.Flags().StringVar(&restoreNewVMName, "new-vm-name", "", "Name for the restored VM (defaults to the source VM's name)")
	restorePlanCommand.Flags().StringVar(&restoreIPStrategy, "ip-strategy", "NEW_IPS", "NEW_IPS, TRY_SAME_IPS, SAME_IPS_OR_FAIL, or MANUAL_IP")
	restorePlanCommand.Flags().StringSliceVar(&restoreSecurityGroupIDs, "security-group-id", nil, "Security group UUID to attach to every restored port (repeatable)")
	restorePlanCommand.Flags().BoolVar(&restoreCleanupOldStorage, "cleanup-old-storage", false, "REPLACE mode: delete the original boot volume after success")
	restorePlanCommand.Flags().BoolVar(&restoreDeleteSourceSnapshot, "delete-source-snapshot", false, "Delete the source snapshot as part of old-storage cleanup")
	_ = restorePlanCommand.MarkFlagRequired("project-id")
	_ = restorePlanCommand.MarkFlagRequired("vm-id")
	_ = restorePlanCommand.MarkFlagRequired("snapshot-id")

	restoreExecuteCommand.Flags().StringVar(&restoreJobID, "job-id", "", "Restore job UUID (required)")
	restoreExecuteCommand.Flags().StringVar(&restoreConfirmDestructive, "confirm-destructive", "", "Required for REPLACE mode: \"DELETE AND RESTORE <original_vm_name>\"")
	_ = restoreExecuteCommand.MarkFlagRequired("job-id")

	restoreCancelCommand.Flags().StringVar(&restoreJobID, "job-id", "", "Restore job UUID (required)")
	_ = restoreCancelCommand.MarkFlagRequired("job-id")

	restoreRetryCommand.Flags().StringVar(&restoreJobID, "job-id", "", "Failed restore job UUID (required)")
	restoreRetryCommand.Flags().StringVar(&restoreIPStrategyOverride, "ip-strategy-override", "", "Override the IP strategy for the retried job")
	_ = restoreRetryCommand.MarkFlagRequired("job-id")

	restoreCleanupCommand.Flags().StringVar(&restoreJobID, "job-id", "", "Restore job UUID (required)")
	restoreCleanupCommand.Flags().BoolVar(&restoreDeleteVolume, "delete-volume", false, "Also delete the created volume, if available")
	_ = restoreCleanupCommand.MarkFlagRequired("job-id")
}
