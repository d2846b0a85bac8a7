package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cloudProfile string
	actor        string
)

var rootCommand = &cobra.Command{
	Use:     "skyvaultd",
	Aliases: []string{"skyvault"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		if cloudProfile == "" {
			return fmt.Errorf("required flag(s) \"cloud\" not set")
		}
		return nil
	},
	Short: "Skyvault: multi-tenant OpenStack snapshot and restore orchestration core",
	Long: `Skyvault runs the rule-driven snapshot lifecycle and the
Restore Engine for a multi-tenant OpenStack deployment: a daemon mode
serving the HTTP API and the background worker together, plus one-off
subcommands for operating on individual restore jobs and triggering a
manual snapshot cycle.`,
}

func Execute() error {
	return rootCommand.Execute()
}

func init() {
	rootCommand.AddGroup(&cobra.Group{ID: "skyvault", Title: "Skyvault"})

	rootCommand.PersistentFlags().StringVar(&cloudProfile, "cloud", "", "Name of the cloud profile as in clouds.yaml (required)")
	rootCommand.PersistentFlags().StringVar(&actor, "actor", "cli", "Identity recorded as requested_by on jobs this process creates")
	_ = viper.BindPFlag("cloud-profile", rootCommand.PersistentFlags().Lookup("cloud"))

	viper.SetEnvPrefix("SKYVAULT")
	viper.AutomaticEnv()
}
