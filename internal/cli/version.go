package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	SkyvaultVersion, SkyvaultCommit, SkyvaultDate string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash, build date, and other build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Skyvault version: %s\n", SkyvaultVersion)
		fmt.Printf("Commit: %s\n", SkyvaultCommit)
		fmt.Printf("Built: %s\n", SkyvaultDate)
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
