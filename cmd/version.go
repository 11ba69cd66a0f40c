package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seapack/seapack/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("seapack %s (%s) %s\n", version.Version, version.Commit, version.BuildTime)
	},
}
