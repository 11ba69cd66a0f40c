package cmd

import (
	"fmt"
	"os"

	"github.com/seapack/seapack/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "seapack [project-dir]",
	Short:        "Node.js single executable packager",
	Long:         `Package a Node.js project into self-contained executables for one or more platforms`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().StringP("node-version", "n", "", "Node version or semver range (default: project pin)")
	rootCmd.PersistentFlags().StringSliceP("platform", "p", []string{}, "Build target as os/arch, repeatable (e.g. linux/x64, darwin/arm64)")
	rootCmd.PersistentFlags().BoolP("bundle", "b", false, "Bundle the entry script with esbuild before packaging")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "", "Directory for the built executables")
	rootCmd.PersistentFlags().String("cache-dir", "", "Override the runtime cache directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	viper.SetDefault("out_dir", "dist")
	viper.SetDefault("bundle", false)
	viper.SetDefault("verbose", false)
}
