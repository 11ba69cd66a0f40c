package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seapack/seapack/internal/builder"
	"github.com/seapack/seapack/internal/cache"
	"github.com/seapack/seapack/internal/config"
	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/sign"
)

var buildCmd = &cobra.Command{
	Use:          "build [project-dir]",
	Short:        "Build single executables",
	Long:         `Package the project into one self-contained executable per requested target.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func runBuild(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) == 1 {
		projectDir = args[0]
	}

	cfg, err := config.NewLoader().LoadForBuild(cmd, projectDir)
	if err != nil {
		return err
	}

	clientOpts := []manifest.Option{manifest.WithBaseURL(cfg.DistMirror)}
	if cfg.KeyringPath != "" {
		clientOpts = append(clientOpts, manifest.WithKeyring(cfg.KeyringPath))
	}

	client := manifest.NewClient(clientOpts...)

	runtimeCache, err := cache.New(cfg.CacheDir)
	if err != nil {
		return err
	}

	b := builder.New(client, runtimeCache)
	if cfg.Verbose {
		b.SetLogOutput(os.Stderr)
	}

	report, err := b.Build(cmd.Context(), builder.Options{
		ProjectDir: projectDir,
		OutputDir:  cfg.OutputDir,
		Version:    cfg.NodeVersion,
		Targets:    cfg.Targets,
		Bundle:     cfg.Bundle,
	})
	if err != nil {
		return err
	}

	printReport(report)

	if !report.OK() {
		return fmt.Errorf("build failed for one or more targets")
	}

	return nil
}

func printReport(report *builder.Report) {
	for _, res := range report.Results {
		target := res.Triple.Target()

		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: FAILED: %v\n", target, res.Err)
			continue
		}

		switch res.Signing.Status {
		case sign.Unavailable:
			fmt.Printf("%s: %s (unsigned: %s)\n", target, res.OutputPath, res.Signing.Remediation)
		case sign.Signed:
			fmt.Printf("%s: %s (signed)\n", target, res.OutputPath)
		default:
			fmt.Printf("%s: %s\n", target, res.OutputPath)
		}
	}
}
