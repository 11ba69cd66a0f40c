package cmd

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/seapack/seapack/internal/cache"
	"github.com/seapack/seapack/internal/platform"
)

var cleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove cached Node runtimes",
	Long:         `Delete cached Node distributions, forcing fresh downloads on the next build. With --node-version only the matching runtimes are removed; otherwise the whole cache is cleared.`,
	RunE:         runClean,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func runClean(cmd *cobra.Command, args []string) error {
	cacheDir, err := cmd.Flags().GetString("cache-dir")
	if err != nil {
		return err
	}

	runtimeCache, err := cache.New(cacheDir)
	if err != nil {
		return err
	}

	nodeVersion, err := cmd.Flags().GetString("node-version")
	if err != nil {
		return err
	}

	if nodeVersion != "" {
		return cleanVersion(cmd, runtimeCache, nodeVersion)
	}

	count, size, err := runtimeCache.Stats()
	if err != nil {
		return err
	}

	if err := runtimeCache.EvictAll(); err != nil {
		return err
	}

	fmt.Printf("removed %d cached runtime(s), reclaimed %.1f MiB\n", count, float64(size)/(1<<20))

	return nil
}

// cleanVersion evicts one version's slots for the requested targets, the
// host platform when none are given.
func cleanVersion(cmd *cobra.Command, runtimeCache *cache.Cache, nodeVersion string) error {
	v, err := semver.NewVersion(strings.TrimPrefix(nodeVersion, "v"))
	if err != nil {
		return fmt.Errorf("invalid node version %q: %w", nodeVersion, err)
	}

	specs, err := cmd.Flags().GetStringSlice("platform")
	if err != nil {
		return err
	}

	targets, err := platform.ParseTargets(specs)
	if err != nil {
		return err
	}

	for _, target := range targets {
		triple := platform.NewTriple(v, target)

		if err := runtimeCache.Evict(triple); err != nil {
			return err
		}

		fmt.Printf("removed %s\n", triple.Key())
	}

	return nil
}
