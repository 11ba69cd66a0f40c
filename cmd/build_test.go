package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RejectsInvalidTarget(t *testing.T) {
	viper.Reset()

	rootCmd.SetArgs([]string{"build", t.TempDir(), "--platform", "solaris/sparc"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operating system")
}

func TestClean_EmptyCache(t *testing.T) {
	viper.Reset()

	cacheDir := filepath.Join(t.TempDir(), "cache")

	rootCmd.SetArgs([]string{"clean", "--cache-dir", cacheDir})

	err := rootCmd.Execute()
	require.NoError(t, err)

	// The cache root and database exist but hold no entries; a second clean
	// is equally fine.
	rootCmd.SetArgs([]string{"clean", "--cache-dir", cacheDir})
	require.NoError(t, rootCmd.Execute())
}
