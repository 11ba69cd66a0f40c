package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/platform"
)

// Default configuration values
const (
	DefaultOutputDir  = "dist"
	DefaultDistMirror = manifest.DefaultBaseURL
	DefaultBundle     = false
	DefaultVerbose    = false
)

// Holds the configuration options for seapack
type Config struct {
	// Node version or semver range; empty defers to the project pin
	NodeVersion string

	// Requested build targets (e.g., linux/x64, darwin/arm64)
	Targets []platform.Target

	// Normalize the entry script with esbuild before blob generation
	Bundle bool

	// Directory receiving the built executables
	OutputDir string

	// Override for the runtime cache location
	CacheDir string

	// Base URL of the Node.js distribution mirror
	DistMirror string

	// Armored PGP keyring for checksum signature verification
	KeyringPath string

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		NodeVersion: viper.GetString("node_version"),
		Bundle:      viper.GetBool("bundle"),
		OutputDir:   viper.GetString("out_dir"),
		CacheDir:    viper.GetString("cache_dir"),
		DistMirror:  viper.GetString("dist_mirror"),
		KeyringPath: viper.GetString("keyring"),
		Verbose:     viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	if cfg.DistMirror == "" {
		cfg.DistMirror = DefaultDistMirror
	}

	targets, err := platform.ParseTargets(viper.GetStringSlice("targets"))
	if err != nil {
		return nil, err
	}

	cfg.Targets = targets

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if abs, err := filepath.Abs(c.OutputDir); err == nil {
		c.OutputDir = abs
	}

	// Resolve cache directory path
	if c.CacheDir != "" {
		abs, err := filepath.Abs(c.CacheDir)
		if err != nil {
			return fmt.Errorf("invalid cache directory path: %v", err)
		}

		c.CacheDir = abs
	}

	if c.KeyringPath != "" {
		abs, err := filepath.Abs(c.KeyringPath)
		if err != nil {
			return fmt.Errorf("invalid keyring path: %v", err)
		}

		c.KeyringPath = abs
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("no build targets configured")
	}

	return nil
}
