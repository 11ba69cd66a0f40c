package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForBuild loads configuration specifically for build operations.
// Precedence, lowest to highest: defaults, global config, local config
// found from the project directory upward, command flags.
func (l *Loader) LoadForBuild(cmd *cobra.Command, projectDir string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(projectDir)
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("out_dir", DefaultOutputDir)
	viper.SetDefault("dist_mirror", DefaultDistMirror)
	viper.SetDefault("bundle", DefaultBundle)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(configDir, "seapack")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from the project directory
func (l *Loader) loadLocalConfig(projectDir string) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return // silently ignore, config.Load() will handle validation
	}

	localPath := FindLocalConfig(absDir)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("node_version", cmd.Flags().Lookup("node-version"))
	_ = viper.BindPFlag("targets", cmd.Flags().Lookup("platform"))
	_ = viper.BindPFlag("bundle", cmd.Flags().Lookup("bundle"))
	_ = viper.BindPFlag("out_dir", cmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
}
