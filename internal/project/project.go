// Package project reads the build inputs a JavaScript project supplies: the
// SEA blob configuration and package metadata. Both are parsed
// forward-compatibly; fields this tool does not know about are preserved
// (sea-config.json is rewritten after bundling) or ignored (package.json).
package project

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SEAConfigName is the blob configuration filename Node expects.
const SEAConfigName = "sea-config.json"

// SEAConfig is the project's sea-config.json. Main is the entry script the
// blob embeds; Output names the blob file the runtime writes.
type SEAConfig struct {
	Main   string
	Output string

	// extra holds every field we do not model, kept so a rewritten config
	// round-trips without dropping future options.
	extra map[string]json.RawMessage
}

// LoadSEAConfig reads and validates a sea-config.json.
func LoadSEAConfig(path string) (*SEAConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", SEAConfigName, err)
	}

	var fields map[string]json.RawMessage

	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", SEAConfigName, err)
	}

	cfg := &SEAConfig{extra: fields}

	if raw, ok := fields["main"]; ok {
		if err := json.Unmarshal(raw, &cfg.Main); err != nil {
			return nil, fmt.Errorf("could not parse %s: invalid \"main\": %w", SEAConfigName, err)
		}
	}

	if raw, ok := fields["output"]; ok {
		if err := json.Unmarshal(raw, &cfg.Output); err != nil {
			return nil, fmt.Errorf("could not parse %s: invalid \"output\": %w", SEAConfigName, err)
		}
	}

	if cfg.Main == "" {
		return nil, fmt.Errorf("%s is missing the required \"main\" field", SEAConfigName)
	}

	if cfg.Output == "" {
		return nil, fmt.Errorf("%s is missing the required \"output\" field", SEAConfigName)
	}

	delete(cfg.extra, "main")
	delete(cfg.extra, "output")

	return cfg, nil
}

// SetMain repoints the entry script, used after bundling rewrites it.
func (c *SEAConfig) SetMain(main string) {
	c.Main = main
}

// WriteFile serializes the config, preserving unmodeled fields.
func (c *SEAConfig) WriteFile(path string) error {
	fields := make(map[string]json.RawMessage, len(c.extra)+2)

	for k, v := range c.extra {
		fields[k] = v
	}

	mainJSON, err := json.Marshal(c.Main)
	if err != nil {
		return err
	}

	outputJSON, err := json.Marshal(c.Output)
	if err != nil {
		return err
	}

	fields["main"] = mainJSON
	fields["output"] = outputJSON

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// PackageConfig is the slice of package.json the build needs.
type PackageConfig struct {
	Name string `json:"name"`
	Main string `json:"main"`
	Type string `json:"type"`
}

// LoadPackageConfig reads a project's package.json. Unknown fields are
// ignored; a missing name is an error since it names the output binary.
func LoadPackageConfig(path string) (*PackageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open package.json: %w", err)
	}

	var cfg PackageConfig

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse package.json: %w", err)
	}

	if cfg.Name == "" {
		return nil, fmt.Errorf("package.json is missing the required \"name\" field")
	}

	return &cfg, nil
}

// IsModule reports whether the package declares ESM module resolution.
func (c *PackageConfig) IsModule() bool {
	return c.Type == "module"
}

// Load reads both configuration files from a project directory.
func Load(projectDir string) (*SEAConfig, *PackageConfig, error) {
	seaCfg, err := LoadSEAConfig(filepath.Join(projectDir, SEAConfigName))
	if err != nil {
		return nil, nil, err
	}

	pkgCfg, err := LoadPackageConfig(filepath.Join(projectDir, "package.json"))
	if err != nil {
		return nil, nil, err
	}

	return seaCfg, pkgCfg, nil
}

// Stage copies the project tree into destDir so the build can rewrite
// configuration and produce intermediates without touching the original.
// node_modules and VCS metadata are skipped; npm install recreates
// dependencies for the target platform.
func Stage(projectDir, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	return filepath.Walk(projectDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		base := filepath.Base(path)
		if info.IsDir() && (base == "node_modules" || base == ".git") {
			return filepath.SkipDir
		}

		target := filepath.Join(destDir, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)

	return err
}
