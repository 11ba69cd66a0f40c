// Package seablob generates the SEA startup blob by delegating to the Node
// runtime's own blob-generation facility. Blob formats are tied to the
// platform and version of the Node build that produces them, so generation
// always runs a host-compatible build of the target version, never the
// target build itself.
package seablob

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/seapack/seapack/internal/platform"
	"github.com/seapack/seapack/internal/project"
)

// UnsupportedModuleSyntaxError reports an entry script the runtime's blob
// generator cannot load directly: it needs bundler normalization first, and
// bundling was not requested.
type UnsupportedModuleSyntaxError struct {
	Entry  string
	Reason string
}

func (e *UnsupportedModuleSyntaxError) Error() string {
	return fmt.Sprintf("entry script %s %s; re-run with --bundle to normalize it first", e.Entry, e.Reason)
}

// CrossCompileBlobUnsupportedError reports that blob generation for a
// cross-compiled target is impossible because no host-compatible Node build
// of the resolved version exists.
type CrossCompileBlobUnsupportedError struct {
	Version string
	Host    platform.Target
	Err     error
}

func (e *CrossCompileBlobUnsupportedError) Error() string {
	return fmt.Sprintf("cannot generate a startup blob for cross-compilation: node v%s is not available for the host platform %s (blobs must be generated by a host-compatible runtime): %v", e.Version, e.Host, e.Err)
}

func (e *CrossCompileBlobUnsupportedError) Unwrap() error { return e.Err }

// NeedsBundling reports whether the entry script requires bundler
// normalization before the blob generator can load it, and why.
func NeedsBundling(seaCfg *project.SEAConfig, pkgCfg *project.PackageConfig) (bool, string) {
	entry := seaCfg.Main
	if pkgCfg.Main != "" {
		entry = pkgCfg.Main
	}

	switch {
	case strings.HasSuffix(entry, ".mjs"):
		return true, "uses ES module syntax"
	case strings.HasSuffix(entry, ".ts"):
		return true, "is TypeScript"
	case pkgCfg.IsModule():
		return true, "belongs to an ES module package"
	default:
		return false, ""
	}
}

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// Compiler turns a staged project's SEA configuration into a startup blob.
type Compiler struct {
	execCommand func(dir, name string, args ...string) Commander
}

// NewCompiler creates a blob compiler.
func NewCompiler() *Compiler {
	return &Compiler{
		execCommand: func(dir, name string, args ...string) Commander {
			cmd := exec.Command(name, args...)
			cmd.Dir = dir

			return cmd
		},
	}
}

// Compile runs the host-compatible Node executable against the staged
// project's sea-config.json and returns the path to the produced blob. The
// blob belongs to exactly one build and is consumed once by injection.
func (c *Compiler) Compile(stagedDir string, seaCfg *project.SEAConfig, hostNodeExe string) (string, error) {
	confPath := filepath.Join(stagedDir, project.SEAConfigName)

	cmd := c.execCommand(stagedDir, hostNodeExe, "--experimental-sea-config", confPath)

	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("generating SEA blob: %w\n%s", err, output)
	}

	blobPath := filepath.Join(stagedDir, seaCfg.Output)

	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("blob generation reported success but %s was not produced: %w", seaCfg.Output, err)
	}

	return blobPath, nil
}
