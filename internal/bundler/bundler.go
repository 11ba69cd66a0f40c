// Package bundler drives the external esbuild collaborator that normalizes
// module syntax. It treats npm and esbuild as opaque commands: exit status
// is the only success signal, and their combined output is surfaced on
// failure.
package bundler

import (
	"fmt"
	"os/exec"

	"github.com/seapack/seapack/internal/platform"
)

// OutFileName is the bundled entry script esbuild writes into the staged
// project.
const OutFileName = "bundled.js"

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// Bundler runs npm install and esbuild inside a staged project copy.
type Bundler struct {
	execCommand func(dir, name string, args ...string) Commander
}

// New creates a bundler.
func New() *Bundler {
	return &Bundler{
		execCommand: func(dir, name string, args ...string) Commander {
			cmd := exec.Command(name, args...)
			cmd.Dir = dir

			return cmd
		},
	}
}

// Install runs npm install in the staged project, targeting the platform the
// binary is being built for so native dependencies resolve correctly.
func (b *Bundler) Install(projectDir string, target platform.Target) error {
	cmd := b.execCommand(projectDir, "npm", "install",
		fmt.Sprintf("--target_platform=%s", target.OS),
		fmt.Sprintf("--target_arch=%s", target.Arch),
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("npm install failed: %w\n%s", err, output)
	}

	return nil
}

// Bundle runs esbuild over the entry script, producing OutFileName in the
// staged project. Returns the bundled script name on success.
func (b *Bundler) Bundle(projectDir, entry string) (string, error) {
	cmd := b.execCommand(projectDir, "npx", "esbuild", entry,
		"--bundle",
		"--platform=node",
		"--outfile="+OutFileName,
	)

	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("esbuild failed: %w\n%s", err, output)
	}

	return OutFileName, nil
}
