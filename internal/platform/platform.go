// Package platform models the (version, OS, architecture) triples that
// identify concrete Node.js builds, using the naming scheme of the official
// distribution directory (darwin/linux/win, x64/arm64/x86).
package platform

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// OS is a supported target operating system.
type OS string

const (
	Linux   OS = "linux"
	Darwin  OS = "darwin"
	Windows OS = "win"
)

// Arch is a supported target CPU architecture.
type Arch string

const (
	X64   Arch = "x64"
	Arm64 Arch = "arm64"
	X86   Arch = "x86"
)

// ParseOS maps user or Go-style OS names onto the dist naming. Unknown names
// are rejected here rather than surfacing later in the pipeline.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return Linux, nil
	case "darwin", "macos", "osx":
		return Darwin, nil
	case "win", "windows":
		return Windows, nil
	default:
		return "", fmt.Errorf("unsupported operating system %q (expected linux, darwin or windows)", s)
	}
}

// ParseArch maps user or Go-style architecture names onto the dist naming.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x64", "x86_64", "amd64":
		return X64, nil
	case "arm64", "aarch64":
		return Arm64, nil
	case "x86", "386", "i686":
		return X86, nil
	default:
		return "", fmt.Errorf("unsupported architecture %q (expected x64, arm64 or x86)", s)
	}
}

// HostOS returns the dist OS name for the machine we are running on.
func HostOS() OS {
	switch runtime.GOOS {
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	default:
		return Linux
	}
}

// HostArch returns the dist architecture name for the machine we are running on.
func HostArch() Arch {
	switch runtime.GOARCH {
	case "arm64":
		return Arm64
	case "386":
		return X86
	default:
		return X64
	}
}

// Target is a requested (OS, architecture) pair, before a version is resolved.
type Target struct {
	OS   OS
	Arch Arch
}

// ParseTarget parses an "os/arch" pair such as "linux/x64" or "darwin/arm64".
func ParseTarget(s string) (Target, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Target{}, fmt.Errorf("invalid target %q (expected os/arch, e.g. linux/x64)", s)
	}

	os, err := ParseOS(parts[0])
	if err != nil {
		return Target{}, err
	}

	arch, err := ParseArch(parts[1])
	if err != nil {
		return Target{}, err
	}

	return Target{OS: os, Arch: arch}, nil
}

// ParseTargets parses a list of "os/arch" pairs. An empty list defaults to
// the host platform.
func ParseTargets(specs []string) ([]Target, error) {
	if len(specs) == 0 {
		return []Target{HostTarget()}, nil
	}

	targets := make([]Target, 0, len(specs))
	seen := make(map[Target]bool)

	for _, spec := range specs {
		t, err := ParseTarget(spec)
		if err != nil {
			return nil, err
		}

		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	return targets, nil
}

// HostTarget returns the (OS, architecture) pair of the running machine.
func HostTarget() Target {
	return Target{OS: HostOS(), Arch: HostArch()}
}

func (t Target) String() string {
	return string(t.OS) + "/" + string(t.Arch)
}

// Triple identifies one concrete Node.js build. It is an immutable value;
// Key is used as the cache slot name and the archive stem.
type Triple struct {
	Version *semver.Version
	OS      OS
	Arch    Arch
}

// NewTriple builds a triple from an already-validated version and target.
func NewTriple(version *semver.Version, target Target) Triple {
	return Triple{Version: version, OS: target.OS, Arch: target.Arch}
}

// Key returns the canonical dist folder name, e.g. "node-v20.11.1-linux-x64".
func (t Triple) Key() string {
	return fmt.Sprintf("node-v%s-%s-%s", t.Version, t.OS, t.Arch)
}

// ArchiveName returns the dist archive filename for this triple.
func (t Triple) ArchiveName() string {
	return t.Key() + t.ArchiveExt()
}

// ArchiveExt returns the archive extension fetched from the dist for this
// OS: zip for windows, the smaller xz tarball for linux, gzip for darwin
// (the dist publishes no darwin xz archives).
func (t Triple) ArchiveExt() string {
	switch t.OS {
	case Windows:
		return ".zip"
	case Linux:
		return ".tar.xz"
	default:
		return ".tar.gz"
	}
}

// ExecutableName returns the name of the bare runtime executable inside the
// extracted tree, relative to the tree root.
func (t Triple) ExecutableName() string {
	if t.OS == Windows {
		return "node.exe"
	}

	return "bin/node"
}

// Target returns the (OS, architecture) pair of the triple.
func (t Triple) Target() Target {
	return Target{OS: t.OS, Arch: t.Arch}
}

// SameHost reports whether a blob compiled on this triple's platform can be
// loaded by the running machine. Blob formats are tied to the platform of
// the Node build that produced them.
func (t Triple) SameHost() bool {
	return t.OS == HostOS() && t.Arch == HostArch()
}

func (t Triple) String() string {
	return fmt.Sprintf("node v%s %s/%s", t.Version, t.OS, t.Arch)
}
