// Package sign re-signs injected executables. Injection invalidates any
// signature the bare executable carried, so every build ends in exactly one
// signing outcome: not required, signed, or unavailable with a remediation
// note for the user to sign on a matching machine.
package sign

import (
	"fmt"
	"os/exec"

	"github.com/seapack/seapack/internal/platform"
)

// Status is the terminal signing state of a built executable.
type Status int

const (
	// NotRequired means the target platform does not enforce signatures.
	NotRequired Status = iota

	// Signed means the platform signing tool ran and exited zero.
	Signed

	// Unavailable means the target needs a signature but the host cannot
	// produce one; the build still succeeds and Remediation tells the
	// user what to do.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case NotRequired:
		return "not required"
	case Signed:
		return "signed"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result reports how signing concluded for one executable.
type Result struct {
	Status      Status
	Remediation string
}

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// Signer applies the platform signing tool to injected executables.
type Signer struct {
	hostOS      platform.OS
	execCommand func(name string, args ...string) Commander
}

// New creates a signer for the current host.
func New() *Signer {
	return &Signer{
		hostOS: platform.HostOS(),
		execCommand: func(name string, args ...string) Commander {
			return exec.Command(name, args...)
		},
	}
}

// Sign signs the executable at exePath for the target OS. Signing runs
// only when the host OS matches the target OS: codesign exists only on
// darwin and signtool only on windows. A mismatch is not an error; the
// result carries the remediation instead.
func (s *Signer) Sign(exePath string, targetOS platform.OS) (Result, error) {
	switch targetOS {
	case platform.Linux:
		return Result{Status: NotRequired}, nil

	case platform.Darwin:
		if s.hostOS != platform.Darwin {
			return Result{
				Status:      Unavailable,
				Remediation: fmt.Sprintf("sign %s on a macOS machine: codesign --force --sign - %s", exePath, exePath),
			}, nil
		}

		return s.run("codesign", "--force", "--sign", "-", exePath)

	case platform.Windows:
		if s.hostOS != platform.Windows {
			return Result{
				Status:      Unavailable,
				Remediation: fmt.Sprintf("sign %s on a Windows machine: signtool sign /fd SHA256 %s", exePath, exePath),
			}, nil
		}

		return s.run("signtool", "sign", "/fd", "SHA256", exePath)

	default:
		return Result{}, fmt.Errorf("unknown target OS %q", targetOS)
	}
}

func (s *Signer) run(name string, args ...string) (Result, error) {
	cmd := s.execCommand(name, args...)

	if output, err := cmd.CombinedOutput(); err != nil {
		return Result{}, fmt.Errorf("%s failed: %w\n%s", name, err, output)
	}

	return Result{Status: Signed}, nil
}
