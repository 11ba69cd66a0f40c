// Package inject embeds a SEA startup blob into a bare Node executable.
//
// The runtime decides whether an embedded blob is present by inspecting a
// fuse: a fixed sentinel string compiled into the binary, followed by a
// single presence byte. Injection flips that byte and makes the blob bytes
// locatable, with a strategy per executable format:
//
//   - Mach-O and PE carry named section tables, so injection adds a
//     dedicated segment/section entry pointing at the blob.
//   - ELF injection appends the blob and relies on the trailing footer
//     alone (moving an ELF section header table to add an entry would mean
//     relocating it wholesale).
//
// Every format appends the blob at end-of-file followed by a fixed footer
// recording the pre-injection file size, which is what makes re-injection
// replace-safe: injecting into an already-patched image first strips the
// previous blob and header edits, then injects fresh, so the result is
// byte-identical to a single injection of the new blob.
package inject

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seapack/seapack/internal/platform"
)

// FuseSentinel is the marker string the Node startup path scans for. The
// byte immediately after it is '0' (no blob) or '1' (blob embedded).
const FuseSentinel = "NODE_SEA_FUSE_fce680ab2cc467b6e072b8b5df1996b2:"

const (
	fuseUnset byte = '0'
	fuseSet   byte = '1'
)

// footerMagic terminates every injected image. The footer layout is
// [bareSize u64le][blobSize u64le][footerMagic], 24 bytes at end-of-file.
var footerMagic = []byte("SEABLOB\x01")

const footerSize = 24

// MarkerNotFoundError reports a bare executable without the fuse sentinel,
// which signals a version or format mismatch with the cached runtime.
type MarkerNotFoundError struct {
	Path string
}

func (e *MarkerNotFoundError) Error() string {
	return fmt.Sprintf("no SEA fuse marker in %s: the cached runtime may be corrupt or too old for blob injection; run \"seapack clean\" and retry", e.Path)
}

// embedder is the per-format strategy: exactly one variant per executable
// format, selected by sniffing the image magic.
type embedder interface {
	// embed returns the image with the blob attached and the format's
	// section bookkeeping updated. The fuse flip and footer are handled
	// by Inject.
	embed(image, blob []byte) ([]byte, error)

	// strip undoes a previous embed on image, whose appended region has
	// already been truncated away; it reverts header bookkeeping only.
	strip(image []byte) ([]byte, error)
}

// Inject embeds the blob at blobPath into the executable at exePath,
// rewriting it in place through a temporary file. Injecting into an
// already-patched executable replaces the existing blob.
func Inject(exePath, blobPath string, targetOS platform.OS) error {
	image, err := os.ReadFile(exePath)
	if err != nil {
		return fmt.Errorf("reading executable: %w", err)
	}

	blob, err := os.ReadFile(blobPath)
	if err != nil {
		return fmt.Errorf("reading startup blob: %w", err)
	}

	patched, err := InjectBytes(image, blob, exePath, targetOS)
	if err != nil {
		return err
	}

	return writeAtomic(exePath, patched)
}

// InjectBytes is Inject on in-memory images; exePath is used only for
// error reporting.
func InjectBytes(image, blob []byte, exePath string, targetOS platform.OS) ([]byte, error) {
	emb, err := formatFor(image, exePath, targetOS)
	if err != nil {
		return nil, err
	}

	fuseAt := bytes.Index(image, []byte(FuseSentinel))
	if fuseAt < 0 || fuseAt+len(FuseSentinel) >= len(image) {
		return nil, &MarkerNotFoundError{Path: exePath}
	}

	if image[fuseAt+len(FuseSentinel)] == fuseSet {
		image, err = stripInjection(image, emb)
		if err != nil {
			return nil, fmt.Errorf("removing previous injection from %s: %w", exePath, err)
		}
	}

	// Work on a copy so a failed embed leaves the caller's image intact.
	bare := make([]byte, len(image))
	copy(bare, image)

	bareSize := uint64(len(bare))

	patched, err := emb.embed(bare, blob)
	if err != nil {
		return nil, fmt.Errorf("embedding blob into %s: %w", exePath, err)
	}

	patched[fuseAt+len(FuseSentinel)] = fuseSet

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], bareSize)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(blob)))
	copy(footer[16:], footerMagic)

	return append(patched, footer...), nil
}

// IsInjected reports whether an image already carries an embedded blob.
func IsInjected(image []byte) bool {
	fuseAt := bytes.Index(image, []byte(FuseSentinel))

	return fuseAt >= 0 && fuseAt+len(FuseSentinel) < len(image) && image[fuseAt+len(FuseSentinel)] == fuseSet
}

// stripInjection restores the bare image: truncate to the recorded
// pre-injection size, revert format bookkeeping, reset the fuse byte.
func stripInjection(image []byte, emb embedder) ([]byte, error) {
	if len(image) < footerSize || !bytes.Equal(image[len(image)-8:], footerMagic) {
		return nil, fmt.Errorf("fuse is set but the injection footer is missing")
	}

	footer := image[len(image)-footerSize:]
	bareSize := binary.LittleEndian.Uint64(footer[0:8])

	if bareSize > uint64(len(image)) {
		return nil, fmt.Errorf("injection footer records an impossible size %d", bareSize)
	}

	bare := make([]byte, bareSize)
	copy(bare, image[:bareSize])

	bare, err := emb.strip(bare)
	if err != nil {
		return nil, err
	}

	if fuseAt := bytes.Index(bare, []byte(FuseSentinel)); fuseAt >= 0 && fuseAt+len(FuseSentinel) < len(bare) {
		bare[fuseAt+len(FuseSentinel)] = fuseUnset
	}

	return bare, nil
}

// formatFor sniffs the image magic and cross-checks it against the target
// OS so a cache/injector mismatch is caught before any patching.
func formatFor(image []byte, exePath string, targetOS platform.OS) (embedder, error) {
	switch {
	case len(image) >= 4 && bytes.Equal(image[:4], []byte("\x7fELF")):
		if targetOS != platform.Linux {
			return nil, fmt.Errorf("%s is an ELF image but the target OS is %s", exePath, targetOS)
		}

		return elfEmbedder{}, nil

	case len(image) >= 4 && binary.LittleEndian.Uint32(image[:4]) == machoMagic64:
		if targetOS != platform.Darwin {
			return nil, fmt.Errorf("%s is a Mach-O image but the target OS is %s", exePath, targetOS)
		}

		return machoEmbedder{}, nil

	case len(image) >= 2 && image[0] == 'M' && image[1] == 'Z':
		if targetOS != platform.Windows {
			return nil, fmt.Errorf("%s is a PE image but the target OS is %s", exePath, targetOS)
		}

		return peEmbedder{}, nil

	default:
		return nil, fmt.Errorf("%s is not a recognized executable image", exePath)
	}
}

func writeAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".inject")

	if err := os.WriteFile(tmpPath, data, info.Mode().Perm()); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}
