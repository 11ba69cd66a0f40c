package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/platform"
)

// ArchiveSource is the slice of the dist client the cache needs: published
// checksums and the archive bytes themselves.
type ArchiveSource interface {
	Checksums(ctx context.Context, version *semver.Version) (manifest.Checksums, error)
	DownloadArchive(ctx context.Context, triple platform.Triple, destPath string) error
}

// Acquire returns the promoted entry for a triple, fetching, verifying and
// extracting the distribution on first use. It is idempotent: repeated calls
// after a success are cheap lookups, and concurrent calls for the same
// triple are serialized by a per-slot lock file so exactly one caller
// downloads while the rest wait for the promoted entry to appear.
func (c *Cache) Acquire(ctx context.Context, triple platform.Triple, src ArchiveSource) (*Entry, error) {
	if entry, err := c.Lookup(triple); err != nil {
		return nil, err
	} else if entry != nil {
		return entry, nil
	}

	lock, err := c.lockSlot(ctx, triple.Key())
	if err != nil {
		return nil, err
	}
	defer lock.release()

	// Another invocation may have promoted the slot while we waited.
	if entry, err := c.Lookup(triple); err != nil {
		return nil, err
	} else if entry != nil {
		return entry, nil
	}

	return c.fill(ctx, triple, src)
}

// fill populates a slot: download into staging, verify the digest, extract,
// locate the bare executable, then promote with a single rename. Any
// failure removes the staging directory so no partial entry survives.
func (c *Cache) fill(ctx context.Context, triple platform.Triple, src ArchiveSource) (entry *Entry, err error) {
	key := triple.Key()

	staging, err := os.MkdirTemp(c.root, "staging-"+key+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	sums, err := src.Checksums(ctx, triple.Version)
	if err != nil {
		return nil, err
	}

	expected, ok := sums.Lookup(triple.ArchiveName())
	if !ok {
		return nil, fmt.Errorf("checksum file for v%s has no entry for %s", triple.Version, triple.ArchiveName())
	}

	archivePath := filepath.Join(staging, triple.ArchiveName())

	if err := src.DownloadArchive(ctx, triple, archivePath); err != nil {
		return nil, err
	}

	actual, err := fileDigest(archivePath)
	if err != nil {
		return nil, err
	}

	if actual != expected {
		return nil, &IntegrityError{Archive: triple.ArchiveName(), Expected: expected, Actual: actual}
	}

	treeDir := filepath.Join(staging, "dist")

	if err := Extract(archivePath, treeDir); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The archive unpacks into a single versioned folder; the bare
	// executable lives at a fixed path inside it.
	extractedExe := filepath.Join(treeDir, key, filepath.FromSlash(triple.ExecutableName()))
	if !pathExists(extractedExe) {
		return nil, &ExtractionError{Archive: triple.ArchiveName(), Err: fmt.Errorf("runtime executable %s not found in archive", triple.ExecutableName())}
	}

	bareExe := filepath.Join(staging, bareExecutableName(triple.OS))

	if err := copyFile(extractedExe, bareExe); err != nil {
		return nil, fmt.Errorf("failed to copy runtime executable: %w", err)
	}

	if triple.OS != platform.Windows {
		if err := os.Chmod(bareExe, 0o755); err != nil {
			return nil, fmt.Errorf("failed to mark runtime executable: %w", err)
		}
	}

	if err := os.Remove(archivePath); err != nil {
		return nil, fmt.Errorf("failed to remove downloaded archive: %w", err)
	}

	slot := c.slotDir(key)

	// A previous incomplete slot (no digest record) may occupy the path.
	if err := os.RemoveAll(slot); err != nil {
		return nil, fmt.Errorf("failed to clear stale cache slot: %w", err)
	}

	if err := os.Rename(staging, slot); err != nil {
		return nil, fmt.Errorf("failed to promote cache slot: %w", err)
	}

	entry = &Entry{
		Key:           key,
		ArchiveDigest: actual,
		CreatedAt:     time.Now(),
	}

	c.derivePaths(entry, triple)

	if err := c.record(entry); err != nil {
		return nil, fmt.Errorf("failed to write cache record for %s: %w", key, err)
	}

	return entry, nil
}

// slotLock is a per-triple advisory lock held as a file next to the slot,
// so separate seapack processes exclude each other as well.
type slotLock struct {
	path string
}

const (
	lockPollInterval = 200 * time.Millisecond
	lockStaleAfter   = 15 * time.Minute
)

func (c *Cache) lockSlot(ctx context.Context, key string) (*slotLock, error) {
	path := filepath.Join(c.root, key+".lock")

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			f.Close()

			return &slotLock{path: path}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create slot lock: %w", err)
		}

		// Lock held by someone else. A lock older than the stale window is
		// assumed abandoned (crashed process) and taken over.
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			os.Remove(path)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *slotLock) release() {
	os.Remove(l.path)
}

// fileDigest returns the hex SHA-256 of a file.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return strings.ToLower(hex.EncodeToString(h.Sum(nil))), nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}
