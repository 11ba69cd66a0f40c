// Package cache is the content-addressed store of extracted Node.js
// distributions, keyed by (version, OS, architecture).
//
// Each triple owns one slot directory under the cache root:
//
//	{root}/{triple-key}/node[.exe]   bare runtime executable
//	{root}/{triple-key}/dist/        extracted distribution tree
//
// Digest records live in a BoltDB database at the cache root; a slot is
// trusted only when its record and both paths exist, so a crash between
// extraction and promotion never produces a "looks cached but incomplete"
// entry. Slots are filled in a staging directory and promoted with a single
// rename, under a per-slot lock file so concurrent invocations (including
// separate processes) never race on the same triple.
//
// The database handle is opened per operation, never held across a build:
// bbolt takes an exclusive file lock for the life of a handle, and a
// long-lived one would lock every other seapack process out of the whole
// cache. Cross-process mutual exclusion belongs to the slot lock files, not
// the database lock.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/seapack/seapack/internal/platform"
)

const (
	// DefaultDirName is the cache directory name under the user cache dir.
	DefaultDirName = "seapack"

	// bucketName is the BoltDB bucket holding digest records.
	bucketName = "entries"

	dbFileName = "seapack.db"

	// dbOpenTimeout bounds the wait for the database file lock. Handles
	// are held only for single record operations, so contention windows
	// are short.
	dbOpenTimeout = 5 * time.Second
)

// Cache manages cached Node distributions and their digest records.
type Cache struct {
	root string
}

// New prepares the cache rooted at cacheDir. An empty cacheDir selects
// DefaultDirName under the OS user cache directory.
func New(cacheDir string) (*Cache, error) {
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate user cache directory: %w", err)
		}

		cacheDir = filepath.Join(base, DefaultDirName)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{root: cacheDir}

	// Probe the database once so an unusable root fails here rather than
	// mid-build.
	if err := c.view(func(tx *bbolt.Tx) error { return nil }); err != nil {
		return nil, err
	}

	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// openDB opens the metadata database for a single operation, creating the
// record bucket if needed. Callers must close the returned handle promptly.
func (c *Cache) openDB() (*bbolt.DB, error) {
	dbPath := filepath.Join(c.root, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	return db, nil
}

// view runs one read transaction against a short-lived handle.
func (c *Cache) view(fn func(tx *bbolt.Tx) error) error {
	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(fn)
}

// update runs one write transaction against a short-lived handle.
func (c *Cache) update(fn func(tx *bbolt.Tx) error) error {
	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(fn)
}

// Lookup returns the promoted entry for a triple, or nil when the slot is
// missing or incomplete. Incomplete slots are not trusted; Acquire replaces
// them.
func (c *Cache) Lookup(triple platform.Triple) (*Entry, error) {
	key := triple.Key()

	var entry Entry

	err := c.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return nil
		}

		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record for %s: %w", key, err)
	}

	if entry.Key == "" {
		return nil, nil
	}

	c.derivePaths(&entry, triple)

	if !pathExists(entry.ExecutablePath) || !pathExists(entry.TreePath) {
		return nil, nil
	}

	return &entry, nil
}

// Evict removes one triple's slot and digest record. The caller must ensure
// no build is using the slot.
func (c *Cache) Evict(triple platform.Triple) error {
	key := triple.Key()

	err := c.update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache record for %s: %w", key, err)
	}

	if err := os.RemoveAll(c.slotDir(key)); err != nil {
		return fmt.Errorf("failed to remove cache slot %s: %w", key, err)
	}

	return nil
}

// EvictAll removes every slot and record, leaving an empty, usable cache.
func (c *Cache) EvictAll() error {
	var keys []string

	err := c.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))

		if err := bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		}); err != nil {
			return err
		}

		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(bucketName))

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache records: %w", err)
	}

	for _, key := range keys {
		if err := os.RemoveAll(c.slotDir(key)); err != nil {
			return fmt.Errorf("failed to remove cache slot %s: %w", key, err)
		}
	}

	return nil
}

// Stats returns the number of cached entries and their total on-disk size.
func (c *Cache) Stats() (int, int64, error) {
	var count int

	err := c.view(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	var totalSize int64

	err = filepath.Walk(c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if !info.IsDir() {
			totalSize += info.Size()
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return count, totalSize, nil
}

// record persists an entry's digest record, marking the slot as promoted.
func (c *Cache) record(entry *Entry) error {
	return c.update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return tx.Bucket([]byte(bucketName)).Put([]byte(entry.Key), data)
	})
}

func (c *Cache) slotDir(key string) string {
	return filepath.Join(c.root, key)
}

func (c *Cache) derivePaths(entry *Entry, triple platform.Triple) {
	slot := c.slotDir(entry.Key)

	entry.TreePath = filepath.Join(slot, "dist")
	entry.ExecutablePath = filepath.Join(slot, bareExecutableName(triple.OS))
}

func bareExecutableName(os platform.OS) string {
	if os == platform.Windows {
		return "node.exe"
	}

	return "node"
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
