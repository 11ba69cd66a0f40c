package cache

import "time"

// Entry is the on-disk record of one fetched and extracted Node build.
type Entry struct {
	// Key is the triple key, e.g. "node-v20.11.1-linux-x64". It is both
	// the bbolt record key and the cache slot directory name.
	Key string `json:"key"`

	// ArchiveDigest is the hex SHA-256 of the original downloaded archive,
	// as verified against the published checksum file.
	ArchiveDigest string `json:"archive_digest"`

	// CreatedAt is when the entry was promoted into the cache.
	CreatedAt time.Time `json:"created_at"`

	// ExecutablePath is the absolute path to the bare runtime executable.
	// Derived from the cache root on load; not persisted.
	ExecutablePath string `json:"-"`

	// TreePath is the absolute path to the extracted distribution tree.
	// Derived from the cache root on load; not persisted.
	TreePath string `json:"-"`
}
