package cache

import "fmt"

// IntegrityError reports a digest mismatch between a downloaded archive and
// its published checksum. It is never retried automatically: a mismatch
// means corruption or tampering, not a flaky network.
type IntegrityError struct {
	Archive  string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s:\n  expected %s\n  actual   %s\nthe downloaded artifact may be corrupt; run \"seapack clean\" and retry", e.Archive, e.Expected, e.Actual)
}

// ExtractionError reports a malformed or unsafe archive.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
