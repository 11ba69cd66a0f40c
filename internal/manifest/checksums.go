package manifest

import (
	"bufio"
	"fmt"
	"strings"
)

// Checksums maps dist filenames to their published lowercase hex SHA-256.
type Checksums map[string]string

// ParseChecksums parses a SHASUMS256.txt body. Each line is
// "<64 hex chars>  <filename>". Lines that do not match are skipped; a file
// yielding no entries at all is an error.
func ParseChecksums(body string) (Checksums, error) {
	sums := make(Checksums)

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		digest, name := strings.ToLower(fields[0]), fields[1]
		if !isHexDigest(digest) {
			continue
		}

		sums[name] = digest
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(sums) == 0 {
		return nil, fmt.Errorf("no parsable checksum entries")
	}

	return sums, nil
}

// Lookup returns the published digest for a dist filename.
func (c Checksums) Lookup(filename string) (string, bool) {
	digest, ok := c[filename]
	return digest, ok
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}

	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}

	return true
}
