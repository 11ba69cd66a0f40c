// Package manifest is the read-only client for the Node.js release
// directory: the version index, per-release checksum files and the
// distribution archives themselves.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/seapack/seapack/internal/platform"
)

// DefaultBaseURL is the official Node.js distribution directory.
const DefaultBaseURL = "https://nodejs.org/dist"

const requestTimeout = 5 * time.Minute

// FetchError reports a network or remote failure. Callers may retry the
// operation; nothing below this layer retries implicitly.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Release is one entry of the version index. Files lists the dist file keys
// offered for the release, e.g. "linux-x64", "osx-arm64-tar", "win-x64-zip".
type Release struct {
	Version *semver.Version
	Files   []string
}

// Offers reports whether the release publishes an archive for the target.
func (r Release) Offers(target platform.Target) bool {
	key := distFileKey(target)

	for _, f := range r.Files {
		if f == key {
			return true
		}
	}

	return false
}

// distFileKey maps a target onto the index.json files naming, which differs
// from the archive naming for darwin and windows.
func distFileKey(target platform.Target) string {
	switch target.OS {
	case platform.Darwin:
		return fmt.Sprintf("osx-%s-tar", target.Arch)
	case platform.Windows:
		return fmt.Sprintf("win-%s-zip", target.Arch)
	default:
		return fmt.Sprintf("linux-%s", target.Arch)
	}
}

// Client fetches release metadata and archives from a dist mirror.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// keyringPath, when set, points to an armored OpenPGP keyring used to
	// verify the detached signature on checksum files.
	keyringPath string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different dist mirror.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithKeyring enables OpenPGP verification of checksum files against the
// given armored keyring file.
func WithKeyring(path string) Option {
	return func(c *Client) {
		c.keyringPath = path
	}
}

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a dist client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the mirror the client reads from.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Releases fetches and parses the version index. Entries with versions that
// do not parse as semver are skipped; the index is forward-compatible and
// unknown fields are ignored.
func (c *Client) Releases(ctx context.Context) ([]Release, error) {
	url := c.baseURL + "/index.json"

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var raw []struct {
		Version string   `json:"version"`
		Files   []string `json:"files"`
	}

	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("decoding version index: %w", err)}
	}

	releases := make([]Release, 0, len(raw))

	for _, entry := range raw {
		v, err := semver.NewVersion(strings.TrimPrefix(entry.Version, "v"))
		if err != nil {
			continue
		}

		releases = append(releases, Release{Version: v, Files: entry.Files})
	}

	if len(releases) == 0 {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("version index contains no parsable releases")}
	}

	return releases, nil
}

// Checksums fetches and parses SHASUMS256.txt for a release. When a keyring
// is configured the detached signature is fetched as well and verification
// failure is fatal.
func (c *Client) Checksums(ctx context.Context, version *semver.Version) (Checksums, error) {
	url := fmt.Sprintf("%s/v%s/SHASUMS256.txt", c.baseURL, version)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	if c.keyringPath != "" {
		sig, err := c.fetchSignature(ctx, version)
		if err != nil {
			return nil, err
		}

		if err := verifyDetached(c.keyringPath, data, sig); err != nil {
			return nil, fmt.Errorf("checksum file signature for v%s: %w", version, err)
		}
	}

	sums, err := ParseChecksums(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}

	return sums, nil
}

func (c *Client) fetchSignature(ctx context.Context, version *semver.Version) ([]byte, error) {
	url := fmt.Sprintf("%s/v%s/SHASUMS256.txt.asc", c.baseURL, version)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return io.ReadAll(body)
}

// DownloadArchive streams the distribution archive for a triple into
// destPath, writing through a temporary file renamed only on full success so
// an interrupted download never looks complete.
func (c *Client) DownloadArchive(ctx context.Context, triple platform.Triple, destPath string) error {
	url := fmt.Sprintf("%s/v%s/%s", c.baseURL, triple.Version, triple.ArchiveName())

	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}

	tmpPath := destPath + ".partial"

	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}

	if _, err := io.Copy(tmpFile, body); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return &FetchError{URL: url, Err: err}
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing download file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing download file: %w", err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &FetchError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return resp.Body, nil
}
