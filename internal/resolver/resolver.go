// Package resolver turns user input or project metadata into the exact
// Node.js triples a build will target.
package resolver

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/platform"
)

// ResolutionError reports bad or ambiguous version input, an unusable
// project pin, or a triple the dist does not offer.
type ResolutionError struct {
	Msg string
	Err error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving node version: %s: %v", e.Msg, e.Err)
	}

	return "resolving node version: " + e.Msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ManifestClient is the slice of the dist client the resolver needs.
type ManifestClient interface {
	Releases(ctx context.Context) ([]manifest.Release, error)
}

// Resolver picks the concrete version and validates target availability.
type Resolver struct {
	client ManifestClient
}

// New creates a resolver backed by the given dist client.
func New(client ManifestClient) *Resolver {
	return &Resolver{client: client}
}

// Resolve produces one triple per requested target.
//
// The version comes from, in order: an explicit exact version, an explicit
// semver range resolved against the release index (highest satisfying
// version wins), or the project's pinned version (see ReadProjectPin). No
// explicit input and no project pin is a ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, explicit, projectDir string, targets []platform.Target) ([]platform.Triple, error) {
	spec := explicit

	if spec == "" {
		pin, err := ReadProjectPin(projectDir)
		if err != nil {
			return nil, err
		}

		spec = pin
	}

	version, releases, err := r.resolveVersion(ctx, spec)
	if err != nil {
		return nil, err
	}

	triples := make([]platform.Triple, 0, len(targets))

	for _, target := range targets {
		if err := checkAvailability(releases, version, target); err != nil {
			return nil, err
		}

		triples = append(triples, platform.NewTriple(version, target))
	}

	return triples, nil
}

// ResolveHost resolves the host-platform triple for an already-chosen
// version, used when blob generation needs a host-compatible runtime.
func (r *Resolver) ResolveHost(ctx context.Context, version *semver.Version) (platform.Triple, error) {
	releases, err := r.client.Releases(ctx)
	if err != nil {
		return platform.Triple{}, err
	}

	host := platform.HostTarget()

	if err := checkAvailability(releases, version, host); err != nil {
		return platform.Triple{}, err
	}

	return platform.NewTriple(version, host), nil
}

func (r *Resolver) resolveVersion(ctx context.Context, spec string) (*semver.Version, []manifest.Release, error) {
	// An exact version needs no index round-trip unless targets are checked
	// later; fetch once either way since availability checks need it.
	releases, err := r.client.Releases(ctx)
	if err != nil {
		return nil, nil, err
	}

	if version, vErr := semver.NewVersion(trimV(spec)); vErr == nil {
		return version, releases, nil
	}

	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return nil, nil, &ResolutionError{Msg: fmt.Sprintf("%q is neither a version nor a valid semver range", spec), Err: err}
	}

	var best *semver.Version

	for _, release := range releases {
		if !constraint.Check(release.Version) {
			continue
		}

		if best == nil || release.Version.GreaterThan(best) {
			best = release.Version
		}
	}

	if best == nil {
		return nil, nil, &ResolutionError{Msg: fmt.Sprintf("no published node version satisfies %q", spec)}
	}

	return best, releases, nil
}

func checkAvailability(releases []manifest.Release, version *semver.Version, target platform.Target) error {
	for _, release := range releases {
		if !release.Version.Equal(version) {
			continue
		}

		if release.Offers(target) {
			return nil
		}

		return &ResolutionError{Msg: fmt.Sprintf("node v%s is not published for %s", version, target)}
	}

	return &ResolutionError{Msg: fmt.Sprintf("node v%s is not in the release index", version)}
}
