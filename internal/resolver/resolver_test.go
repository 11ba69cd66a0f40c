package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/platform"
)

type fakeManifest struct {
	releases []manifest.Release
	err      error
}

func (f *fakeManifest) Releases(_ context.Context) ([]manifest.Release, error) {
	return f.releases, f.err
}

func release(version string, files ...string) manifest.Release {
	return manifest.Release{Version: semver.MustParse(version), Files: files}
}

var allPlatforms = []string{"linux-x64", "linux-arm64", "osx-x64-tar", "osx-arm64-tar", "win-x64-zip"}

func TestResolve_ExactVersion(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{
		release("3.2.1", allPlatforms...),
		release("3.3.0", allPlatforms...),
	}}

	triples, err := New(client).Resolve(context.Background(), "3.2.1", "", []platform.Target{{OS: platform.Linux, Arch: platform.X64}})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "3.2.1", triples[0].Version.String())
}

func TestResolve_ConstraintPicksHighestMatch(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{
		release("3.1.9", allPlatforms...),
		release("3.3.0", allPlatforms...),
		release("3.2.1", allPlatforms...),
	}}

	triples, err := New(client).Resolve(context.Background(), "^3.2.0", "", []platform.Target{{OS: platform.Linux, Arch: platform.X64}})
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "3.3.0", triples[0].Version.String())
}

func TestResolve_TildeConstraint(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{
		release("3.1.9", allPlatforms...),
		release("3.2.1", allPlatforms...),
		release("3.3.0", allPlatforms...),
	}}

	triples, err := New(client).Resolve(context.Background(), "~3.2.0", "", []platform.Target{{OS: platform.Linux, Arch: platform.X64}})
	require.NoError(t, err)
	assert.Equal(t, "3.2.1", triples[0].Version.String())
}

func TestResolve_NoMatch(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{release("3.1.9", allPlatforms...)}}

	_, err := New(client).Resolve(context.Background(), "^4.0.0", "", []platform.Target{{OS: platform.Linux, Arch: platform.X64}})

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestResolve_TargetNotOffered(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{release("3.2.1", "linux-x64")}}

	_, err := New(client).Resolve(context.Background(), "3.2.1", "", []platform.Target{{OS: platform.Windows, Arch: platform.Arm64}})

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Error(), "not published for win/arm64")
}

func TestResolve_ProjectPinFromNvmrc(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".nvmrc"), []byte("v3.2.1\n"), 0o644))

	client := &fakeManifest{releases: []manifest.Release{
		release("3.2.1", allPlatforms...),
		release("3.3.0", allPlatforms...),
	}}

	triples, err := New(client).Resolve(context.Background(), "", projectDir, []platform.Target{{OS: platform.Linux, Arch: platform.X64}})
	require.NoError(t, err)
	assert.Equal(t, "3.2.1", triples[0].Version.String())
}

func TestResolve_NoPinAnywhere(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{release("3.2.1", allPlatforms...)}}

	_, err := New(client).Resolve(context.Background(), "", t.TempDir(), []platform.Target{{OS: platform.Linux, Arch: platform.X64}})

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestReadProjectPin(t *testing.T) {
	t.Run("node-version file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".node-version"), []byte("20.11.1"), 0o644))

		pin, err := ReadProjectPin(dir)
		require.NoError(t, err)
		assert.Equal(t, "20.11.1", pin)
	})

	t.Run("volta pin wins over engines", func(t *testing.T) {
		dir := t.TempDir()
		pkg := `{"name": "app", "volta": {"node": "20.11.1"}, "engines": {"node": ">=18"}, "future-field": {"ignored": true}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))

		pin, err := ReadProjectPin(dir)
		require.NoError(t, err)
		assert.Equal(t, "20.11.1", pin)
	})

	t.Run("engines range", func(t *testing.T) {
		dir := t.TempDir()
		pkg := `{"name": "app", "engines": {"node": "^20.9.0"}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))

		pin, err := ReadProjectPin(dir)
		require.NoError(t, err)
		assert.Equal(t, "^20.9.0", pin)
	})

	t.Run("unparsable package.json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{not json"), 0o644))

		_, err := ReadProjectPin(dir)

		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})

	t.Run("package.json without a pin", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name": "app"}`), 0o644))

		_, err := ReadProjectPin(dir)

		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})

	t.Run("garbage nvmrc", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".nvmrc"), []byte("two words here"), 0o644))

		_, err := ReadProjectPin(dir)
		require.Error(t, err)
	})
}

func TestResolveHost(t *testing.T) {
	client := &fakeManifest{releases: []manifest.Release{release("3.2.1", allPlatforms...)}}

	triple, err := New(client).ResolveHost(context.Background(), semver.MustParse("3.2.1"))
	require.NoError(t, err)
	assert.Equal(t, platform.HostTarget(), triple.Target())
}
