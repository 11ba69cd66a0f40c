package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seapack/seapack/internal/cache"
	"github.com/seapack/seapack/internal/platform"
	"github.com/seapack/seapack/internal/project"
	"github.com/seapack/seapack/internal/seablob"
	"github.com/seapack/seapack/internal/sign"
)

type fakeResolver struct {
	triples []platform.Triple
	err     error
	hostErr error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string, _ []platform.Target) ([]platform.Triple, error) {
	return f.triples, f.err
}

func (f *fakeResolver) ResolveHost(_ context.Context, version *semver.Version) (platform.Triple, error) {
	if f.hostErr != nil {
		return platform.Triple{}, f.hostErr
	}

	return platform.NewTriple(version, platform.HostTarget()), nil
}

type fakeCache struct {
	dir  string
	fail map[string]error // triple key -> acquire error
}

func (f *fakeCache) Acquire(_ context.Context, triple platform.Triple, _ cache.ArchiveSource) (*cache.Entry, error) {
	if err := f.fail[triple.Key()]; err != nil {
		return nil, err
	}

	exePath := filepath.Join(f.dir, triple.Key())

	if err := os.WriteFile(exePath, []byte("bare runtime "+triple.Key()), 0o755); err != nil {
		return nil, err
	}

	return &cache.Entry{Key: triple.Key(), ExecutablePath: exePath}, nil
}

type fakeBundler struct {
	installs []string
	bundles  []string
	err      error
}

func (f *fakeBundler) Install(projectDir string, _ platform.Target) error {
	f.installs = append(f.installs, projectDir)
	return f.err
}

func (f *fakeBundler) Bundle(projectDir, entry string) (string, error) {
	f.bundles = append(f.bundles, entry)

	if f.err != nil {
		return "", f.err
	}

	return "bundled.js", nil
}

type fakeCompiler struct {
	mains []string
}

func (f *fakeCompiler) Compile(stagedDir string, seaCfg *project.SEAConfig, _ string) (string, error) {
	f.mains = append(f.mains, seaCfg.Main)

	blobPath := filepath.Join(stagedDir, seaCfg.Output)

	return blobPath, os.WriteFile(blobPath, []byte("blob for "+seaCfg.Main), 0o644)
}

type fakeSigner struct {
	result sign.Result
}

func (f *fakeSigner) Sign(_ string, targetOS platform.OS) (sign.Result, error) {
	if targetOS == platform.Linux {
		return sign.Result{Status: sign.NotRequired}, nil
	}

	return f.result, nil
}

// writeProject lays out a minimal packageable project.
func writeProject(t *testing.T, entry string, extra map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	seaCfg := fmt.Sprintf(`{"main": %q, "output": "app.blob"}`, entry)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sea-config.json"), []byte(seaCfg), 0o644))

	pkg := `{"name": "myapp", "version": "1.0.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, entry), []byte("console.log('hi')\n"), 0o644))

	for name, content := range extra {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	return dir
}

func testBuilder(t *testing.T, triples ...platform.Triple) (*Builder, *fakeBundler, *fakeCompiler, *fakeCache) {
	t.Helper()

	fb := &fakeBundler{}
	fc := &fakeCompiler{}
	fcache := &fakeCache{dir: t.TempDir(), fail: map[string]error{}}

	b := &Builder{
		resolver: &fakeResolver{triples: triples},
		cache:    fcache,
		bundler:  fb,
		compiler: fc,
		signer:   &fakeSigner{},
		injectFn: func(exePath, blobPath string, _ platform.OS) error {
			blob, err := os.ReadFile(blobPath)
			if err != nil {
				return err
			}

			f, err := os.OpenFile(exePath, os.O_APPEND|os.O_WRONLY, 0)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = f.Write(blob)

			return err
		},
		logf: func(string, ...any) {},
	}

	return b, fb, fc, fcache
}

func hostTriple(t *testing.T, version string) platform.Triple {
	t.Helper()

	v := semver.MustParse(version)

	return platform.NewTriple(v, platform.HostTarget())
}

func TestBuild_SingleTarget(t *testing.T) {
	triple := hostTriple(t, "20.11.1")
	b, _, fc, _ := testBuilder(t, triple)

	outDir := filepath.Join(t.TempDir(), "dist")

	report, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.js", nil),
		OutputDir:  outDir,
		Targets:    []platform.Target{triple.Target()},
	})
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Len(t, report.Results, 1)

	res := report.Results[0]

	wantName := "myapp"
	if platform.HostOS() == platform.Windows {
		wantName = "myapp.exe"
	}

	assert.Equal(t, filepath.Join(outDir, wantName), res.OutputPath)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bare runtime")
	assert.Contains(t, string(data), "blob for index.js")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(res.OutputPath)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode().Perm()&0o111, "output must be executable")
	}

	assert.Equal(t, []string{"index.js"}, fc.mains)

	// No temp files survive next to the output.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuild_MultiTargetIndependence(t *testing.T) {
	v := semver.MustParse("20.11.1")
	good := platform.NewTriple(v, platform.HostTarget())
	bad := platform.Triple{Version: v, OS: platform.Windows, Arch: platform.Arm64}

	if good.OS == platform.Windows {
		bad.OS = platform.Linux
	}

	b, _, _, fcache := testBuilder(t, good, bad)
	fcache.fail[bad.Key()] = &cache.IntegrityError{Archive: bad.ArchiveName(), Expected: "aa", Actual: "bb"}

	outDir := t.TempDir()

	report, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.js", nil),
		OutputDir:  outDir,
		Targets:    []platform.Target{good.Target(), bad.Target()},
	})
	require.NoError(t, err)
	assert.False(t, report.OK())

	require.Len(t, report.Results, 2)
	require.NoError(t, report.Results[0].Err)

	var integrity *cache.IntegrityError
	require.ErrorAs(t, report.Results[1].Err, &integrity)

	// The good target's output exists and carries the triple suffix.
	assert.FileExists(t, report.Results[0].OutputPath)
	assert.Contains(t, filepath.Base(report.Results[0].OutputPath), string(good.OS))
	assert.Empty(t, report.Results[1].OutputPath)
}

func TestBuild_UnbundledModuleSyntaxRejected(t *testing.T) {
	triple := hostTriple(t, "20.11.1")
	b, fb, _, _ := testBuilder(t, triple)

	_, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.mjs", nil),
		OutputDir:  t.TempDir(),
		Targets:    []platform.Target{triple.Target()},
	})
	require.Error(t, err)

	var unsupported *seablob.UnsupportedModuleSyntaxError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, err.Error(), "--bundle")
	assert.Empty(t, fb.installs, "nothing runs after the pre-flight rejection")
}

func TestBuild_BundleRewritesEntry(t *testing.T) {
	triple := hostTriple(t, "20.11.1")
	b, fb, fc, _ := testBuilder(t, triple)

	report, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.mjs", nil),
		OutputDir:  t.TempDir(),
		Targets:    []platform.Target{triple.Target()},
		Bundle:     true,
	})
	require.NoError(t, err)
	assert.True(t, report.OK())

	assert.Equal(t, []string{"index.mjs"}, fb.bundles)
	assert.Equal(t, []string{"bundled.js"}, fc.mains, "blob generation sees the bundled entry")
}

func TestBuild_InjectFailureRemovesOutput(t *testing.T) {
	triple := hostTriple(t, "20.11.1")
	b, _, _, _ := testBuilder(t, triple)
	b.injectFn = func(_, _ string, _ platform.OS) error {
		return errors.New("no fuse marker")
	}

	outDir := t.TempDir()

	report, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.js", nil),
		OutputDir:  outDir,
		Targets:    []platform.Target{triple.Target()},
	})
	require.NoError(t, err)
	assert.False(t, report.OK())

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed injection leaves no output file")
}

func TestBuild_CrossCompileWithoutHostRuntime(t *testing.T) {
	v := semver.MustParse("20.11.1")

	// A target that is never the host, so blob generation needs a separate
	// host runtime of the same version.
	foreign := platform.Triple{Version: v, OS: platform.Windows, Arch: platform.Arm64}
	if platform.HostTarget() == foreign.Target() {
		foreign.OS = platform.Linux
	}

	b, _, _, _ := testBuilder(t, foreign)
	b.resolver = &fakeResolver{
		triples: []platform.Triple{foreign},
		hostErr: errors.New("v20.11.1 not published for host"),
	}

	_, err := b.Build(context.Background(), Options{
		ProjectDir: writeProject(t, "index.js", nil),
		OutputDir:  t.TempDir(),
		Targets:    []platform.Target{foreign.Target()},
	})

	var crossErr *seablob.CrossCompileBlobUnsupportedError
	require.ErrorAs(t, err, &crossErr)
	assert.Equal(t, "20.11.1", crossErr.Version)
	assert.Contains(t, crossErr.Error(), "host-compatible runtime")
}

func TestBuild_NoTargets(t *testing.T) {
	b, _, _, _ := testBuilder(t)

	_, err := b.Build(context.Background(), Options{ProjectDir: t.TempDir()})
	require.Error(t, err)
}

func TestOutputName(t *testing.T) {
	linux := platform.Target{OS: platform.Linux, Arch: platform.X64}
	win := platform.Target{OS: platform.Windows, Arch: platform.Arm64}

	assert.Equal(t, "app", outputName("app", linux, false))
	assert.Equal(t, "app.exe", outputName("app", win, false))
	assert.Equal(t, "app-linux-x64", outputName("app", linux, true))
	assert.Equal(t, "app-win-arm64.exe", outputName("app", win, true))
}
