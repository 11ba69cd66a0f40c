// Package builder sequences a full packaging run: resolve the version,
// acquire runtimes, stage the project, generate the blob, inject it and
// finalize signing, fanning out one pipeline per requested target.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/seapack/seapack/internal/bundler"
	"github.com/seapack/seapack/internal/cache"
	"github.com/seapack/seapack/internal/inject"
	"github.com/seapack/seapack/internal/manifest"
	"github.com/seapack/seapack/internal/platform"
	"github.com/seapack/seapack/internal/project"
	"github.com/seapack/seapack/internal/resolver"
	"github.com/seapack/seapack/internal/seablob"
	"github.com/seapack/seapack/internal/sign"
)

// Options are the per-invocation build inputs.
type Options struct {
	// ProjectDir is the JavaScript project to package.
	ProjectDir string

	// OutputDir receives one executable per target.
	OutputDir string

	// Version is an explicit version or semver range; empty means the
	// project pin decides.
	Version string

	// Targets to build for; at least one.
	Targets []platform.Target

	// Bundle normalizes the entry script with esbuild before blob
	// generation.
	Bundle bool
}

// TargetResult is the terminal outcome of one target's pipeline.
type TargetResult struct {
	Triple     platform.Triple
	OutputPath string
	Signing    sign.Result
	Err        error
}

// Report aggregates the per-target outcomes of one build invocation.
type Report struct {
	Results []TargetResult
}

// OK reports whether every target succeeded.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}

	return true
}

// Seams over the pipeline stages so tests can substitute each collaborator.
type (
	versionResolver interface {
		Resolve(ctx context.Context, explicit, projectDir string, targets []platform.Target) ([]platform.Triple, error)
		ResolveHost(ctx context.Context, version *semver.Version) (platform.Triple, error)
	}

	runtimeCache interface {
		Acquire(ctx context.Context, triple platform.Triple, src cache.ArchiveSource) (*cache.Entry, error)
	}

	projectBundler interface {
		Install(projectDir string, target platform.Target) error
		Bundle(projectDir, entry string) (string, error)
	}

	blobCompiler interface {
		Compile(stagedDir string, seaCfg *project.SEAConfig, hostNodeExe string) (string, error)
	}

	executableSigner interface {
		Sign(exePath string, targetOS platform.OS) (sign.Result, error)
	}
)

// Builder runs packaging pipelines against a shared cache and dist client.
type Builder struct {
	resolver versionResolver
	cache    runtimeCache
	source   cache.ArchiveSource
	bundler  projectBundler
	compiler blobCompiler
	signer   executableSigner
	injectFn func(exePath, blobPath string, targetOS platform.OS) error
	logf     func(format string, args ...any)
}

// New wires a builder with the production collaborators.
func New(client *manifest.Client, runtimeCache *cache.Cache) *Builder {
	return &Builder{
		resolver: resolver.New(client),
		cache:    runtimeCache,
		source:   client,
		bundler:  bundler.New(),
		compiler: seablob.NewCompiler(),
		signer:   sign.New(),
		injectFn: inject.Inject,
		logf:     func(string, ...any) {},
	}
}

// SetLogOutput enables progress output, written to w.
func (b *Builder) SetLogOutput(w io.Writer) {
	b.logf = func(format string, args ...any) {
		fmt.Fprintf(w, format+"\n", args...)
	}
}

// Build runs the pipeline for every requested target and returns the
// aggregate report. Pre-flight failures (unreadable project, unresolvable
// version, missing host runtime) abort the whole invocation; per-target
// failures abort only that target and the rest still complete.
func (b *Builder) Build(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("no build targets")
	}

	seaCfg, pkgCfg, err := project.Load(opts.ProjectDir)
	if err != nil {
		return nil, err
	}

	if !opts.Bundle {
		if needs, reason := seablob.NeedsBundling(seaCfg, pkgCfg); needs {
			return nil, &seablob.UnsupportedModuleSyntaxError{Entry: entryScript(seaCfg, pkgCfg), Reason: reason}
		}
	}

	triples, err := b.resolver.Resolve(ctx, opts.Version, opts.ProjectDir, opts.Targets)
	if err != nil {
		return nil, err
	}

	hostExe, err := b.acquireHostRuntime(ctx, triples)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	b.logf("building %s for %d target(s) with node v%s", pkgCfg.Name, len(triples), triples[0].Version)

	// Each target operates on its own staged copy, cache slot and output
	// path; the cache serializes shared slots internally.
	report := &Report{Results: make([]TargetResult, len(triples))}

	var wg sync.WaitGroup

	for i, triple := range triples {
		wg.Add(1)

		go func(i int, triple platform.Triple) {
			defer wg.Done()

			report.Results[i] = b.buildTarget(ctx, triple, hostExe, seaCfg, pkgCfg, opts, len(triples) > 1)
		}(i, triple)
	}

	wg.Wait()

	return report, nil
}

// acquireHostRuntime returns the path to a host-compatible executable of
// the resolved version, which is the only build allowed to generate blobs.
func (b *Builder) acquireHostRuntime(ctx context.Context, triples []platform.Triple) (string, error) {
	host := platform.HostTarget()
	version := triples[0].Version

	hostTriple := platform.Triple{}

	for _, triple := range triples {
		if triple.SameHost() {
			hostTriple = triple
			break
		}
	}

	if hostTriple.Version == nil {
		resolved, err := b.resolver.ResolveHost(ctx, version)
		if err != nil {
			return "", &seablob.CrossCompileBlobUnsupportedError{Version: version.String(), Host: host, Err: err}
		}

		hostTriple = resolved
	}

	entry, err := b.cache.Acquire(ctx, hostTriple, b.source)
	if err != nil {
		return "", err
	}

	return entry.ExecutablePath, nil
}

// buildTarget runs one target's pipeline to its terminal state. Every
// failure path leaves no file at the output path.
func (b *Builder) buildTarget(ctx context.Context, triple platform.Triple, hostExe string, seaCfg *project.SEAConfig, pkgCfg *project.PackageConfig, opts Options, multi bool) TargetResult {
	res := TargetResult{Triple: triple}
	target := triple.Target()

	entry, err := b.cache.Acquire(ctx, triple, b.source)
	if err != nil {
		res.Err = err
		return res
	}

	staged, err := os.MkdirTemp("", "seapack-build-")
	if err != nil {
		res.Err = fmt.Errorf("failed to create build directory: %w", err)
		return res
	}
	defer os.RemoveAll(staged)

	if err := project.Stage(opts.ProjectDir, staged); err != nil {
		res.Err = fmt.Errorf("failed to stage project: %w", err)
		return res
	}

	b.logf("[%s] installing dependencies", target)

	if err := b.bundler.Install(staged, target); err != nil {
		res.Err = err
		return res
	}

	// Work on a per-target copy: bundling repoints main, and targets must
	// not see each other's rewrites.
	cfg := *seaCfg

	if opts.Bundle {
		b.logf("[%s] bundling %s", target, entryScript(seaCfg, pkgCfg))

		bundled, err := b.bundler.Bundle(staged, entryScript(seaCfg, pkgCfg))
		if err != nil {
			res.Err = err
			return res
		}

		cfg.SetMain(bundled)

		if err := cfg.WriteFile(filepath.Join(staged, project.SEAConfigName)); err != nil {
			res.Err = fmt.Errorf("failed to rewrite %s: %w", project.SEAConfigName, err)
			return res
		}
	}

	b.logf("[%s] generating startup blob", target)

	blobPath, err := b.compiler.Compile(staged, &cfg, hostExe)
	if err != nil {
		res.Err = err
		return res
	}

	outPath := filepath.Join(opts.OutputDir, outputName(pkgCfg.Name, target, multi))
	tmpPath := outPath + ".tmp"

	if err := copyFile(entry.ExecutablePath, tmpPath); err != nil {
		res.Err = fmt.Errorf("failed to copy runtime executable: %w", err)
		return res
	}

	b.logf("[%s] injecting blob into %s", target, filepath.Base(outPath))

	if err := b.injectFn(tmpPath, blobPath, triple.OS); err != nil {
		os.Remove(tmpPath)
		res.Err = err

		return res
	}

	if triple.OS != platform.Windows {
		if err := os.Chmod(tmpPath, 0o755); err != nil {
			os.Remove(tmpPath)
			res.Err = fmt.Errorf("failed to mark output executable: %w", err)

			return res
		}
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		res.Err = fmt.Errorf("failed to finalize output: %w", err)

		return res
	}

	res.OutputPath = outPath

	signing, err := b.signer.Sign(outPath, triple.OS)
	if err != nil {
		res.Err = err
		return res
	}

	res.Signing = signing

	if signing.Status == sign.Unavailable {
		b.logf("[%s] signing unavailable: %s", target, signing.Remediation)
	}

	return res
}

// outputName derives the executable name from the package name. With more
// than one target the names would collide in one output directory, so the
// target is folded in.
func outputName(pkgName string, target platform.Target, multi bool) string {
	name := pkgName

	if multi {
		name = fmt.Sprintf("%s-%s-%s", pkgName, target.OS, target.Arch)
	}

	if target.OS == platform.Windows {
		name += ".exe"
	}

	return name
}

func entryScript(seaCfg *project.SEAConfig, pkgCfg *project.PackageConfig) string {
	if pkgCfg.Main != "" {
		return pkgCfg.Main
	}

	return seaCfg.Main
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)

	return err
}
