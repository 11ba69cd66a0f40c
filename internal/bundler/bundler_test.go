package bundler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seapack/seapack/internal/platform"
)

type fakeCommand struct {
	output []byte
	err    error
}

func (f *fakeCommand) CombinedOutput() ([]byte, error) {
	return f.output, f.err
}

type recordedCall struct {
	dir  string
	name string
	args []string
}

func fakeExec(calls *[]recordedCall, result *fakeCommand) func(string, string, ...string) Commander {
	return func(dir, name string, args ...string) Commander {
		*calls = append(*calls, recordedCall{dir: dir, name: name, args: args})
		return result
	}
}

func TestInstall_CommandShape(t *testing.T) {
	var calls []recordedCall

	b := New()
	b.execCommand = fakeExec(&calls, &fakeCommand{})

	err := b.Install("/tmp/staged", platform.Target{OS: platform.Windows, Arch: platform.Arm64})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "/tmp/staged", calls[0].dir)
	assert.Equal(t, "npm", calls[0].name)
	assert.Equal(t, []string{"install", "--target_platform=win", "--target_arch=arm64"}, calls[0].args)
}

func TestInstall_FailureIncludesOutput(t *testing.T) {
	var calls []recordedCall

	b := New()
	b.execCommand = fakeExec(&calls, &fakeCommand{output: []byte("npm ERR! 404"), err: fmt.Errorf("exit status 1")})

	err := b.Install("/tmp/staged", platform.HostTarget())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "npm ERR! 404")
}

func TestBundle_CommandShape(t *testing.T) {
	var calls []recordedCall

	b := New()
	b.execCommand = fakeExec(&calls, &fakeCommand{})

	out, err := b.Bundle("/tmp/staged", "src/index.ts")
	require.NoError(t, err)
	assert.Equal(t, OutFileName, out)

	require.Len(t, calls, 1)
	assert.Equal(t, "npx", calls[0].name)
	assert.Equal(t, "esbuild", calls[0].args[0])
	assert.Equal(t, "src/index.ts", calls[0].args[1])
	assert.Contains(t, strings.Join(calls[0].args, " "), "--platform=node")
}

func TestBundle_Failure(t *testing.T) {
	var calls []recordedCall

	b := New()
	b.execCommand = fakeExec(&calls, &fakeCommand{output: []byte("error: Could not resolve"), err: fmt.Errorf("exit status 1")})

	_, err := b.Bundle("/tmp/staged", "index.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not resolve")
}
