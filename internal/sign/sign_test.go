package sign

import (
	"fmt"
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
	name string
	args []string
}

func signerFor(hostOS platform.OS, calls *[]recordedCall, result *fakeCommand) *Signer {
	s := New()
	s.hostOS = hostOS
	s.execCommand = func(name string, args ...string) Commander {
		*calls = append(*calls, recordedCall{name: name, args: args})
		return result
	}

	return s
}

func TestSign_LinuxNotRequired(t *testing.T) {
	var calls []recordedCall

	res, err := signerFor(platform.Linux, &calls, &fakeCommand{}).Sign("/out/app", platform.Linux)
	require.NoError(t, err)
	assert.Equal(t, NotRequired, res.Status)
	assert.Empty(t, calls, "no signing tool runs for linux")
}

func TestSign_DarwinOnDarwin(t *testing.T) {
	var calls []recordedCall

	res, err := signerFor(platform.Darwin, &calls, &fakeCommand{}).Sign("/out/app", platform.Darwin)
	require.NoError(t, err)
	assert.Equal(t, Signed, res.Status)

	require.Len(t, calls, 1)
	assert.Equal(t, "codesign", calls[0].name)
	assert.Equal(t, []string{"--force", "--sign", "-", "/out/app"}, calls[0].args)
}

func TestSign_WindowsOnWindows(t *testing.T) {
	var calls []recordedCall

	res, err := signerFor(platform.Windows, &calls, &fakeCommand{}).Sign("/out/app.exe", platform.Windows)
	require.NoError(t, err)
	assert.Equal(t, Signed, res.Status)

	require.Len(t, calls, 1)
	assert.Equal(t, "signtool", calls[0].name)
	assert.Equal(t, []string{"sign", "/fd", "SHA256", "/out/app.exe"}, calls[0].args)
}

func TestSign_CrossHostUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		hostOS   platform.OS
		targetOS platform.OS
		tool     string
	}{
		{"darwin target from linux", platform.Linux, platform.Darwin, "codesign"},
		{"windows target from darwin", platform.Darwin, platform.Windows, "signtool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []recordedCall

			res, err := signerFor(tt.hostOS, &calls, &fakeCommand{}).Sign("/out/app", tt.targetOS)
			require.NoError(t, err, "unavailable signing is not a build failure")
			assert.Equal(t, Unavailable, res.Status)
			assert.Contains(t, res.Remediation, tt.tool)
			assert.Empty(t, calls)
		})
	}
}

func TestSign_ToolFailure(t *testing.T) {
	var calls []recordedCall

	failing := &fakeCommand{output: []byte("errSecInternalComponent"), err: fmt.Errorf("exit status 1")}

	_, err := signerFor(platform.Darwin, &calls, failing).Sign("/out/app", platform.Darwin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "errSecInternalComponent")
}
