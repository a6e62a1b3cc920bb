package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "deadbeef", "2024-06-01")

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "bamverify 1.2.3")
	assert.Contains(t, out.String(), "commit deadbeef")
}

func TestExitCode(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", base, 1},
		{"exit code error", exitError(foundry.ExitInvalidArgument, "bad", base), int(foundry.ExitInvalidArgument)},
		{"wrapped exit code error", fmt.Errorf("outer: %w", exitError(foundry.ExitFileWriteError, "write", base)), int(foundry.ExitFileWriteError)},
		{"tool failure", exitError(exitToolFailure, "tool", base), exitToolFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitCodeError_Message(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Invalid job request", errors.New("missing bam"))
	assert.Equal(t, "Invalid job request: missing bam", err.Error())

	var ece *ExitCodeError
	require.ErrorAs(t, err, &ece)
	assert.Equal(t, "missing bam", errors.Unwrap(err).Error())

	assert.Equal(t, "only message", exitError(1, "only message", nil).Error())
}
