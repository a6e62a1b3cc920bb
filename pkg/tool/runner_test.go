//go:build unix

package tool

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script standing in for the tool.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-verifyBamID")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	script := writeScript(t, `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--out" ]; then out="$2"; fi
  shift
done
echo "selfSM" > "$out.selfSM"
echo "analysis done"
echo "progress" >&2
`)
	dir := t.TempDir()
	var echoed bytes.Buffer
	r := &ExecRunner{Stdout: &echoed, Stderr: &echoed}

	res, err := r.Run(context.Background(), Invocation{
		Command:   script,
		VCF:       "v",
		BAM:       "b",
		BAI:       "i",
		OutPrefix: filepath.Join(dir, "data-out"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "analysis done\n", res.Stdout)
	assert.Equal(t, "progress\n", res.Stderr)
	assert.Contains(t, echoed.String(), "analysis done")
	assert.FileExists(t, filepath.Join(dir, "data-out.selfSM"))
}

func TestExecRunner_PassesArgsVerbatim(t *testing.T) {
	script := writeScript(t, `for a in "$@"; do echo "$a"; done`)
	r := &ExecRunner{}

	res, err := r.Run(context.Background(), Invocation{
		Command:    script,
		VCF:        "a b.vcf",
		BAM:        "$HOME",
		BAI:        "x;y",
		OutPrefix:  "o",
		ExtraFlags: []string{"maxDepth 1000"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--vcf", "a b.vcf", "--bam", "$HOME", "--bai", "x;y", "--out", "o", "--maxDepth", "1000",
	}, strings.Split(strings.TrimSpace(res.Stdout), "\n"))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "bad bam header" >&2; exit 3`)
	r := &ExecRunner{}

	res, err := r.Run(context.Background(), Invocation{Command: script})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "bad bam header")
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunner_MissingCommand(t *testing.T) {
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Invocation{Command: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Nil(t, res)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecRunner_Cancelled(t *testing.T) {
	script := writeScript(t, `exec sleep 30`)
	r := &ExecRunner{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, Invocation{Command: script})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBoundedBuffer(t *testing.T) {
	b := &boundedBuffer{limit: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, _ = b.Write([]byte("ij"))

	assert.Equal(t, "abcde\n[output truncated]", b.String())
}
