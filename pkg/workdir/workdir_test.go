package workdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	base := t.TempDir()

	a, err := Create(base)
	require.NoError(t, err)
	b, err := Create(base)
	require.NoError(t, err)

	assert.NotEqual(t, a.Path(), b.Path())
	assert.Equal(t, base, filepath.Dir(a.Path()))

	st, err := os.Stat(a.Path())
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, filepath.Join(a.Path(), "data-out"), a.Join("data-out"))
}

func TestCreate_Errors(t *testing.T) {
	t.Run("empty base", func(t *testing.T) {
		_, err := Create(" ")
		assert.Error(t, err)
	})

	t.Run("base not mounted yet", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "scratch"))
		assert.Error(t, err)
	})

	t.Run("base is a file", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(f, nil, 0o644))
		_, err := Create(f)
		assert.Error(t, err)
	})
}

func TestRelease_Idempotent(t *testing.T) {
	d, err := Create(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(d.Join("nested", "deeper"), 0o755))
	require.NoError(t, os.WriteFile(d.Join("nested", "sample.bam"), []byte("bam"), 0o644))

	require.NoError(t, d.Release())
	_, err = os.Stat(d.Path())
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, d.Release())
	assert.NoError(t, Release(d.Path()))

	var nilDir *Dir
	assert.NoError(t, nilDir.Release())
}

func TestRelease_EmptyPath(t *testing.T) {
	assert.Error(t, Release(""))
}
