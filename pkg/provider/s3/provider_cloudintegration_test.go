//go:build cloudintegration

package s3_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bamverify/pkg/provider"
	"github.com/3leaps/bamverify/pkg/provider/s3"
	"github.com/3leaps/bamverify/test/cloudtest"
)

func newMotoProvider(t *testing.T, ctx context.Context, bucket string) *s3.Provider {
	t.Helper()
	p, err := s3.New(ctx, cloudtest.ProviderConfig(bucket))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_Head_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "NA12878/sample.bam", bytes.Repeat([]byte("b"), 200))
	p := newMotoProvider(t, ctx, bucket)

	t.Run("reports object size", func(t *testing.T) {
		meta, err := p.Head(ctx, "NA12878/sample.bam")
		require.NoError(t, err)
		assert.Equal(t, int64(200), meta.Size)
		assert.NotEmpty(t, meta.ETag)
	})

	t.Run("missing object maps to ErrNotFound", func(t *testing.T) {
		_, err := p.Head(ctx, "NA12878/missing.bai")
		require.Error(t, err)
		assert.True(t, provider.IsNotFound(err))
	})

	t.Run("missing bucket is an error", func(t *testing.T) {
		other := newMotoProvider(t, ctx, "nonexistent-bucket-12345")
		_, err := other.Head(ctx, "any")
		require.Error(t, err)
	})
}

func TestProvider_GetPut_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newMotoProvider(t, ctx, bucket)

	content := []byte("#SEQ_ID\tRG\tCHIP_ID\n")
	require.NoError(t, p.PutObject(ctx, "results/NA12878.selfSM", bytes.NewReader(content), int64(len(content))))
	assert.Equal(t, content, cloudtest.GetObject(t, ctx, bucket, "results/NA12878.selfSM"))

	body, n, err := p.GetObject(ctx, "results/NA12878.selfSM")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	assert.Equal(t, int64(len(content)), n)

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, _, err = p.GetObject(ctx, "results/missing")
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_DeleteObject_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newMotoProvider(t, ctx, bucket)

	require.NoError(t, p.PutObject(ctx, "results/.probe", bytes.NewReader([]byte("x")), 1))
	require.NoError(t, p.DeleteObject(ctx, "results/.probe"))

	_, err := p.Head(ctx, "results/.probe")
	assert.True(t, provider.IsNotFound(err))

	assert.NoError(t, p.DeleteObject(ctx, "results/.probe"))
}
