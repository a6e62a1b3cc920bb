//go:build cloudintegration

package preflight_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bamverify/pkg/preflight"
	"github.com/3leaps/bamverify/pkg/remote"
	"github.com/3leaps/bamverify/test/cloudtest"
)

func TestRun_WriteProbe_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "in/NA12878.bam", []byte("bam"))
	s := cloudtest.Store(t)

	inputs := []remote.Ref{remote.MustParse("s3://" + bucket + "/in/NA12878.bam")}
	results := remote.MustParse("s3://" + bucket + "/out/NA12878")

	rec, err := preflight.Run(ctx, s, inputs, results, preflight.ModeWriteProbe)
	require.NoError(t, err)
	require.Len(t, rec.Results, 3)
	for _, r := range rec.Results {
		assert.True(t, r.Allowed, r.Capability)
	}

	assert.Empty(t, cloudtest.Keys(t, ctx, bucket, "out/"), "probe leaves nothing behind at the results prefix")
}

func TestRun_MissingInput_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	s := cloudtest.Store(t)

	inputs := []remote.Ref{remote.MustParse("s3://" + bucket + "/in/missing.bam")}
	rec, err := preflight.Run(ctx, s, inputs, remote.MustParse("s3://"+bucket+"/out/x"), preflight.ModeReadSafe)
	require.Error(t, err)
	require.Len(t, rec.Results, 1)
	assert.Equal(t, "NOT_FOUND", rec.Results[0].ErrorCode)
}
