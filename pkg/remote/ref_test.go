package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr error
		want    Ref
	}{
		{
			name: "s3 object",
			uri:  "s3://genomes/NA12878/NA12878.bam",
			want: Ref{Scheme: SchemeS3, Bucket: "genomes", Key: "NA12878/NA12878.bam"},
		},
		{
			name: "scheme is case insensitive",
			uri:  "S3://genomes/a.vcf",
			want: Ref{Scheme: SchemeS3, Bucket: "genomes", Key: "a.vcf"},
		},
		{
			name: "surrounding whitespace trimmed",
			uri:  "  s3://genomes/a.vcf\n",
			want: Ref{Scheme: SchemeS3, Bucket: "genomes", Key: "a.vcf"},
		},
		{
			name: "file path",
			uri:  "file:///data/in/sample.vcf.gz",
			want: Ref{Scheme: SchemeFile, Key: "data/in/sample.vcf.gz"},
		},
		{
			name: "file with localhost authority",
			uri:  "file://localhost/data/x.bai",
			want: Ref{Scheme: SchemeFile, Key: "data/x.bai"},
		},
		{name: "empty", uri: "", wantErr: ErrInvalidURI},
		{name: "no scheme", uri: "genomes/a.bam", wantErr: ErrInvalidURI},
		{name: "unsupported scheme", uri: "gs://genomes/a.bam", wantErr: ErrUnsupportedScheme},
		{name: "missing bucket", uri: "s3:///a.bam", wantErr: ErrMissingBucket},
		{name: "bucket only", uri: "s3://genomes", wantErr: ErrMissingKey},
		{name: "prefix only", uri: "s3://genomes/NA12878/", wantErr: ErrMissingKey},
		{name: "relative file", uri: "file://data/a.bam", wantErr: ErrInvalidURI},
		{name: "file root", uri: "file:///", wantErr: ErrMissingKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.uri)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRef_StringRoundTrip(t *testing.T) {
	for _, uri := range []string{
		"s3://genomes/NA12878/NA12878.bam",
		"file:///data/in/sample.vcf",
	} {
		assert.Equal(t, uri, MustParse(uri).String())
	}
}

func TestRef_WithSuffix(t *testing.T) {
	base := MustParse("s3://results/NA12878/verify")

	got := base.WithSuffix(".selfSM")
	assert.Equal(t, "s3://results/NA12878/verify.selfSM", got.String())
	assert.Equal(t, "NA12878/verify", base.Key, "receiver must not change")
}

func TestRef_Base(t *testing.T) {
	assert.Equal(t, "NA12878.bam", MustParse("s3://genomes/NA12878/NA12878.bam").Base())
	assert.Equal(t, "x.vcf", MustParse("file:///x.vcf").Base())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
