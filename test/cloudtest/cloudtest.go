// Package cloudtest runs bamverify's storage paths against a moto S3 server.
//
// Tests that use it carry the cloudintegration build tag and call
// SkipIfUnavailable first:
//
//	func TestUpload_CloudIntegration(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    job := cloudtest.SeedJob(t, ctx)
//	    store := cloudtest.Store(t)
//	    ...
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/3leaps/bamverify/pkg/provider"
	providers3 "github.com/3leaps/bamverify/pkg/provider/s3"
	"github.com/3leaps/bamverify/pkg/remote"
)

const (
	// DefaultEndpoint avoids 5000, which macOS AirPlay holds.
	DefaultEndpoint = "http://localhost:5555"
	DefaultRegion   = "us-east-1"

	// moto accepts any static credentials.
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

var (
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)
	Region   = envOr("MOTO_REGION", DefaultRegion)

	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Available reports whether the moto management API answers.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto not reachable at %s (set MOTO_ENDPOINT)", Endpoint)
	}
}

// ProviderConfig is the s3 provider configuration for bucket on moto.
func ProviderConfig(bucket string) providers3.Config {
	return providers3.Config{
		Bucket:          bucket,
		Region:          Region,
		Endpoint:        Endpoint,
		AccessKeyID:     TestAccessKeyID,
		SecretAccessKey: TestSecretAccessKey,
		SkipIMDSRegion:  true,
	}
}

// Store returns a remote.Store whose s3:// refs resolve against moto. It is
// closed when the test ends.
func Store(t *testing.T) *remote.Store {
	t.Helper()
	s := remote.NewStore(func(ctx context.Context, ref remote.Ref) (provider.Provider, error) {
		if ref.Scheme != remote.SchemeS3 {
			return nil, fmt.Errorf("%w: %s", remote.ErrUnsupportedScheme, ref.Scheme)
		}
		return providers3.New(ctx, ProviderConfig(ref.Bucket))
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rawClient talks to moto directly, for seeding and inspecting buckets.
func rawClient(t *testing.T) *s3.Client {
	t.Helper()
	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(TestAccessKeyID, TestSecretAccessKey, "")),
		)
		if err != nil {
			clientErr = fmt.Errorf("load config: %w", err)
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	if clientErr != nil {
		t.Fatalf("moto client: %v", clientErr)
	}
	return client
}

// CreateBucket creates an empty bucket named after the test and removes it,
// with its contents, when the test ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	name := strings.NewReplacer("/", "-", "_", "-").Replace(strings.ToLower(t.Name()))
	if len(name) > 40 {
		name = name[:40]
	}
	name = strings.Trim(name, "-") + "-" + uuid.NewString()[:8]

	c := rawClient(t)
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { deleteBucket(t, name) })
	return name
}

func deleteBucket(t *testing.T, bucket string) {
	ctx := context.Background()
	c := rawClient(t)
	for _, key := range Keys(t, ctx, bucket, "") {
		if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
			t.Logf("cleanup: delete %s/%s: %v", bucket, key, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cleanup: delete bucket %s: %v", bucket, err)
	}
}

func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	_, err := rawClient(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

func GetObject(t *testing.T, ctx context.Context, bucket, key string) []byte {
	t.Helper()
	out, err := rawClient(t).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("get %s/%s: %v", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("read %s/%s: %v", bucket, key, err)
	}
	return data
}

// Keys lists the keys under prefix, sorted.
func Keys(t *testing.T, ctx context.Context, bucket, prefix string) []string {
	t.Helper()
	var keys []string
	pages := s3.NewListObjectsV2Paginator(rawClient(t), &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Fatalf("list %s/%s: %v", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys
}

// Job is a seeded set of inputs plus an empty results prefix.
type Job struct {
	Bucket        string
	VCF, BAM, BAI remote.Ref
	Results       remote.Ref
	TotalSize     int64
}

// SeedJob creates a bucket holding a 100-byte vcf, 200-byte bam and 50-byte
// bai, with results to be written under out/NA12878.
func SeedJob(t *testing.T, ctx context.Context) Job {
	t.Helper()
	bucket := CreateBucket(t, ctx)
	ref := func(key string) remote.Ref {
		return remote.Ref{Scheme: remote.SchemeS3, Bucket: bucket, Key: key}
	}
	objects := []struct {
		key  string
		size int
	}{
		{"ref/hapmap.vcf", 100},
		{"in/NA12878.bam", 200},
		{"in/NA12878.bam.bai", 50},
	}
	var total int64
	for _, o := range objects {
		PutObject(t, ctx, bucket, o.key, bytes.Repeat([]byte{'x'}, o.size))
		total += int64(o.size)
	}
	return Job{
		Bucket:    bucket,
		VCF:       ref(objects[0].key),
		BAM:       ref(objects[1].key),
		BAI:       ref(objects[2].key),
		Results:   ref("out/NA12878"),
		TotalSize: total,
	}
}
