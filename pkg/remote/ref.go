// Package remote resolves object references (s3:// and file:// URIs) to
// storage providers and moves single objects between them and local disk.
package remote

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedScheme indicates the URI scheme is not supported.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingBucket indicates an s3 URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")

	// ErrMissingKey indicates the URI names no object.
	ErrMissingKey = errors.New("missing object key")
)

const (
	SchemeS3   = "s3"
	SchemeFile = "file"
)

// Ref identifies one remote object.
//
// Example URIs:
//   - s3://bucket/NA12878/NA12878.bam
//   - file:///data/NA12878/NA12878.bam
//
// For file refs Bucket is empty and Key is the absolute path without its
// leading slash.
type Ref struct {
	Scheme string
	Bucket string
	Key    string
}

// String returns the reference in canonical URI form.
func (r Ref) String() string {
	if r.Scheme == SchemeFile {
		return "file:///" + r.Key
	}
	return fmt.Sprintf("%s://%s/%s", r.Scheme, r.Bucket, r.Key)
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r == Ref{}
}

// Base returns the last element of the key.
func (r Ref) Base() string {
	return path.Base(r.Key)
}

// WithSuffix returns a ref whose key is r's key with suffix appended
// verbatim, e.g. s3://b/results/NA12878 + ".selfSM".
func (r Ref) WithSuffix(suffix string) Ref {
	r.Key += suffix
	return r
}

// Parse parses an object URI.
//
// Supported formats:
//   - s3://bucket/key
//   - file:///absolute/path
//
// The key must be non-empty: a bare bucket or directory-style URI does not
// name an object.
func Parse(uri string) (Ref, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Ref{}, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return Ref{}, fmt.Errorf("%w: missing scheme (expected s3://... or file://...)", ErrInvalidURI)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]

	switch scheme {
	case SchemeS3:
		return parseS3(uri, remainder)
	case SchemeFile:
		return parseFile(uri, remainder)
	default:
		return Ref{}, fmt.Errorf("%w: %s (supported: s3, file)", ErrUnsupportedScheme, scheme)
	}
}

// MustParse is Parse for constants in tests and defaults; it panics on error.
func MustParse(uri string) Ref {
	r, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return r
}

func parseS3(uri, remainder string) (Ref, error) {
	var bucket, key string
	if slashIdx := strings.Index(remainder, "/"); slashIdx == -1 {
		bucket = remainder
	} else {
		bucket = remainder[:slashIdx]
		key = remainder[slashIdx+1:]
	}

	if bucket == "" {
		return Ref{}, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	// Basic validation - S3 bucket names can't contain most special chars.
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return Ref{}, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return Ref{}, fmt.Errorf("%w: in %s", ErrMissingKey, uri)
	}

	return Ref{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
}

func parseFile(uri, remainder string) (Ref, error) {
	// file:///abs/path has an empty authority; file://localhost/abs/path is accepted too.
	remainder = strings.TrimPrefix(remainder, "localhost")
	if !strings.HasPrefix(remainder, "/") {
		return Ref{}, fmt.Errorf("%w: file URI must be absolute: %s", ErrInvalidURI, uri)
	}
	key := strings.TrimPrefix(path.Clean(remainder), "/")
	if key == "" || strings.HasSuffix(remainder, "/") {
		return Ref{}, fmt.Errorf("%w: in %s", ErrMissingKey, uri)
	}
	return Ref{Scheme: SchemeFile, Key: key}, nil
}
