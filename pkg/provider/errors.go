package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors every provider normalizes its failures to.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")

	// ErrUnsupported is returned when a provider lacks an optional capability
	// such as delete.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Reason is a short, stable classification of a provider failure. It is what
// job records and preflight results report instead of SDK error text.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotFound           Reason = "not_found"
	ReasonBucketNotFound     Reason = "bucket_not_found"
	ReasonAccessDenied       Reason = "access_denied"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonThrottled          Reason = "throttled"
	ReasonUnavailable        Reason = "unavailable"
	ReasonUnsupported        Reason = "unsupported"
	ReasonOther              Reason = "other"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	// Bucket before object: a missing bucket is the more specific answer.
	{ErrBucketNotFound, ReasonBucketNotFound},
	{ErrNotFound, ReasonNotFound},
	{ErrAccessDenied, ReasonAccessDenied},
	{ErrInvalidCredentials, ReasonInvalidCredentials},
	{ErrThrottled, ReasonThrottled},
	{ErrProviderUnavailable, ReasonUnavailable},
	{ErrUnsupported, ReasonUnsupported},
}

// ReasonOf classifies err. It returns ReasonNone for nil and ReasonOther for
// errors that did not come from a provider sentinel.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonOther
}

// ProviderError records which object operation failed.
type ProviderError struct {
	Op       string // e.g. "Head", "GetObject", "PutObject"
	Provider ProviderType
	Bucket   string // empty for the file provider
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err is a permissions failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound reports whether err means the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}
