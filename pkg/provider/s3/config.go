// Package s3 implements the provider interfaces for AWS S3 and S3-compatible storage.
package s3

import (
	"net/url"
)

// DefaultAWSRegion is used when neither configuration nor instance metadata
// name a region.
const DefaultAWSRegion = "us-east-1"

// Config configures the provider for one bucket.
//
// Credentials come from AccessKeyID/SecretAccessKey when both are set, else
// from the SDK default chain (environment, shared files with Profile, then
// the instance or task role).
//
// Region resolution for AWS: Region, then the SDK's environment/profile
// value, then EC2 instance metadata (unless SkipIMDSRegion), then
// DefaultAWSRegion. S3-compatible stores (Endpoint set) get no default.
type Config struct {
	Bucket   string // required
	Region   string
	Endpoint string // absolute http(s) URL of an S3-compatible store
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path. It is implied by Endpoint,
	// since moto, MinIO and Ceph gateways rarely serve virtual-host buckets.
	ForcePathStyle bool

	SkipIMDSRegion bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: "must be an absolute http(s) URL"}
		}
	}
	return nil
}

func (c *Config) usePathStyle() bool {
	return c.ForcePathStyle || c.Endpoint != ""
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
