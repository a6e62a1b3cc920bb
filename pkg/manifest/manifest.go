// Package manifest provides loading and validation of bamverify job manifests.
//
// A job manifest is a YAML or JSON file describing one verification run as
// an alternative to passing every reference on the command line.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	inputs:
//	  vcf: s3://reference/hapmap_3.3.b37.sites.vcf
//	  bam: s3://genomes/NA12878/NA12878.bam
//	  bai: s3://genomes/NA12878/NA12878.bam.bai
//	results: s3://qc-results/NA12878/NA12878
//	cmd_args:
//	  - ignoreRG
//	  - precise
//	working_dir: /scratch
package manifest

import (
	"fmt"

	"github.com/3leaps/bamverify/pkg/job"
	"github.com/3leaps/bamverify/pkg/mount"
	"github.com/3leaps/bamverify/pkg/remote"
)

// Manifest represents a validated job manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/bamverify/v1.0.0/job-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Inputs names the three objects to stage.
	Inputs InputsConfig `json:"inputs" yaml:"inputs"`

	// Results is the remote prefix artifacts are uploaded under.
	Results string `json:"results" yaml:"results"`

	// CmdArgs are extra verifyBamID flags without their leading dashes.
	CmdArgs []string `json:"cmd_args,omitempty" yaml:"cmd_args,omitempty"`

	// WorkingDir is where the per-run directory is created. Default: /scratch.
	WorkingDir string `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`

	// Storage overrides the S3 connection settings (optional).
	Storage StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`

	// Output configures where JSONL records go (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// InputsConfig holds the input object URIs.
type InputsConfig struct {
	VCF string `json:"vcf" yaml:"vcf"`
	BAM string `json:"bam" yaml:"bam"`
	BAI string `json:"bai" yaml:"bai"`
}

// StorageConfig configures the S3 connection.
type StorageConfig struct {
	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// OutputConfig configures output destination.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultWorkingDir is the default base for the per-run directory.
	DefaultWorkingDir = mount.DefaultMountPoint

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.WorkingDir == "" {
		m.WorkingDir = DefaultWorkingDir
	}
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
}

// Request converts the manifest into a job request, parsing every URI.
func (m *Manifest) Request() (job.Request, error) {
	var (
		req job.Request
		err error
	)
	for _, f := range []struct {
		name string
		uri  string
		dst  *remote.Ref
	}{
		{"inputs.vcf", m.Inputs.VCF, &req.VCF},
		{"inputs.bam", m.Inputs.BAM, &req.BAM},
		{"inputs.bai", m.Inputs.BAI, &req.BAI},
		{"results", m.Results, &req.Results},
	} {
		if *f.dst, err = remote.Parse(f.uri); err != nil {
			return job.Request{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	req.ExtraFlags = append([]string(nil), m.CmdArgs...)
	req.WorkingDirBase = m.WorkingDir
	return req, nil
}
