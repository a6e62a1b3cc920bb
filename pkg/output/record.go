// Package output provides JSONL output for verification jobs.
//
// Output is structured as typed record envelopes describing stage
// transitions, uploaded artifacts, errors and the final summary. Each line
// is a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: bamverify.<type>.v<version>
const (
	// TypeStage identifies stage transition records.
	TypeStage = "bamverify.stage.v1"

	// TypeArtifact identifies uploaded artifact records.
	TypeArtifact = "bamverify.artifact.v1"

	// TypeError identifies error records.
	TypeError = "bamverify.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "bamverify.summary.v1"

	// TypePreflight identifies preflight permission check records.
	TypePreflight = "bamverify.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "bamverify.stage.v1").
	Type string `json:"type"`

	// Seq numbers the job's records from 1 without gaps.
	Seq uint64 `json:"seq"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this job run.
	JobID string `json:"job_id"`

	// Provider identifies the results storage provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Stage status values.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StageRecord is the data payload for a stage transition.
type StageRecord struct {
	// Stage is the state the job is entering (e.g., "mounted").
	Stage string `json:"stage"`

	// Status is one of started, completed or failed.
	Status string `json:"status"`

	// Duration is how long the stage took. Zero for started records.
	Duration time.Duration `json:"duration_ns,omitempty"`

	// Detail carries stage-specific context such as the declared size or
	// the tool command line.
	Detail map[string]any `json:"detail,omitempty"`
}

// ArtifactRecord is the data payload for an uploaded result file.
type ArtifactRecord struct {
	Suffix string `json:"suffix"`
	Local  string `json:"local"`
	Dest   string `json:"dest"`
	Size   int64  `json:"size"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Stage is the stage that failed, if known.
	Stage string `json:"stage,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord. They correspond to the job's failure kinds.
const (
	ErrCodeLookup        = "LOOKUP"
	ErrCodeIO            = "IO"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeDownload      = "DOWNLOAD"
	ErrCodeToolExecution = "TOOL_EXECUTION"
	ErrCodeUpload        = "UPLOAD"
	ErrCodeResource      = "RESOURCE"
	ErrCodeInternal      = "INTERNAL"
)

// Preflight error codes classify a denied capability check.
const (
	ErrCodeAccessDenied   = "ACCESS_DENIED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBucketNotFound = "BUCKET_NOT_FOUND"
	ErrCodeThrottled      = "THROTTLED"
	ErrCodeUnavailable    = "PROVIDER_UNAVAILABLE"
)

// PreflightRecord is the data payload for the permission checks run before
// a job starts.
type PreflightRecord struct {
	// Mode is plan-only, read-safe or write-probe.
	Mode string `json:"mode"`

	// Results lists each capability check in the order it ran.
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is one capability check.
type PreflightCheckResult struct {
	// Capability is a stable name such as "input.read" or "results.write".
	Capability string `json:"capability"`

	// Target is the URI the check touched.
	Target string `json:"target"`

	Allowed bool   `json:"allowed"`
	Method  string `json:"method"`

	ErrorCode string `json:"error_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	// State is the terminal state the job reached ("released" or "failed").
	State string `json:"state"`

	// Success reports whether every stage, including release, succeeded.
	Success bool `json:"success"`

	// TotalSize is the declared input size in bytes.
	TotalSize int64 `json:"total_size"`

	// Artifacts lists the remote URIs of uploaded artifacts.
	Artifacts []string `json:"artifacts,omitempty"`

	// Duration is the total job duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// FailedStage names the stage that failed, if any.
	FailedStage string `json:"failed_stage,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
