// Package preflight checks a job's storage permissions before anything is
// declared to the host.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/3leaps/bamverify/pkg/output"
	"github.com/3leaps/bamverify/pkg/provider"
	"github.com/3leaps/bamverify/pkg/remote"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly performs no remote calls.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe only issues metadata reads.
	ModeReadSafe Mode = "read-safe"

	// ModeWriteProbe additionally writes and deletes a probe object next to
	// the results prefix.
	ModeWriteProbe Mode = "write-probe"
)

// ParseMode validates a mode name. The empty string selects ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeReadSafe, nil
	case ModePlanOnly, ModeReadSafe, ModeWriteProbe:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown preflight mode %q (plan-only|read-safe|write-probe)", s)
	}
}

// Capability names are stable strings used in JSONL output.
const (
	CapInputHead    = "input.head"
	CapResultsHead  = "results.head"
	CapResultsWrite = "results.write"
)

// probeSuffix marks objects the write probe creates. They are appended to
// the results prefix so the probe lands where the artifacts will.
const probeSuffix = ".bamverify-probe-"

// Target is the storage surface the checks touch.
type Target interface {
	Size(ctx context.Context, ref remote.Ref) (int64, error)
	Put(ctx context.Context, ref remote.Ref, body io.Reader, size int64) error
	Delete(ctx context.Context, ref remote.Ref) error
}

// Run checks the job's storage permissions.
//
// Ordering (fail-fast): results write probe (write-probe mode) → input head
// for each input → results head.
func Run(ctx context.Context, t Target, inputs []remote.Ref, results remote.Ref, mode Mode) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:    string(mode),
		Results: []output.PreflightCheckResult{},
	}

	if mode == ModePlanOnly {
		return rec, nil
	}

	if mode == ModeWriteProbe {
		if err := writeProbe(ctx, t, results, rec); err != nil {
			return rec, err
		}
	}

	for _, ref := range inputs {
		_, err := t.Size(ctx, ref)
		rec.Results = append(rec.Results, result(CapInputHead, ref, "Head", err))
		if err != nil {
			return rec, fmt.Errorf("%s %s: %w", CapInputHead, ref, err)
		}
	}

	// A random key next to the results: not-found means the bucket is
	// reachable and readable.
	probe := results.WithSuffix(probeSuffix + uuid.NewString())
	_, err := t.Size(ctx, probe)
	if provider.IsNotFound(err) {
		err = nil
	}
	rec.Results = append(rec.Results, result(CapResultsHead, results, "Head(random)", err))
	if err != nil {
		return rec, fmt.Errorf("%s %s: %w", CapResultsHead, results, err)
	}

	return rec, nil
}

func writeProbe(ctx context.Context, t Target, results remote.Ref, rec *output.PreflightRecord) error {
	const method = "PutObject+DeleteObject"
	probe := results.WithSuffix(probeSuffix + uuid.NewString())

	err := t.Put(ctx, probe, bytes.NewReader(nil), 0)
	if err == nil {
		err = t.Delete(ctx, probe)
	}
	rec.Results = append(rec.Results, result(CapResultsWrite, results, method, err))
	if err != nil {
		return fmt.Errorf("%s %s: %w", CapResultsWrite, results, err)
	}
	return nil
}

func result(capability string, ref remote.Ref, method string, err error) output.PreflightCheckResult {
	r := output.PreflightCheckResult{
		Capability: capability,
		Target:     ref.String(),
		Allowed:    err == nil,
		Method:     method,
	}
	if err != nil {
		r.ErrorCode = normalizeErrorCode(err)
		r.Detail = err.Error()
	}
	return r
}

func normalizeErrorCode(err error) string {
	switch provider.ReasonOf(err) {
	case provider.ReasonAccessDenied, provider.ReasonInvalidCredentials:
		return output.ErrCodeAccessDenied
	case provider.ReasonBucketNotFound:
		return output.ErrCodeBucketNotFound
	case provider.ReasonNotFound:
		return output.ErrCodeNotFound
	case provider.ReasonThrottled:
		return output.ErrCodeThrottled
	case provider.ReasonUnavailable:
		return output.ErrCodeUnavailable
	default:
		return output.ErrCodeInternal
	}
}
