package observability

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/bamverify/pkg/artifact"
	"github.com/3leaps/bamverify/pkg/job"
	"github.com/3leaps/bamverify/pkg/output"
	"github.com/3leaps/bamverify/pkg/provider"
)

// LogObserver logs each stage transition.
type LogObserver struct {
	Logger *zap.Logger
}

func (o LogObserver) logger() *zap.Logger {
	if o.Logger == nil {
		return CLILogger
	}
	return o.Logger
}

func detailFields(detail map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(detail))
	for k, v := range detail {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (o LogObserver) StageStarted(_ context.Context, ev job.StageEvent) {
	o.logger().Debug("Stage started",
		zap.String("job_id", ev.JobID),
		zap.String("stage", string(ev.Stage)))
}

func (o LogObserver) StageCompleted(_ context.Context, ev job.StageEvent) {
	fields := append([]zap.Field{
		zap.String("job_id", ev.JobID),
		zap.String("stage", string(ev.Stage)),
		zap.Duration("duration", ev.Duration),
	}, detailFields(ev.Detail)...)
	o.logger().Info("Stage completed", fields...)
}

func (o LogObserver) StageFailed(_ context.Context, ev job.StageEvent) {
	fields := append([]zap.Field{
		zap.String("job_id", ev.JobID),
		zap.String("stage", string(ev.Stage)),
		zap.Duration("duration", ev.Duration),
		zap.Error(ev.Err),
	}, detailFields(ev.Detail)...)
	o.logger().Error("Stage failed", fields...)
}

func (o LogObserver) ArtifactUploaded(_ context.Context, jobID string, u artifact.Uploaded) {
	o.logger().Info("Artifact uploaded",
		zap.String("job_id", jobID),
		zap.String("suffix", u.Suffix),
		zap.String("dest", u.Dest.String()),
		zap.Int64("size", u.Size))
}

func (o LogObserver) JobFinished(_ context.Context, sum *job.Summary) {
	if sum.Success() {
		o.logger().Info("Job completed",
			zap.String("job_id", sum.JobID),
			zap.Int64("total_size", sum.TotalSize),
			zap.Int("artifacts", len(sum.Artifacts)),
			zap.Duration("duration", sum.Duration))
		return
	}
	o.logger().Error("Job failed",
		zap.String("job_id", sum.JobID),
		zap.String("failed_stage", string(sum.FailedStage)),
		zap.Duration("duration", sum.Duration),
		zap.Error(sum.Err))
}

// RecordObserver emits JSONL records for stage transitions, uploads and the
// final summary. Write failures are logged, never returned.
type RecordObserver struct {
	Writer output.Writer
}

func (o RecordObserver) warn(err error) {
	if err != nil {
		CLILogger.Warn("Failed to write output record", zap.Error(err))
	}
}

func (o RecordObserver) StageStarted(ctx context.Context, ev job.StageEvent) {
	o.warn(o.Writer.WriteStage(ctx, &output.StageRecord{
		Stage:  string(ev.Stage),
		Status: output.StatusStarted,
	}))
}

func (o RecordObserver) StageCompleted(ctx context.Context, ev job.StageEvent) {
	o.warn(o.Writer.WriteStage(ctx, &output.StageRecord{
		Stage:    string(ev.Stage),
		Status:   output.StatusCompleted,
		Duration: ev.Duration,
		Detail:   ev.Detail,
	}))
}

func (o RecordObserver) StageFailed(ctx context.Context, ev job.StageEvent) {
	ctx = context.WithoutCancel(ctx)
	o.warn(o.Writer.WriteStage(ctx, &output.StageRecord{
		Stage:    string(ev.Stage),
		Status:   output.StatusFailed,
		Duration: ev.Duration,
		Detail:   ev.Detail,
	}))
	o.warn(o.Writer.WriteError(ctx, &output.ErrorRecord{
		Code:    ErrorCode(ev.Err),
		Message: errorMessage(ev.Err),
		Stage:   string(ev.Stage),
		Details: providerDetails(ev.Err),
	}))
}

func (o RecordObserver) ArtifactUploaded(ctx context.Context, _ string, u artifact.Uploaded) {
	o.warn(o.Writer.WriteArtifact(ctx, &output.ArtifactRecord{
		Suffix: u.Suffix,
		Local:  u.Path,
		Dest:   u.Dest.String(),
		Size:   u.Size,
	}))
}

func (o RecordObserver) JobFinished(ctx context.Context, sum *job.Summary) {
	rec := &output.SummaryRecord{
		State:         string(sum.State),
		Success:       sum.Success(),
		TotalSize:     sum.TotalSize,
		Duration:      sum.Duration,
		DurationHuman: sum.Duration.Round(time.Millisecond).String(),
		FailedStage:   string(sum.FailedStage),
	}
	for _, a := range sum.Artifacts {
		rec.Artifacts = append(rec.Artifacts, a.Dest.String())
	}
	// Cancellation must not suppress the summary.
	o.warn(o.Writer.WriteSummary(context.WithoutCancel(ctx), rec))
}

// ErrorCode maps a job error to its JSONL error code.
func ErrorCode(err error) string {
	switch job.KindOf(err) {
	case job.ErrLookup:
		return output.ErrCodeLookup
	case job.ErrIO:
		return output.ErrCodeIO
	case job.ErrTimeout:
		return output.ErrCodeTimeout
	case job.ErrDownload:
		return output.ErrCodeDownload
	case job.ErrToolExecution:
		return output.ErrCodeToolExecution
	case job.ErrUpload:
		return output.ErrCodeUpload
	case job.ErrResource:
		return output.ErrCodeResource
	default:
		return output.ErrCodeInternal
	}
}

// providerDetails describes the storage failure behind err, if there is one.
func providerDetails(err error) map[string]any {
	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		return nil
	}
	d := map[string]any{
		"provider": string(pe.Provider),
		"op":       pe.Op,
		"reason":   string(provider.ReasonOf(pe)),
	}
	if pe.Bucket != "" {
		d["bucket"] = pe.Bucket
	}
	if pe.Key != "" {
		d["key"] = pe.Key
	}
	return d
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *job.StageError
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

var (
	_ job.Observer = LogObserver{}
	_ job.Observer = RecordObserver{}
)
