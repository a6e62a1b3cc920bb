package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits the JSONL records of one job. Implementations must be safe
// for concurrent use and emit each record as one complete line.
type Writer interface {
	WriteStage(ctx context.Context, stage *StageRecord) error
	WriteArtifact(ctx context.Context, artifact *ArtifactRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	WritePreflight(ctx context.Context, rec *PreflightRecord) error
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON. Every record gets
// the next sequence number, starting at 1.
type JSONLWriter struct {
	w        io.Writer
	jobID    string
	provider string
	now      func() time.Time

	mu     sync.Mutex
	seq    uint64
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter returns a writer for jobID. provider names the results
// storage ("s3", "file") and is stamped on every envelope.
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{
		w:        w,
		jobID:    jobID,
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WriteStage(ctx context.Context, stage *StageRecord) error {
	return jw.write(ctx, TypeStage, stage)
}

func (jw *JSONLWriter) WriteArtifact(ctx context.Context, artifact *ArtifactRecord) error {
	return jw.write(ctx, TypeArtifact, artifact)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.write(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.write(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, rec *PreflightRecord) error {
	return jw.write(ctx, TypePreflight, rec)
}

// Close rejects further records. The underlying io.Writer is left open;
// its owner closes it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) write(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(Record{
		Type:     recordType,
		Seq:      jw.seq + 1,
		TS:       jw.now(),
		JobID:    jw.jobID,
		Provider: jw.provider,
		Data:     payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeAll(jw.w, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	// A failed write does not consume a sequence number.
	jw.seq++
	return nil
}

// writeAll retries short writes so a record line is never truncated.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
