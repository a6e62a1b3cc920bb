package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// DefaultMaxOutput bounds how much of each stream is kept in a Result.
const DefaultMaxOutput = 1 << 20

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the tool itself has been killed.
const waitDelay = 5 * time.Second

// Result describes a completed tool run.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// ExitError reports a tool run that finished with a non-zero status.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// Runner executes an invocation exactly once.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner runs the tool as a child process without a shell.
type ExecRunner struct {
	// Stdout and Stderr receive the tool's streams as they are produced.
	// Nil discards.
	Stdout io.Writer
	Stderr io.Writer

	// MaxOutput caps captured bytes per stream; 0 uses DefaultMaxOutput.
	MaxOutput int
}

// Run starts the tool and waits for it. A non-zero exit yields *ExitError
// together with the populated Result.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	name := inv.command()
	cmd := exec.CommandContext(ctx, name, inv.Args()...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = waitDelay

	stdout := &boundedBuffer{limit: limit}
	stderr := &boundedBuffer{limit: limit}
	cmd.Stdout = io.MultiWriter(stdout, orDiscard(r.Stdout))
	cmd.Stderr = io.MultiWriter(stderr, orDiscard(r.Stderr))

	result := &Result{StartTime: time.Now()}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	err := cmd.Wait()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("%s interrupted: %w", name, ctxErr)
			}
			return result, &ExitError{Command: name, Code: result.ExitCode, Stderr: result.Stderr}
		}
		result.ExitCode = -1
		return result, fmt.Errorf("wait %s: %w", name, err)
	}
	return result, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// boundedBuffer keeps the first limit bytes written and silently drops the
// rest so a chatty tool cannot exhaust memory.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
