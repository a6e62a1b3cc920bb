// Package provision declares a job's expected disk usage to the host.
//
// The host runs an out-of-band agent that watches a well-known file and
// attaches a scratch volume big enough for the declared byte count. The
// write is one-way: nothing acknowledges it, and the only evidence the agent
// acted is the scratch mount appearing (see package mount).
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultSizeFile is where the host agent looks for the declared size.
const DefaultSizeFile = "/TOTAL_SIZE"

// Signal declares the total input size of a job.
type Signal interface {
	Declare(ctx context.Context, size int64) error
}

// FileSignal writes the size as decimal text to Path.
type FileSignal struct {
	Path string
}

var _ Signal = (*FileSignal)(nil)

// Declare writes size to the sentinel file. The value is written to a temp
// file beside it and renamed into place so the agent never reads a partial
// number.
func (s *FileSignal) Declare(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("declared size must be non-negative, got %d", size)
	}
	path := s.Path
	if path == "" {
		path = DefaultSizeFile
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp size file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(strconv.FormatInt(size, 10)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write size file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod size file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close size file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename size file: %w", err)
	}
	return nil
}

// SignalFunc adapts a function to Signal.
type SignalFunc func(ctx context.Context, size int64) error

func (f SignalFunc) Declare(ctx context.Context, size int64) error {
	return f(ctx, size)
}
