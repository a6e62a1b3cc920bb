// Package workdir allocates and releases the per-run staging directory.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir is one job run's staging directory. It is exclusively owned by the run
// that created it.
type Dir struct {
	path string
}

// Create makes a new uniquely named directory under base.
//
// The parent must already exist: on a freshly provisioned host base is the
// scratch mount point, and creating it here would put staged inputs on the
// root filesystem instead of the attached disk.
func Create(base string) (*Dir, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("working directory base is empty")
	}
	st, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("working directory base: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("working directory base %s is not a directory", base)
	}

	path := filepath.Join(base, uuid.New().String())
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory's absolute or base-relative path.
func (d *Dir) Path() string {
	return d.path
}

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Release removes the directory and everything in it. Releasing twice, or
// releasing a directory someone already partly removed, is not an error.
func (d *Dir) Release() error {
	if d == nil {
		return nil
	}
	return Release(d.path)
}

// Release removes path recursively. A missing path is not an error.
func Release(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("refusing to remove empty path")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}
	return nil
}
