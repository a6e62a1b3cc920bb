// Package staging sizes the job's remote inputs and brings them onto local
// scratch disk.
package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/bamverify/pkg/remote"
)

// Sizer reports the size of a remote object.
type Sizer interface {
	Size(ctx context.Context, ref remote.Ref) (int64, error)
}

// Downloader copies a remote object into a local directory and returns the
// resulting path.
type Downloader interface {
	Download(ctx context.Context, ref remote.Ref, dir string) (string, error)
}

// Inputs are the three remote objects a verification run needs.
type Inputs struct {
	VCF remote.Ref
	BAM remote.Ref
	BAI remote.Ref
}

// Refs returns the inputs in staging order.
func (in Inputs) Refs() []remote.Ref {
	return []remote.Ref{in.VCF, in.BAM, in.BAI}
}

// ErrNameCollision reports two inputs that would be staged to the same
// local file.
var ErrNameCollision = errors.New("inputs share a base name")

// CheckNames fails when two inputs have the same base name. Inputs are staged
// flat into one directory, so the later download would replace the earlier.
func (in Inputs) CheckNames() error {
	roles := []string{"vcf", "bam", "bai"}
	seen := make(map[string]string, 3)
	for i, ref := range in.Refs() {
		name := ref.Base()
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s and %s are both %q", ErrNameCollision, prev, roles[i], name)
		}
		seen[name] = roles[i]
	}
	return nil
}

// Staged holds the local paths of successfully downloaded inputs.
type Staged struct {
	VCF string
	BAM string
	BAI string
}

// TotalSize sums the sizes of refs. It stops at the first lookup failure;
// a partial sum is never returned.
func TotalSize(ctx context.Context, sizer Sizer, refs []remote.Ref) (int64, error) {
	var total int64
	for _, ref := range refs {
		n, err := sizer.Size(ctx, ref)
		if err != nil {
			return 0, fmt.Errorf("size of %s: %w", ref, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("size of %s: negative size %d", ref, n)
		}
		total += n
	}
	return total, nil
}

// Stage downloads one object into dir.
func Stage(ctx context.Context, d Downloader, ref remote.Ref, dir string) (string, error) {
	path, err := d.Download(ctx, ref, dir)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	return path, nil
}

// StageInputs downloads vcf, bam and bai into dir, in that order. Either all
// three are staged or an error is returned.
func StageInputs(ctx context.Context, d Downloader, in Inputs, dir string, onStaged func(ref remote.Ref, path string)) (*Staged, error) {
	if err := in.CheckNames(); err != nil {
		return nil, err
	}
	var paths [3]string
	for i, ref := range in.Refs() {
		path, err := Stage(ctx, d, ref, dir)
		if err != nil {
			return nil, err
		}
		paths[i] = path
		if onStaged != nil {
			onStaged(ref, path)
		}
	}
	return &Staged{VCF: paths[0], BAM: paths[1], BAI: paths[2]}, nil
}
