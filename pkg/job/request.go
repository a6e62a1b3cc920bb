// Package job runs one verifyBamID job end to end: size the inputs, declare
// the size to the host, wait for scratch, stage, run the tool, upload the
// results and release the working directory.
package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/bamverify/pkg/remote"
	"github.com/3leaps/bamverify/pkg/staging"
	"github.com/3leaps/bamverify/pkg/tool"
)

// Request is the immutable input of one job.
type Request struct {
	VCF remote.Ref
	BAM remote.Ref
	BAI remote.Ref

	// Results is the remote prefix artifacts are uploaded under; each
	// artifact lands at Results + suffix.
	Results remote.Ref

	// ExtraFlags are bare verifyBamID flag names, optionally with a value
	// ("ignoreRG", "maxDepth 1000").
	ExtraFlags []string

	// WorkingDirBase is the directory the per-run working directory is
	// created in.
	WorkingDirBase string
}

// ErrInvalidRequest reports a request that cannot be run.
var ErrInvalidRequest = errors.New("invalid job request")

// Validate checks that every reference is set and the working directory
// base is usable.
func (r Request) Validate() error {
	var missing []string
	for _, f := range []struct {
		name string
		ref  remote.Ref
	}{
		{"vcf", r.VCF},
		{"bam", r.BAM},
		{"bai", r.BAI},
		{"results", r.Results},
	} {
		if f.ref.IsZero() {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(r.WorkingDirBase) == "" {
		return fmt.Errorf("%w: working directory base is empty", ErrInvalidRequest)
	}
	if err := r.Inputs().CheckNames(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	for i, flag := range r.ExtraFlags {
		if len(tool.RenderFlag(flag)) == 0 {
			return fmt.Errorf("%w: extra flag %d (%q) is empty", ErrInvalidRequest, i, flag)
		}
	}
	return nil
}

// Inputs returns the three staged references.
func (r Request) Inputs() staging.Inputs {
	return staging.Inputs{VCF: r.VCF, BAM: r.BAM, BAI: r.BAI}
}
