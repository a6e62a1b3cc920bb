// Package artifact finds the result files verifyBamID produced and uploads
// them next to the job's results prefix.
package artifact

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/3leaps/bamverify/pkg/remote"
)

// Suffixes are the result extensions verifyBamID may write after its --out
// prefix. Which of them appear depends on the options the tool ran with.
var Suffixes = []string{".selfSM", ".bestSM", ".depthSM", ".log"}

// Artifact is one result file present on local disk.
type Artifact struct {
	Suffix string
	Path   string
	Size   int64
}

// Uploader copies a local file to a remote object.
type Uploader interface {
	Upload(ctx context.Context, localPath string, ref remote.Ref) error
}

// Collect returns the artifacts present at prefix+suffix, in suffix order.
// Missing files are skipped; a path that exists but is not a regular file, or
// cannot be inspected, is an error.
func Collect(prefix string, suffixes []string) ([]Artifact, error) {
	var found []Artifact
	for _, suffix := range suffixes {
		path := prefix + suffix
		st, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat artifact %s: %w", path, err)
		}
		if !st.Mode().IsRegular() {
			return nil, fmt.Errorf("artifact %s is not a regular file", path)
		}
		found = append(found, Artifact{Suffix: suffix, Path: path, Size: st.Size()})
	}
	return found, nil
}

// Uploaded records one successful upload.
type Uploaded struct {
	Artifact
	Dest remote.Ref
}

// UploadReport lists the outcome of an Upload call.
type UploadReport struct {
	Uploaded []Uploaded
	Failed   []Artifact
}

// Upload copies each artifact to dest with the artifact's suffix appended.
// Every artifact is attempted; failures are combined into the returned error.
// onUploaded, when set, is called after each successful upload.
func Upload(ctx context.Context, up Uploader, artifacts []Artifact, dest remote.Ref, onUploaded func(Uploaded)) (UploadReport, error) {
	var (
		report UploadReport
		errs   error
	)
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, a)
			errs = multierr.Append(errs, err)
			continue
		}
		target := dest.WithSuffix(a.Suffix)
		if err := up.Upload(ctx, a.Path, target); err != nil {
			report.Failed = append(report.Failed, a)
			errs = multierr.Append(errs, fmt.Errorf("upload %s to %s: %w", a.Suffix, target, err))
			continue
		}
		u := Uploaded{Artifact: a, Dest: target}
		report.Uploaded = append(report.Uploaded, u)
		if onUploaded != nil {
			onUploaded(u)
		}
	}
	return report, errs
}
