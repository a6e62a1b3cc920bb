package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/3leaps/bamverify/pkg/artifact"
	"github.com/3leaps/bamverify/pkg/mount"
	"github.com/3leaps/bamverify/pkg/provision"
	"github.com/3leaps/bamverify/pkg/staging"
	"github.com/3leaps/bamverify/pkg/tool"
	"github.com/3leaps/bamverify/pkg/workdir"
)

// OutputName is the --out prefix passed to verifyBamID, relative to the
// working directory.
const OutputName = "data-out"

// Objects is the remote storage a job reads inputs from and writes results to.
type Objects interface {
	staging.Sizer
	staging.Downloader
	artifact.Uploader
}

// MountWaiter blocks until the scratch mount is ready.
type MountWaiter interface {
	Await(ctx context.Context, mountPoint string) error
}

// Summary is the outcome of a job run.
type Summary struct {
	JobID       string
	State       State
	FailedStage State
	TotalSize   int64
	Staged      *staging.Staged
	Artifacts   []artifact.Uploaded
	WorkingDir  string
	StartedAt   time.Time
	Duration    time.Duration
	Err         error
}

// Success reports whether the job reached StateReleased.
func (s *Summary) Success() bool {
	return s != nil && s.State == StateReleased && s.Err == nil
}

// Orchestrator runs jobs. Its fields are the job's collaborators; only
// Objects, Signal, Mount and Tool are required.
type Orchestrator struct {
	Objects Objects
	Signal  provision.Signal
	Mount   MountWaiter
	Tool    tool.Runner

	// MountPoint is awaited before any download. Defaults to
	// mount.DefaultMountPoint.
	MountPoint string

	// ToolCommand overrides the verifyBamID executable.
	ToolCommand string

	// Suffixes are the artifact suffixes collected after the tool ran.
	// Defaults to artifact.Suffixes.
	Suffixes []string

	Observer Observer

	// NewJobID overrides job id generation, for tests.
	NewJobID func() string
}

func (o *Orchestrator) validate() error {
	switch {
	case o.Objects == nil:
		return errors.New("orchestrator: Objects is nil")
	case o.Signal == nil:
		return errors.New("orchestrator: Signal is nil")
	case o.Mount == nil:
		return errors.New("orchestrator: Mount is nil")
	case o.Tool == nil:
		return errors.New("orchestrator: Tool is nil")
	}
	return nil
}

// Run executes req's stages strictly in order. Any stage failure stops the
// job; the returned error is a *StageError (possibly combined with a release
// failure) and the summary reports StateFailed. The working directory, once
// created, is removed on every path.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		o:       o,
		req:     req,
		machine: NewMachine(),
		obs:     o.Observer,
	}
	if r.obs == nil {
		r.obs = NopObserver{}
	}
	r.sum = &Summary{JobID: o.jobID(), State: StateInit, StartedAt: time.Now()}

	err := r.execute(ctx)
	if r.dir != nil {
		// Only reached when a stage after creation failed; the success path
		// releases as its own stage.
		if relErr := r.dir.Release(); relErr != nil {
			err = multierr.Append(err, &StageError{State: StateReleased, Kind: ErrResource, Err: relErr})
		}
		r.dir = nil
	}

	r.sum.Duration = time.Since(r.sum.StartedAt)
	r.sum.Err = err
	if err != nil {
		r.machine.Fail()
		if st, ok := FailedState(err); ok {
			r.sum.FailedStage = st
		}
	}
	r.sum.State = r.machine.State()
	r.obs.JobFinished(ctx, r.sum)
	return r.sum, err
}

func (o *Orchestrator) jobID() string {
	if o.NewJobID != nil {
		return o.NewJobID()
	}
	return uuid.New().String()
}

// run holds the mutable state of one Run call.
type run struct {
	o       *Orchestrator
	req     Request
	machine *Machine
	obs     Observer
	sum     *Summary
	dir     *workdir.Dir
}

func (r *run) execute(ctx context.Context) error {
	var total int64
	if err := r.stage(ctx, StateSizeComputed, ErrLookup, func() (map[string]any, error) {
		var err error
		total, err = staging.TotalSize(ctx, r.o.Objects, r.req.Inputs().Refs())
		if err != nil {
			return nil, err
		}
		r.sum.TotalSize = total
		return map[string]any{"total_size": total}, nil
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, StateSignaled, ErrIO, func() (map[string]any, error) {
		return map[string]any{"total_size": total}, r.o.Signal.Declare(ctx, total)
	}); err != nil {
		return err
	}

	mountPoint := r.o.MountPoint
	if mountPoint == "" {
		mountPoint = mount.DefaultMountPoint
	}
	if err := r.stage(ctx, StateMounted, ErrTimeout, func() (map[string]any, error) {
		return map[string]any{"mount_point": mountPoint}, r.o.Mount.Await(ctx, mountPoint)
	}); err != nil {
		return err
	}

	var staged *staging.Staged
	if err := r.stage(ctx, StateStaged, ErrDownload, func() (map[string]any, error) {
		dir, err := workdir.Create(r.req.WorkingDirBase)
		if err != nil {
			return nil, withKind(ErrResource, err)
		}
		r.dir = dir
		r.sum.WorkingDir = dir.Path()

		staged, err = staging.StageInputs(ctx, r.o.Objects, r.req.Inputs(), dir.Path(), nil)
		if err != nil {
			return map[string]any{"working_dir": dir.Path()}, err
		}
		r.sum.Staged = staged
		return map[string]any{"working_dir": dir.Path()}, nil
	}); err != nil {
		return err
	}

	outPrefix := r.dir.Join(OutputName)
	if err := r.stage(ctx, StateToolRun, ErrToolExecution, func() (map[string]any, error) {
		inv := tool.Invocation{
			Command:    r.o.ToolCommand,
			VCF:        staged.VCF,
			BAM:        staged.BAM,
			BAI:        staged.BAI,
			OutPrefix:  outPrefix,
			ExtraFlags: r.req.ExtraFlags,
			Dir:        r.dir.Path(),
		}
		detail := map[string]any{"command": inv.CommandLine()}
		res, err := r.o.Tool.Run(ctx, inv)
		if res != nil {
			detail["exit_code"] = res.ExitCode
		}
		return detail, err
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, StateArtifactsUploaded, ErrUpload, func() (map[string]any, error) {
		suffixes := r.o.Suffixes
		if suffixes == nil {
			suffixes = artifact.Suffixes
		}
		found, err := artifact.Collect(outPrefix, suffixes)
		if err != nil {
			return nil, err
		}
		report, err := artifact.Upload(ctx, r.o.Objects, found, r.req.Results, func(u artifact.Uploaded) {
			r.obs.ArtifactUploaded(ctx, r.sum.JobID, u)
		})
		r.sum.Artifacts = report.Uploaded
		detail := map[string]any{"found": len(found), "uploaded": len(report.Uploaded)}
		if err != nil {
			detail["failed"] = len(report.Failed)
		}
		return detail, err
	}); err != nil {
		return err
	}

	return r.stage(ctx, StateReleased, ErrResource, func() (map[string]any, error) {
		dir := r.dir
		r.dir = nil
		if err := dir.Release(); err != nil {
			return map[string]any{"working_dir": dir.Path()}, err
		}
		return map[string]any{"working_dir": dir.Path()}, nil
	})
}

// stage runs body as the transition into "to". A body error becomes a
// *StageError of the given kind, unless body tagged it with another kind.
func (r *run) stage(ctx context.Context, to State, kind error, body func() (map[string]any, error)) error {
	if err := r.machine.Check(to); err != nil {
		return err
	}

	ev := StageEvent{JobID: r.sum.JobID, Stage: to}
	r.obs.StageStarted(ctx, ev)
	start := time.Now()

	detail, err := body()
	ev.Duration = time.Since(start)
	ev.Detail = detail

	if err != nil {
		var ke *kindedError
		if errors.As(err, &ke) {
			kind, err = ke.kind, ke.err
		}
		serr := &StageError{State: to, Kind: kind, Err: err}
		r.machine.Fail()
		ev.Err = serr
		r.obs.StageFailed(ctx, ev)
		return serr
	}

	if err := r.machine.Advance(to); err != nil {
		return fmt.Errorf("advance to %s: %w", to, err)
	}
	r.sum.State = to
	r.obs.StageCompleted(ctx, ev)
	return nil
}
