package job

import (
	"context"
	"time"

	"github.com/3leaps/bamverify/pkg/artifact"
)

// StageEvent describes one stage transition.
type StageEvent struct {
	JobID    string
	Stage    State
	Duration time.Duration
	Detail   map[string]any
	Err      error
}

// Observer receives lifecycle notifications. Observers must not block for
// long and cannot alter the job's control flow.
type Observer interface {
	StageStarted(ctx context.Context, ev StageEvent)
	StageCompleted(ctx context.Context, ev StageEvent)
	StageFailed(ctx context.Context, ev StageEvent)
	ArtifactUploaded(ctx context.Context, jobID string, u artifact.Uploaded)
	JobFinished(ctx context.Context, sum *Summary)
}

// Observers fans notifications out to each member in order.
type Observers []Observer

func (obs Observers) StageStarted(ctx context.Context, ev StageEvent) {
	for _, o := range obs {
		o.StageStarted(ctx, ev)
	}
}

func (obs Observers) StageCompleted(ctx context.Context, ev StageEvent) {
	for _, o := range obs {
		o.StageCompleted(ctx, ev)
	}
}

func (obs Observers) StageFailed(ctx context.Context, ev StageEvent) {
	for _, o := range obs {
		o.StageFailed(ctx, ev)
	}
}

func (obs Observers) ArtifactUploaded(ctx context.Context, jobID string, u artifact.Uploaded) {
	for _, o := range obs {
		o.ArtifactUploaded(ctx, jobID, u)
	}
}

func (obs Observers) JobFinished(ctx context.Context, sum *Summary) {
	for _, o := range obs {
		o.JobFinished(ctx, sum)
	}
}

// NopObserver ignores every notification. Embed it to implement only the
// hooks you need.
type NopObserver struct{}

func (NopObserver) StageStarted(context.Context, StageEvent)                    {}
func (NopObserver) StageCompleted(context.Context, StageEvent)                  {}
func (NopObserver) StageFailed(context.Context, StageEvent)                     {}
func (NopObserver) ArtifactUploaded(context.Context, string, artifact.Uploaded) {}
func (NopObserver) JobFinished(context.Context, *Summary)                       {}

var (
	_ Observer = Observers(nil)
	_ Observer = NopObserver{}
)
