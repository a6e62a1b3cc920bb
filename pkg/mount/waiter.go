// Package mount waits for the host's scratch volume to be attached.
//
// After a job declares its size the provisioning agent creates the mount
// point and mounts a freshly attached volume on it. Those are two separate
// events: the directory can exist on the root filesystem for a while before
// the volume is mounted over it, so the wait has two phases.
package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMountPoint is where the host agent attaches the job's scratch disk.
const DefaultMountPoint = "/scratch"

// Default polling intervals.
const (
	DefaultExistInterval = 5 * time.Second
	DefaultMountInterval = 1 * time.Second
	DefaultTimeout       = 30 * time.Minute
)

// Phase names the condition a wait was blocked on.
type Phase string

const (
	PhaseExists  Phase = "exists"
	PhaseMounted Phase = "mounted"
)

// Checker inspects the mount point. Any error while inspecting counts as
// "not yet".
type Checker interface {
	IsDir(path string) bool
	IsMount(path string) bool
}

// TimeoutError reports that the mount point did not become ready in time.
type TimeoutError struct {
	MountPoint string
	Phase      Phase
	Waited     time.Duration
	Err        error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mount point %s not %s after %s", e.MountPoint, e.Phase, e.Waited.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Waiter blocks until a mount point exists and is an active mount.
type Waiter struct {
	// ExistInterval paces the directory-existence phase.
	ExistInterval time.Duration

	// MountInterval paces the mount-confirmation phase.
	MountInterval time.Duration

	// Timeout bounds the whole wait. Zero waits until ctx is done.
	Timeout time.Duration

	// Checker defaults to OSChecker.
	Checker Checker
}

// NewWaiter returns a Waiter with the default intervals and timeout.
func NewWaiter() *Waiter {
	return &Waiter{
		ExistInterval: DefaultExistInterval,
		MountInterval: DefaultMountInterval,
		Timeout:       DefaultTimeout,
		Checker:       OSChecker{},
	}
}

// Await returns nil once mountPoint is a directory and an active mount. It
// never returns success on existence alone. If the timeout expires first it
// returns a *TimeoutError; if ctx is cancelled it returns ctx's error.
func (w *Waiter) Await(ctx context.Context, mountPoint string) error {
	checker := w.Checker
	if checker == nil {
		checker = OSChecker{}
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	start := time.Now()
	phases := []struct {
		phase    Phase
		interval time.Duration
		ready    func(string) bool
	}{
		{PhaseExists, orDefault(w.ExistInterval, DefaultExistInterval), checker.IsDir},
		{PhaseMounted, orDefault(w.MountInterval, DefaultMountInterval), checker.IsMount},
	}

	for _, p := range phases {
		if err := poll(ctx, p.interval, func() bool { return p.ready(mountPoint) }); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &TimeoutError{MountPoint: mountPoint, Phase: p.phase, Waited: time.Since(start), Err: err}
			}
			return fmt.Errorf("await mount %s (%s): %w", mountPoint, p.phase, err)
		}
	}
	return nil
}

// poll runs ready immediately and then at most once per interval until it
// reports true or ctx is done.
func poll(ctx context.Context, interval time.Duration, ready func() bool) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// The limiter refuses up front when the next slot is past the
			// deadline; wait the deadline out so callers see the real cause.
			<-ctx.Done()
			return ctx.Err()
		}
		if ready() {
			return nil
		}
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
