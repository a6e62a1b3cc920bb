package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/bamverify/pkg/artifact"
	"github.com/3leaps/bamverify/pkg/mount"
	"github.com/3leaps/bamverify/pkg/provider"
	"github.com/3leaps/bamverify/pkg/provision"
	"github.com/3leaps/bamverify/pkg/remote"
	"github.com/3leaps/bamverify/pkg/tool"
)

// harness wires in-memory collaborators that append to a shared event log so
// tests can assert ordering across stages.
type harness struct {
	mu      sync.Mutex
	events  []string
	objects map[string][]byte
	uploads map[string][]byte

	failDownload string
	failUpload   map[string]bool
	declared     []int64
	signalErr    error
	mountErr     error

	toolOutputs []string
	toolErr     error
	toolCalls   []tool.Invocation
}

func newHarness() *harness {
	return &harness{
		objects: map[string][]byte{
			"s3://ref/hapmap.vcf":          make([]byte, 100),
			"s3://genomes/NA12878.bam":     make([]byte, 200),
			"s3://genomes/NA12878.bam.bai": make([]byte, 50),
		},
		uploads:     map[string][]byte{},
		failUpload:  map[string]bool{},
		toolOutputs: []string{".selfSM"},
	}
}

func (h *harness) log(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *harness) Size(_ context.Context, ref remote.Ref) (int64, error) {
	h.log("size %s", ref)
	b, ok := h.objects[ref.String()]
	if !ok {
		return 0, &provider.ProviderError{Op: "Head", Provider: provider.ProviderS3, Bucket: ref.Bucket, Key: ref.Key, Err: provider.ErrNotFound}
	}
	return int64(len(b)), nil
}

func (h *harness) Download(_ context.Context, ref remote.Ref, dir string) (string, error) {
	h.log("download %s", ref)
	if ref.String() == h.failDownload {
		return "", errors.New("connection reset")
	}
	dest := filepath.Join(dir, ref.Base())
	if err := os.WriteFile(dest, h.objects[ref.String()], 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func (h *harness) Upload(_ context.Context, localPath string, ref remote.Ref) error {
	h.log("upload %s", ref)
	if h.failUpload[ref.String()] {
		return &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderS3, Bucket: ref.Bucket, Key: ref.Key, Err: provider.ErrAccessDenied}
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	h.uploads[ref.String()] = b
	return nil
}

func (h *harness) Declare(_ context.Context, size int64) error {
	h.log("declare %d", size)
	if h.signalErr != nil {
		return h.signalErr
	}
	h.declared = append(h.declared, size)
	return nil
}

func (h *harness) Await(_ context.Context, mountPoint string) error {
	h.log("await %s", mountPoint)
	return h.mountErr
}

func (h *harness) Run(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	h.log("tool")
	h.toolCalls = append(h.toolCalls, inv)
	for _, p := range []string{inv.VCF, inv.BAM, inv.BAI} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("input not staged: %w", err)
		}
	}
	if h.toolErr != nil {
		return &tool.Result{ExitCode: 1}, h.toolErr
	}
	for _, suffix := range h.toolOutputs {
		if err := os.WriteFile(inv.OutPrefix+suffix, []byte("result"+suffix), 0o644); err != nil {
			return nil, err
		}
	}
	return &tool.Result{ExitCode: 0}, nil
}

func (h *harness) orchestrator() *Orchestrator {
	return &Orchestrator{
		Objects:    h,
		Signal:     provision.SignalFunc(h.Declare),
		Mount:      h,
		Tool:       h,
		MountPoint: "/scratch",
		NewJobID:   func() string { return "job-1" },
	}
}

func testRequest(t *testing.T) Request {
	return Request{
		VCF:            remote.MustParse("s3://ref/hapmap.vcf"),
		BAM:            remote.MustParse("s3://genomes/NA12878.bam"),
		BAI:            remote.MustParse("s3://genomes/NA12878.bam.bai"),
		Results:        remote.MustParse("s3://results/NA12878/NA12878"),
		ExtraFlags:     []string{"ignoreRG"},
		WorkingDirBase: t.TempDir(),
	}
}

func assertReleased(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "working directory must be removed")
}

func TestRun_Success(t *testing.T) {
	h := newHarness()
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, sum.Success())
	assert.Equal(t, StateReleased, sum.State)
	assert.Equal(t, "job-1", sum.JobID)
	assert.Equal(t, int64(350), sum.TotalSize)
	assert.Equal(t, []int64{350}, h.declared)

	assert.Equal(t, map[string][]byte{
		"s3://results/NA12878/NA12878.selfSM": []byte("result.selfSM"),
	}, h.uploads)
	require.Len(t, sum.Artifacts, 1)
	assert.Equal(t, ".selfSM", sum.Artifacts[0].Suffix)

	require.Len(t, h.toolCalls, 1)
	inv := h.toolCalls[0]
	assert.Equal(t, filepath.Join(sum.WorkingDir, OutputName), inv.OutPrefix)
	assert.Equal(t, filepath.Join(sum.WorkingDir, "NA12878.bam"), inv.BAM)
	assert.Equal(t, []string{"ignoreRG"}, inv.ExtraFlags)

	assertReleased(t, req.WorkingDirBase)
}

func TestRun_StageOrder(t *testing.T) {
	h := newHarness()
	h.toolOutputs = []string{".selfSM", ".log"}

	_, err := h.orchestrator().Run(context.Background(), testRequest(t))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"size s3://ref/hapmap.vcf",
		"size s3://genomes/NA12878.bam",
		"size s3://genomes/NA12878.bam.bai",
		"declare 350",
		"await /scratch",
		"download s3://ref/hapmap.vcf",
		"download s3://genomes/NA12878.bam",
		"download s3://genomes/NA12878.bam.bai",
		"tool",
		"upload s3://results/NA12878/NA12878.selfSM",
		"upload s3://results/NA12878/NA12878.log",
	}, h.events)
}

func TestRun_ToolFailure(t *testing.T) {
	h := newHarness()
	h.toolErr = &tool.ExitError{Command: "verifyBamID", Code: 1}
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrToolExecution)
	var exitErr *tool.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)

	st, ok := FailedState(err)
	require.True(t, ok)
	assert.Equal(t, StateToolRun, st)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, StateToolRun, sum.FailedStage)
	assert.False(t, sum.Success())

	assert.Empty(t, h.uploads, "no artifacts may be uploaded after a tool failure")
	assertReleased(t, req.WorkingDirBase)
}

func TestRun_LookupFailure(t *testing.T) {
	h := newHarness()
	delete(h.objects, "s3://genomes/NA12878.bam.bai")
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrLookup)
	assert.True(t, provider.IsNotFound(err))
	assert.Equal(t, StateSizeComputed, sum.FailedStage)
	assert.Empty(t, h.declared, "nothing may be declared after a failed lookup")
	assert.NotContains(t, h.events, "await /scratch")
	assertReleased(t, req.WorkingDirBase)
}

func TestRun_SignalFailure(t *testing.T) {
	h := newHarness()
	h.signalErr = errors.New("read-only file system")

	sum, err := h.orchestrator().Run(context.Background(), testRequest(t))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, StateSignaled, sum.FailedStage)
	assert.NotContains(t, h.events, "await /scratch")
}

func TestRun_MountTimeout(t *testing.T) {
	h := newHarness()
	h.mountErr = &mount.TimeoutError{
		MountPoint: "/scratch",
		Phase:      mount.PhaseMounted,
		Waited:     time.Minute,
		Err:        context.DeadlineExceeded,
	}
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrTimeout)
	var te *mount.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateMounted, sum.FailedStage)
	for _, ev := range h.events {
		assert.NotContains(t, ev, "download", "no download may start before the mount is confirmed")
	}
	assertReleased(t, req.WorkingDirBase)
}

func TestRun_WorkingDirFailure(t *testing.T) {
	h := newHarness()
	req := testRequest(t)
	req.WorkingDirBase = filepath.Join(req.WorkingDirBase, "missing")

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrResource)
	assert.NotErrorIs(t, err, ErrDownload)
	assert.Equal(t, StateStaged, sum.FailedStage)
	assert.Empty(t, sum.WorkingDir)
}

func TestRun_DownloadFailure(t *testing.T) {
	h := newHarness()
	h.failDownload = "s3://genomes/NA12878.bam"
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDownload)
	assert.Equal(t, StateStaged, sum.FailedStage)
	assert.Empty(t, h.toolCalls, "the tool must not run with partial inputs")
	assert.NotContains(t, h.events, "download s3://genomes/NA12878.bam.bai")
	assertReleased(t, req.WorkingDirBase)
}

func TestRun_UploadFailureAttemptsEveryArtifact(t *testing.T) {
	h := newHarness()
	h.toolOutputs = []string{".selfSM", ".bestSM", ".depthSM", ".log"}
	h.failUpload["s3://results/NA12878/NA12878.bestSM"] = true
	req := testRequest(t)

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrUpload)
	assert.True(t, provider.IsAccessDenied(err))
	assert.Equal(t, StateArtifactsUploaded, sum.FailedStage)
	assert.Len(t, h.uploads, 3)
	assert.Len(t, sum.Artifacts, 3)
	assertReleased(t, req.WorkingDirBase)
}

func TestRun_NoArtifacts(t *testing.T) {
	h := newHarness()
	h.toolOutputs = nil

	sum, err := h.orchestrator().Run(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Empty(t, sum.Artifacts)
	assert.Empty(t, h.uploads)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness()
	req := testRequest(t)
	req.BAI = remote.Ref{}

	sum, err := h.orchestrator().Run(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "bai")
	assert.Nil(t, sum)
	assert.Empty(t, h.events)
}

func TestRun_MissingCollaborator(t *testing.T) {
	o := newHarness().orchestrator()
	o.Tool = nil

	_, err := o.Run(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tool")
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	events   []string
	finished *Summary
}

func (r *recordingObserver) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingObserver) StageStarted(_ context.Context, ev StageEvent) {
	r.add("start " + string(ev.Stage))
}

func (r *recordingObserver) StageCompleted(_ context.Context, ev StageEvent) {
	r.add("done " + string(ev.Stage))
}

func (r *recordingObserver) StageFailed(_ context.Context, ev StageEvent) {
	r.add("fail " + string(ev.Stage))
}

func (r *recordingObserver) ArtifactUploaded(_ context.Context, _ string, u artifact.Uploaded) {
	r.add("artifact " + u.Suffix)
}

func (r *recordingObserver) JobFinished(_ context.Context, sum *Summary) {
	r.finished = sum
}

func TestRun_Observer(t *testing.T) {
	h := newHarness()
	obs := &recordingObserver{}
	o := h.orchestrator()
	o.Observer = Observers{obs}

	_, err := o.Run(context.Background(), testRequest(t))
	require.NoError(t, err)

	var want []string
	for _, s := range Stages() {
		want = append(want, "start "+string(s))
		if s == StateArtifactsUploaded {
			want = append(want, "artifact .selfSM")
		}
		want = append(want, "done "+string(s))
	}
	assert.Equal(t, want, obs.events)
	require.NotNil(t, obs.finished)
	assert.True(t, obs.finished.Success())
}

func TestRun_ObserverOnFailure(t *testing.T) {
	h := newHarness()
	h.toolErr = &tool.ExitError{Command: "verifyBamID", Code: 2}
	obs := &recordingObserver{}
	o := h.orchestrator()
	o.Observer = obs

	_, err := o.Run(context.Background(), testRequest(t))
	require.Error(t, err)

	assert.Equal(t, "fail tool_run", obs.events[len(obs.events)-1])
	require.NotNil(t, obs.finished)
	assert.Equal(t, StateFailed, obs.finished.State)
	assert.Equal(t, StateToolRun, obs.finished.FailedStage)
}
