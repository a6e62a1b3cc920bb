package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/3leaps/bamverify/internal/config"
	"github.com/3leaps/bamverify/internal/observability"
	"github.com/3leaps/bamverify/internal/server"
	"github.com/3leaps/bamverify/internal/server/handlers"
	"github.com/3leaps/bamverify/pkg/job"
	"github.com/3leaps/bamverify/pkg/manifest"
	"github.com/3leaps/bamverify/pkg/mount"
	"github.com/3leaps/bamverify/pkg/output"
	"github.com/3leaps/bamverify/pkg/preflight"
	"github.com/3leaps/bamverify/pkg/provision"
	"github.com/3leaps/bamverify/pkg/remote"
	"github.com/3leaps/bamverify/pkg/tool"
)

const statusShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- EXTRA_FLAG ...]",
	Short: "Run one verification job",
	Long: `Run one VerifyBamID job end to end.

Inputs and the results prefix are s3:// or file:/// URIs. Each result file
verifyBamID produces (.selfSM, .bestSM, .depthSM, .log) is uploaded to the
results prefix with its suffix appended.

Extra verifyBamID flags are given without their leading dashes, either with
--cmd-args or after "--".

Example:
  bamverify run \
    --vcf s3://reference/hapmap.vcf \
    --bam s3://genomes/NA12878/NA12878.bam \
    --bai s3://genomes/NA12878/NA12878.bam.bai \
    --results s3://qc-results/NA12878/NA12878 \
    -- ignoreRG precise
  bamverify run --job job.yaml
  bamverify run --job job.yaml --dry-run`,
	RunE: runRun,
}

var (
	runVCF        string
	runBAM        string
	runBAI        string
	runResults    string
	runCmdArgs    []string
	runWorkingDir string
	runJobPath    string
	runOutput     string
	runDryRun     bool
	runStatusAddr string
	runPreflight  string
)

// pythonFlagNames maps the original job script's flag names onto ours so
// existing task definitions keep working.
var pythonFlagNames = map[string]string{
	"vcf_s3_path":     "vcf",
	"bam_s3_path":     "bam",
	"bai_s3_path":     "bai",
	"results_s3_path": "results",
	"cmd_args":        "cmd-args",
	"working_dir":     "working-dir",
}

func normalizeRunFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if alias, ok := pythonFlagNames[name]; ok {
		name = alias
	}
	return pflag.NormalizedName(name)
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

// addRunFlags binds the run flags to f, resetting each bound variable to its
// default.
func addRunFlags(f *pflag.FlagSet) {
	f.StringVar(&runVCF, "vcf", "", "VCF URI")
	f.StringVar(&runBAM, "bam", "", "BAM URI")
	f.StringVar(&runBAI, "bai", "", "BAI URI")
	f.StringVar(&runResults, "results", "", "Results prefix URI; artifacts are written to prefix+suffix")
	f.StringArrayVar(&runCmdArgs, "cmd-args", nil, "Extra verifyBamID flag without dashes (repeatable)")
	f.StringVar(&runWorkingDir, "working-dir", "", "Base directory for the per-run working directory (default from config: workdir.base)")
	f.StringVarP(&runJobPath, "job", "j", "", "Path to job manifest")
	f.StringVarP(&runOutput, "output", "o", "", "Record destination: stdout or file:/path.jsonl")
	f.BoolVar(&runDryRun, "dry-run", false, "Validate inputs and show the plan without executing")
	f.StringVar(&runPreflight, "preflight", "", "Storage permission checks before the job: plan-only, read-safe or write-probe (default from config: preflight.mode)")
	f.StringVar(&runStatusAddr, "status-addr", "", "Serve job status, health and metrics on this address (default from config: status.addr)")
	f.SetNormalizeFunc(normalizeRunFlag)
}

// runSettings is everything runRun resolved from flags, manifest and config.
type runSettings struct {
	req       job.Request
	storage   remote.S3Options
	output    string
	preflight preflight.Mode
}

func resolveRun(cmd *cobra.Command, args []string, cfg *config.Config) (*runSettings, error) {
	s := &runSettings{
		storage: remote.S3Options{
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
			Profile:  cfg.Storage.Profile,
		},
		output: manifest.DefaultDestination,
	}

	if runJobPath != "" {
		m, err := manifest.Load(runJobPath)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", runJobPath, err)
		}
		req, err := m.Request()
		if err != nil {
			return nil, err
		}
		s.req = req
		s.output = m.Output.Destination
		if m.Storage.Region != "" {
			s.storage.Region = m.Storage.Region
		}
		if m.Storage.Endpoint != "" {
			s.storage.Endpoint = m.Storage.Endpoint
		}
		if m.Storage.Profile != "" {
			s.storage.Profile = m.Storage.Profile
		}
	}

	for _, f := range []struct {
		flag  string
		value string
		dst   *remote.Ref
	}{
		{"vcf", runVCF, &s.req.VCF},
		{"bam", runBAM, &s.req.BAM},
		{"bai", runBAI, &s.req.BAI},
		{"results", runResults, &s.req.Results},
	} {
		if !cmd.Flags().Changed(f.flag) {
			continue
		}
		ref, err := remote.Parse(f.value)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", f.flag, err)
		}
		*f.dst = ref
	}

	s.req.ExtraFlags = append(s.req.ExtraFlags, runCmdArgs...)
	s.req.ExtraFlags = append(s.req.ExtraFlags, args...)

	switch {
	case cmd.Flags().Changed("working-dir"):
		s.req.WorkingDirBase = runWorkingDir
	case s.req.WorkingDirBase == "":
		s.req.WorkingDirBase = cfg.Workdir.Base
	}

	if runOutput != "" {
		s.output = runOutput
	}

	mode := cfg.Preflight.Mode
	if runPreflight != "" {
		mode = runPreflight
	}
	pm, err := preflight.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	s.preflight = pm

	if err := s.req.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	settings, err := resolveRun(cmd, args, cfg)
	if err != nil {
		observability.CLILogger.Error("Invalid job request", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid job request", err)
	}

	if runDryRun {
		return showRunPlan(cmd.OutOrStdout(), settings, cfg)
	}

	statusAddr := cfg.Status.Addr
	if runStatusAddr != "" {
		statusAddr = runStatusAddr
	}
	var events *handlers.EventStream
	var tee io.Writer
	if statusAddr != "" {
		events = handlers.NewEventStream(handlers.DefaultEventBacklog)
		tee = events
	}

	jobID := uuid.New().String()
	writer, cleanup, err := createWriter(settings.output, jobID, settings.req.Results.Scheme, tee)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	store := remote.NewStore(remote.NewOpener(settings.storage))
	defer func() {
		if err := store.Close(); err != nil {
			observability.CLILogger.Warn("Failed to close storage providers", zap.Error(err))
		}
	}()

	if err := runPreflightChecks(ctx, store, writer, settings); err != nil {
		return err
	}

	metrics := observability.NewJobMetrics()
	observers := job.Observers{
		observability.LogObserver{},
		observability.RecordObserver{Writer: writer},
		metrics,
	}

	if statusAddr != "" {
		status := handlers.NewJobStatus(versionInfo.Version)
		srv := server.New(statusAddr, status, metrics.Registry)
		srv.MountEvents(events)
		if _, err := srv.Start(); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to start status server", err)
		}
		defer func() {
			_ = events.Close()
			ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				observability.CLILogger.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
		observers = append(observers, status)
	}

	orch := &job.Orchestrator{
		Objects:     store,
		Signal:      &provision.FileSignal{Path: cfg.Host.SizeFile},
		Mount:       newMountWaiter(cfg),
		Tool:        newToolRunner(cfg),
		MountPoint:  cfg.Host.MountPoint,
		ToolCommand: cfg.Tool.Command,
		Observer:    observers,
		NewJobID:    func() string { return jobID },
	}

	observability.CLILogger.Info("Starting job",
		zap.String("job_id", jobID),
		zap.String("vcf", settings.req.VCF.String()),
		zap.String("bam", settings.req.BAM.String()),
		zap.String("bai", settings.req.BAI.String()),
		zap.String("results", settings.req.Results.String()),
		zap.String("working_dir", settings.req.WorkingDirBase))

	_, runErr := orch.Run(ctx, settings.req)

	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		observability.CLILogger.Warn("Failed to write metrics", zap.Error(err))
	}

	if runErr != nil {
		return classifyRunError(ctx, runErr)
	}
	return nil
}

// runPreflightChecks checks storage permissions and emits the preflight record.
func runPreflightChecks(ctx context.Context, store *remote.Store, w output.Writer, s *runSettings) error {
	if s.preflight == preflight.ModePlanOnly {
		return nil
	}

	rec, err := preflight.Run(ctx, store, s.req.Inputs().Refs(), s.req.Results, s.preflight)
	if werr := w.WritePreflight(ctx, rec); werr != nil {
		observability.CLILogger.Warn("Failed to write preflight record", zap.Error(werr))
	}
	if err != nil {
		observability.CLILogger.Error("Preflight failed",
			zap.String("mode", string(s.preflight)),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", err)
	}
	observability.CLILogger.Debug("Preflight passed",
		zap.String("mode", string(s.preflight)),
		zap.Int("checks", len(rec.Results)))
	return nil
}

func newMountWaiter(cfg *config.Config) *mount.Waiter {
	w := mount.NewWaiter()
	w.ExistInterval = cfg.Mount.ExistInterval
	w.MountInterval = cfg.Mount.MountInterval
	w.Timeout = cfg.Mount.Timeout
	return w
}

func newToolRunner(cfg *config.Config) *tool.ExecRunner {
	r := &tool.ExecRunner{}
	if cfg.Tool.EchoOutput {
		// stdout carries JSONL records, so both tool streams go to stderr.
		r.Stdout = os.Stderr
		r.Stderr = os.Stderr
	}
	return r
}

// classifyRunError maps a job failure onto a process exit code.
func classifyRunError(ctx context.Context, err error) error {
	stage, _ := job.FailedState(err)
	msg := fmt.Sprintf("Job failed at stage %s", stage)

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return exitError(foundry.ExitSignalInt, "Job cancelled", err)
	}
	switch job.KindOf(err) {
	case job.ErrToolExecution:
		return exitError(exitToolFailure, msg, err)
	case job.ErrIO, job.ErrResource:
		return exitError(foundry.ExitFileWriteError, msg, err)
	case job.ErrLookup, job.ErrDownload, job.ErrUpload, job.ErrTimeout:
		return exitError(foundry.ExitExternalServiceUnavailable, msg, err)
	default:
		return exitError(1, msg, err)
	}
}

// showRunPlan displays what would run without touching storage or the host.
func showRunPlan(w io.Writer, s *runSettings, cfg *config.Config) error {
	inv := tool.Invocation{
		Command:    cfg.Tool.Command,
		VCF:        "<workdir>/" + s.req.VCF.Base(),
		BAM:        "<workdir>/" + s.req.BAM.Base(),
		BAI:        "<workdir>/" + s.req.BAI.Base(),
		OutPrefix:  "<workdir>/" + job.OutputName,
		ExtraFlags: s.req.ExtraFlags,
	}

	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }
	p("=== Job Plan (dry-run) ===\n\n")
	p("VCF:          %s\n", s.req.VCF)
	p("BAM:          %s\n", s.req.BAM)
	p("BAI:          %s\n", s.req.BAI)
	p("Results:      %s\n", s.req.Results)
	p("Size file:    %s\n", cfg.Host.SizeFile)
	p("Mount point:  %s (timeout %s)\n", cfg.Host.MountPoint, cfg.Mount.Timeout)
	p("Working dir:  %s/<uuid>\n", s.req.WorkingDirBase)
	p("Command:      %s\n", inv.CommandLine())
	p("Preflight:    %s\n", s.preflight)
	p("Output:       %s\n\n", s.output)
	p("Job request validated successfully. Remove --dry-run to execute.\n")
	return nil
}

// createWriter creates the JSONL record writer. When tee is non-nil every
// record is also written to it.
// Returns the writer, a cleanup function, and any error.
func createWriter(dest, jobID, provider string, tee io.Writer) (output.Writer, func(), error) {
	withTee := func(w io.Writer) io.Writer {
		if tee == nil {
			return w
		}
		return io.MultiWriter(w, tee)
	}

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(withTee(os.Stdout), jobID, provider)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(withTee(f), jobID, provider)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
