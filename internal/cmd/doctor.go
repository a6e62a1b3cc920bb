package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bamverify/internal/config"
	"github.com/3leaps/bamverify/internal/observability"
	"github.com/3leaps/bamverify/pkg/mount"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the container environment and suggest fixes
for common issues.

Examples:
  bamverify doctor                # Host and tool checks
  bamverify doctor --provider s3  # Also check AWS credentials`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// checkStatus grades one diagnostic.
type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

func (s checkStatus) mark() string {
	switch s {
	case checkOK:
		return "✅"
	case checkWarn:
		return "⚠️ "
	default:
		return "❌"
	}
}

type checkResult struct {
	Name   string
	Status checkStatus
	Detail string
	Err    error
}

// hostChecks inspects everything a job touches on the container host.
func hostChecks(cfg *config.Config) []checkResult {
	return []checkResult{
		checkToolOnPath(cfg.Tool.Command),
		checkSizeFileDir(cfg.Host.SizeFile),
		checkMountPoint(mount.OSChecker{}, cfg.Host.MountPoint),
		checkWorkdirBase(cfg.Workdir.Base, cfg.Host.MountPoint),
		{
			Name:   "environment",
			Status: checkOK,
			Detail: runtime.GOOS + "/" + runtime.GOARCH + " " + runtime.Version(),
		},
	}
}

func checkToolOnPath(command string) checkResult {
	r := checkResult{Name: "verifyBamID executable"}
	path, err := exec.LookPath(command)
	if err != nil {
		r.Status = checkFail
		r.Detail = command + " not found"
		r.Err = err
		return r
	}
	r.Detail = path
	return r
}

// checkSizeFileDir confirms the size declaration can be written next to
// its final path, which is where the temp file goes before the rename.
func checkSizeFileDir(sizeFile string) checkResult {
	r := checkResult{Name: "size file directory"}
	dir := filepath.Dir(sizeFile)
	f, err := os.CreateTemp(dir, ".bamverify-doctor-*")
	if err != nil {
		r.Status = checkFail
		r.Detail = dir + " is not writable"
		r.Err = err
		return r
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	r.Detail = sizeFile
	return r
}

// checkMountPoint reports the scratch mount state. Before a job declares its
// size the mount is normally absent, so that is a warning, not a failure.
func checkMountPoint(c mount.Checker, mountPoint string) checkResult {
	r := checkResult{Name: "scratch mount"}
	switch {
	case c.IsMount(mountPoint):
		r.Detail = mountPoint + " mounted"
	case c.IsDir(mountPoint):
		r.Status = checkWarn
		r.Detail = mountPoint + " exists but is not a mount point"
	default:
		r.Status = checkWarn
		r.Detail = mountPoint + " absent (provisioned after the size is declared)"
	}
	return r
}

// checkWorkdirBase flags a working dir base outside the scratch mount, which
// would put inputs on the container's own filesystem.
func checkWorkdirBase(base, mountPoint string) checkResult {
	r := checkResult{Name: "working dir base", Detail: base}
	rel, err := filepath.Rel(mountPoint, base)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		r.Status = checkWarn
		r.Detail = fmt.Sprintf("%s is outside %s", base, mountPoint)
	}
	return r
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	bannerName := binaryName + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	results := hostChecks(cfg)
	if doctorProvider == "s3" {
		results = append(results, s3Checks(cmd.Context(), cfg.Storage)...)
	}

	failed := 0
	for i, r := range results {
		msg := fmt.Sprintf("[%d/%d] Checking %s... %s %s", i+1, len(results), r.Name, r.Status.mark(), r.Detail)
		switch r.Status {
		case checkOK:
			observability.CLILogger.Info(msg)
		case checkWarn:
			observability.CLILogger.Warn(msg)
		default:
			failed++
			observability.CLILogger.Error(msg, zap.Error(r.Err))
		}
	}

	observability.CLILogger.Info("")
	if failed == 0 {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s environment is healthy.", binaryName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if failed > 0 {
		return exitError(1, fmt.Sprintf("%d diagnostic check(s) failed", failed), errors.New("doctor"))
	}
	return nil
}

// s3Checks resolves AWS credentials the way the S3 provider will.
func s3Checks(ctx context.Context, storage config.StorageConfig) []checkResult {
	var opts []func(*awsconfig.LoadOptions) error
	if storage.Region != "" {
		opts = append(opts, awsconfig.WithRegion(storage.Region))
	}
	if storage.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(storage.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		printAWSCredentialsHelp()
		return []checkResult{{Name: "AWS credentials", Status: checkFail, Detail: "cannot load AWS config", Err: err}}
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		printAWSCredentialsHelp()
		return []checkResult{{Name: "AWS credentials", Status: checkFail, Detail: "cannot retrieve credentials", Err: err}}
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	region := cfg.Region
	status := checkOK
	if region == "" {
		region = "unset (falls back to instance metadata, then us-east-1)"
		status = checkWarn
	}
	return []checkResult{
		{Name: "AWS credentials", Status: checkOK, Detail: "found " + maskAccessKey(creds.AccessKeyID)},
		{Name: "credential source", Status: checkOK, Detail: source},
		{Name: "AWS region", Status: status, Detail: region},
	}
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Set storage.profile (BAMVERIFY_S3_PROFILE) to a configured profile, or")
	observability.CLILogger.Info("  3. Use the task or instance IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage, also set:")
	observability.CLILogger.Info("  - storage.endpoint (BAMVERIFY_S3_ENDPOINT)")
	observability.CLILogger.Info("")
}
