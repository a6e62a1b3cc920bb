package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/3leaps/bamverify/internal/cmd"
	"github.com/3leaps/bamverify/internal/observability"
)

// Set via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	// Replaced once configuration is loaded; covers errors before that.
	observability.InitCLILogger("bamverify", false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		cmd.ExitWithCode(observability.CLILogger, cmd.ExitCode(err), "Command failed", err)
	}
}
