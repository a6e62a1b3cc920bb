// Package config loads bamverify runtime settings from defaults, an optional
// config file, BAMVERIFY_* environment variables and runtime overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/bamverify/pkg/preflight"
)

// Config is the resolved runtime configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Host      HostConfig      `mapstructure:"host"`
	Mount     MountConfig     `mapstructure:"mount"`
	Workdir   WorkdirConfig   `mapstructure:"workdir"`
	Tool      ToolConfig      `mapstructure:"tool"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Status    StatusConfig    `mapstructure:"status"`
	Preflight PreflightConfig `mapstructure:"preflight"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Profile selects the encoder: "console" for humans, "structured" for
	// JSON lines.
	Profile string `mapstructure:"profile"`
}

// HostConfig names the paths shared with the host provisioning agent.
type HostConfig struct {
	SizeFile   string `mapstructure:"size_file"`
	MountPoint string `mapstructure:"mount_point"`
}

// MountConfig paces and bounds the scratch mount wait.
type MountConfig struct {
	ExistInterval time.Duration `mapstructure:"exist_interval"`
	MountInterval time.Duration `mapstructure:"mount_interval"`

	// Timeout bounds the whole wait; zero waits until cancelled.
	Timeout time.Duration `mapstructure:"timeout"`
}

// WorkdirConfig sets where per-run directories are created.
type WorkdirConfig struct {
	Base string `mapstructure:"base"`
}

// ToolConfig configures the verifyBamID invocation.
type ToolConfig struct {
	Command    string `mapstructure:"command"`
	EchoOutput bool   `mapstructure:"echo_output"`
}

// StorageConfig carries S3 connection settings.
type StorageConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`
}

// MetricsConfig controls the end-of-job metrics dump.
type MetricsConfig struct {
	// Textfile is the node-exporter textfile collector path. Empty disables.
	Textfile string `mapstructure:"textfile"`
}

// StatusConfig controls the job status HTTP server.
type StatusConfig struct {
	// Addr is the listen address, e.g. ":9102". Empty disables the server.
	Addr string `mapstructure:"addr"`
}

// PreflightConfig selects the storage permission checks run before a job.
type PreflightConfig struct {
	// Mode is plan-only, read-safe or write-probe.
	Mode string `mapstructure:"mode"`
}

// Log profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Profile) {
	case ProfileConsole, ProfileStructured:
	default:
		problems = append(problems, fmt.Sprintf("logging.profile %q must be console or structured", c.Logging.Profile))
	}
	if strings.TrimSpace(c.Host.SizeFile) == "" {
		problems = append(problems, "host.size_file is empty")
	}
	if strings.TrimSpace(c.Host.MountPoint) == "" {
		problems = append(problems, "host.mount_point is empty")
	}
	if c.Mount.ExistInterval <= 0 {
		problems = append(problems, "mount.exist_interval must be positive")
	}
	if c.Mount.MountInterval <= 0 {
		problems = append(problems, "mount.mount_interval must be positive")
	}
	if c.Mount.Timeout < 0 {
		problems = append(problems, "mount.timeout must not be negative")
	}
	if strings.TrimSpace(c.Workdir.Base) == "" {
		problems = append(problems, "workdir.base is empty")
	}
	if strings.TrimSpace(c.Tool.Command) == "" {
		problems = append(problems, "tool.command is empty")
	}
	if _, err := preflight.ParseMode(c.Preflight.Mode); err != nil {
		problems = append(problems, "preflight.mode: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ErrInvalidConfig reports a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")
