package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/bamverify/pkg/mount"
	"github.com/3leaps/bamverify/pkg/preflight"
	"github.com/3leaps/bamverify/pkg/provision"
	"github.com/3leaps/bamverify/pkg/tool"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "BAMVERIFY_"

// ConfigFileEnv names a config file when --config is not given.
const ConfigFileEnv = EnvPrefix + "CONFIG"

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile selects an explicit config file for subsequent Load calls.
// An empty path falls back to BAMVERIFY_CONFIG, then to no file.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", ProfileConsole)
	v.SetDefault("host.size_file", provision.DefaultSizeFile)
	v.SetDefault("host.mount_point", mount.DefaultMountPoint)
	v.SetDefault("mount.exist_interval", mount.DefaultExistInterval)
	v.SetDefault("mount.mount_interval", mount.DefaultMountInterval)
	v.SetDefault("mount.timeout", mount.DefaultTimeout)
	v.SetDefault("workdir.base", mount.DefaultMountPoint)
	v.SetDefault("tool.command", tool.DefaultCommand)
	v.SetDefault("tool.echo_output", true)
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("preflight.mode", string(preflight.ModeReadSafe))
}

// getEnvSpecs lists the supported environment variables.
func getEnvSpecs() []envSpec {
	specs := []envSpec{
		{"LOG_LEVEL", "logging.level"},
		{"LOG_PROFILE", "logging.profile"},
		{"SIZE_FILE", "host.size_file"},
		{"MOUNT_POINT", "host.mount_point"},
		{"MOUNT_EXIST_INTERVAL", "mount.exist_interval"},
		{"MOUNT_INTERVAL", "mount.mount_interval"},
		{"MOUNT_TIMEOUT", "mount.timeout"},
		{"WORKING_DIR", "workdir.base"},
		{"TOOL_COMMAND", "tool.command"},
		{"TOOL_ECHO_OUTPUT", "tool.echo_output"},
		{"S3_REGION", "storage.region"},
		{"S3_ENDPOINT", "storage.endpoint"},
		{"S3_PROFILE", "storage.profile"},
		{"METRICS_TEXTFILE", "metrics.textfile"},
		{"STATUS_ADDR", "status.addr"},
		{"PREFLIGHT", "preflight.mode"},
	}
	for i := range specs {
		specs[i].Name = EnvPrefix + specs[i].Name
	}
	return specs
}

// Load resolves the configuration. Precedence, highest first: runtime
// overrides (later maps win), environment, config file, defaults.
//
// The result is also stored for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	configMu.RLock()
	path := configFile
	configMu.RUnlock()
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Profile = strings.ToLower(cfg.Logging.Profile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// flatten turns nested override maps into dotted viper keys so each leaf
// takes override precedence on its own.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
