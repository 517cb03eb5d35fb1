package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the binary and the places its configuration lives.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity of the jobsync binary.
var DefaultIdentity = AppIdentity{
	BinaryName: "jobsync",
	EnvPrefix:  "JOBSYNC",
	ConfigName: "jobsync",
}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
)

// Short environment aliases. Every other key is also reachable as
// <PREFIX>_<KEY> with dots replaced by underscores.
var envAliases = map[string]string{
	"SESSION_NAME":     "session_name",
	"DATA_DIR":         "data_dir",
	"IDENTITY":         "identity",
	"PUSH_URL":         "push_url",
	"PULL_URL":         "pull_url",
	"WORKERS":          "transfer.workers",
	"EXCLUDE":          "transfer.exclude",
	"LOG_LEVEL":        "logging.level",
	"LOG_PROFILE":      "logging.profile",
	"HOST":             "server.host",
	"PORT":             "server.port",
	"READ_TIMEOUT":     "server.read_timeout",
	"WRITE_TIMEOUT":    "server.write_timeout",
	"IDLE_TIMEOUT":     "server.idle_timeout",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"METRICS_ENABLED":  "metrics.enabled",
	"HEALTH_ENABLED":   "health.enabled",
}

// Load resolves configuration and stores it for GetConfig. Each override map
// is nested like the config file and applied in order.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	SetDefaults(v)

	if err := mergeConfigFiles(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(appIdentity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if val, ok := os.LookupEnv(spec.Name); ok {
			v.Set(spec.Path, val)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Transfer.Exclude = trimAll(cfg.Transfer.Exclude)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// GetConfig returns the configuration from the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Identity returns the active application identity, or nil before Load.
func Identity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// mergeConfigFiles reads the user config file, then an explicit
// <PREFIX>_CONFIG file. Missing default files are not an error.
func mergeConfigFiles(v *viper.Viper) error {
	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	explicit := os.Getenv(appIdentity.EnvPrefix + "_CONFIG")
	if explicit == "" {
		return nil
	}
	v.SetConfigFile(explicit)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return fmt.Errorf("config file %s not found", explicit)
		}
		return fmt.Errorf("read config %s: %w", explicit, err)
	}
	return nil
}

// getUserConfigPaths lists candidate config files, lowest precedence first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return []string{}
	}
	base := filepath.Join(dir, appIdentity.ConfigName)
	return []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
	}
}

// getEnvSpecs returns the short environment aliases, sorted by name.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envAliases))
	for suffix, path := range envAliases {
		specs = append(specs, EnvSpec{Name: appIdentity.EnvPrefix + "_" + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

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

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
