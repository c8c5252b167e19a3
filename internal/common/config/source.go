package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. MCPHOST_AGENT_PORT.
const EnvPrefix = "MCPHOST"

// Provider hands out the current configuration. Implementations must return
// a value the caller may keep.
type Provider interface {
	Load() (*Config, error)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.executablePath", "")
	v.SetDefault("agent.autoStart", true)
	v.SetDefault("agent.accessLevel", string(AccessReadOnly))
	v.SetDefault("agent.extraTools", []string{})
	v.SetDefault("agent.host", "127.0.0.1")
	v.SetDefault("agent.port", 8000)
	v.SetDefault("agent.timeoutSeconds", 600)
	v.SetDefault("agent.notify", true)
	v.SetDefault("agent.version", "v0.0.2")
	v.SetDefault("agent.binaryName", "aks-mcp")
	v.SetDefault("agent.downloadBaseUrl", "https://github.com/Azure/aks-mcp/releases/download")
	v.SetDefault("agent.serverId", "aks-mcp-server")
	v.SetDefault("agent.stopTimeoutSeconds", 10)
	v.SetDefault("agent.restartOnChange", false)

	v.SetDefault("readiness.mode", "mcp")
	v.SetDefault("readiness.graceMs", 2000)
	v.SetDefault("readiness.timeoutSeconds", 30)
	v.SetDefault("readiness.pollIntervalMs", 100)
	v.SetDefault("readiness.maxPollIntervalMs", 1000)

	v.SetDefault("storage.root", "~/.mcphost")
	wd, _ := os.Getwd()
	v.SetDefault("workspace.root", wd)

	v.SetDefault("control.host", "127.0.0.1")
	v.SetDefault("control.port", 7420)

	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.clientId", "mcphost")
	v.SetDefault("events.maxReconnects", 10)

	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Source is a Provider backed by viper. Every Load re-reads the config file
// so edits made while the host runs are picked up by the next operation.
type Source struct {
	mu  sync.Mutex
	v   *viper.Viper
	dir string
}

// NewSource builds a Source that searches configDir (if set), the working
// directory and ~/.mcphost for config.yaml. The initial load is validated.
func NewSource(configDir string) (*Source, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("workspace.root", "MCPHOST_WORKSPACE", "MCPHOST_WORKSPACE_ROOT")
	_ = v.BindEnv("agent.executablePath", "MCPHOST_AGENT_EXECUTABLE_PATH", "MCPHOST_AGENT_EXECUTABLEPATH")

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(ExpandPath("~/.mcphost"))

	s := &Source{v: v, dir: configDir}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads the config file and returns a validated snapshot.
func (s *Source) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the file that backs the Source, or "" when running on defaults.
func (s *Source) ConfigFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.ConfigFileUsed()
}

// WatchDir returns the directory a Watcher should observe: the directory of
// the config file in use, else the explicit config directory.
func (s *Source) WatchDir() string {
	if f := s.ConfigFile(); f != "" {
		return dirOf(f)
	}
	return s.dir
}

// Static is an in-memory Provider whose value can be swapped at runtime.
type Static struct {
	mu  sync.Mutex
	cfg Config
}

// NewStatic wraps cfg after normalizing it.
func NewStatic(cfg Config) *Static {
	normalize(&cfg)
	return &Static{cfg: cfg}
}

// Load returns a copy of the current value after validating it.
func (s *Static) Load() (*Config, error) {
	s.mu.Lock()
	cfg := s.cfg
	cfg.Agent.ExtraTools = slices.Clone(s.cfg.Agent.ExtraTools)
	s.mu.Unlock()
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Update applies fn to the stored value.
func (s *Static) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
	normalize(&s.cfg)
}

// Defaults returns a Config populated with every default value.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	normalize(&cfg)
	return cfg
}
