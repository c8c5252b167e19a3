// Package config provides configuration management for mcphost.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kandev/mcphost/internal/common/logger"
)

// Config holds all configuration sections for mcphost.
type Config struct {
	Agent     AgentConfig          `mapstructure:"agent"`
	Readiness ReadinessConfig      `mapstructure:"readiness"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Workspace WorkspaceConfig      `mapstructure:"workspace"`
	Control   ControlConfig        `mapstructure:"control"`
	Events    EventsConfig         `mapstructure:"events"`
	History   HistoryConfig        `mapstructure:"history"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
}

// AccessLevel is the permission tier passed to the agent.
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "readonly"
	AccessReadWrite AccessLevel = "readwrite"
	AccessAdmin     AccessLevel = "admin"
)

// Valid reports whether the level is one the agent accepts.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessReadOnly, AccessReadWrite, AccessAdmin:
		return true
	}
	return false
}

// AgentConfig is the user-facing configuration of the managed agent.
type AgentConfig struct {
	// ExecutablePath overrides the provisioned install location when set.
	ExecutablePath string      `mapstructure:"executablePath"`
	AutoStart      bool        `mapstructure:"autoStart"`
	AccessLevel    AccessLevel `mapstructure:"accessLevel"`
	ExtraTools     []string    `mapstructure:"extraTools"`
	Host           string      `mapstructure:"host"`
	Port           int         `mapstructure:"port"`
	TimeoutSeconds int         `mapstructure:"timeoutSeconds"`
	Notify         bool        `mapstructure:"notify"`

	Version         string `mapstructure:"version"`
	BinaryName      string `mapstructure:"binaryName"`
	DownloadBaseURL string `mapstructure:"downloadBaseUrl"`
	ServerID        string `mapstructure:"serverId"`

	StopTimeoutSeconds int  `mapstructure:"stopTimeoutSeconds"`
	RestartOnChange    bool `mapstructure:"restartOnChange"`
}

// StopTimeout returns the grace period before a stopping agent is killed.
func (a AgentConfig) StopTimeout() time.Duration {
	return time.Duration(a.StopTimeoutSeconds) * time.Second
}

// Tools returns ExtraTools as an ordered set: blanks and repeats are dropped.
func (a AgentConfig) Tools() []string {
	out := make([]string, 0, len(a.ExtraTools))
	for _, t := range a.ExtraTools {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Fingerprint identifies the settings that shape a launch. Two configs with
// the same fingerprint produce the same process.
func (a AgentConfig) Fingerprint() string {
	return strings.Join([]string{
		a.ExecutablePath,
		string(a.AccessLevel),
		strings.Join(a.Tools(), ","),
		a.Host,
		fmt.Sprint(a.Port),
		fmt.Sprint(a.TimeoutSeconds),
		a.Version,
		a.BinaryName,
		a.DownloadBaseURL,
	}, "|")
}

// ReadinessConfig controls how a freshly spawned agent is judged ready.
type ReadinessConfig struct {
	Mode              string `mapstructure:"mode"` // mcp, tcp, delay
	GraceMs           int    `mapstructure:"graceMs"`
	TimeoutSeconds    int    `mapstructure:"timeoutSeconds"`
	PollIntervalMs    int    `mapstructure:"pollIntervalMs"`
	MaxPollIntervalMs int    `mapstructure:"maxPollIntervalMs"`
}

func (r ReadinessConfig) Grace() time.Duration {
	return time.Duration(r.GraceMs) * time.Millisecond
}

func (r ReadinessConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r ReadinessConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

func (r ReadinessConfig) MaxPollInterval() time.Duration {
	return time.Duration(r.MaxPollIntervalMs) * time.Millisecond
}

// StorageConfig locates mcphost's private data directory.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// BinDir is where provisioned agent binaries live.
func (s StorageConfig) BinDir() string {
	return filepath.Join(s.Root, "bin")
}

// WorkspaceConfig locates the workspace that receives the endpoint artifact.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// ControlConfig holds the control API listener settings.
type ControlConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for the control listener.
func (c ControlConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventsConfig selects the lifecycle event bus. An empty NATSURL keeps events in-process.
type EventsConfig struct {
	NATSURL       string `mapstructure:"natsUrl"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// HistoryConfig selects where run history is recorded.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, memory
	Path   string `mapstructure:"path"`
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

// normalize fills derived paths after unmarshalling.
func normalize(cfg *Config) {
	cfg.Storage.Root = ExpandPath(cfg.Storage.Root)
	cfg.Workspace.Root = ExpandPath(cfg.Workspace.Root)
	cfg.Agent.ExecutablePath = ExpandPath(cfg.Agent.ExecutablePath)
	cfg.Agent.AccessLevel = AccessLevel(strings.ToLower(string(cfg.Agent.AccessLevel)))
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.Storage.Root, "history.db")
	} else {
		cfg.History.Path = ExpandPath(cfg.History.Path)
	}
}

// validate checks that all required configuration fields are set.
// Returns an error describing all validation failures.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Agent.Port <= 0 || cfg.Agent.Port > 65535 {
		errs = append(errs, "agent.port must be between 1 and 65535")
	}
	if !cfg.Agent.AccessLevel.Valid() {
		errs = append(errs, "agent.accessLevel must be one of: readonly, readwrite, admin")
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		errs = append(errs, "agent.timeoutSeconds must be positive")
	}
	if cfg.Agent.Host == "" {
		errs = append(errs, "agent.host is required")
	}
	if cfg.Agent.ServerID == "" {
		errs = append(errs, "agent.serverId is required")
	}
	if cfg.Agent.ExecutablePath == "" && (cfg.Agent.Version == "" || cfg.Agent.DownloadBaseURL == "" || cfg.Agent.BinaryName == "") {
		errs = append(errs, "agent.version, agent.binaryName and agent.downloadBaseUrl are required without agent.executablePath")
	}
	if cfg.Agent.StopTimeoutSeconds <= 0 {
		errs = append(errs, "agent.stopTimeoutSeconds must be positive")
	}

	switch cfg.Readiness.Mode {
	case "mcp", "tcp", "delay":
	default:
		errs = append(errs, "readiness.mode must be one of: mcp, tcp, delay")
	}
	if cfg.Readiness.TimeoutSeconds <= 0 {
		errs = append(errs, "readiness.timeoutSeconds must be positive")
	}
	if cfg.Readiness.GraceMs < 0 {
		errs = append(errs, "readiness.graceMs must not be negative")
	}

	if cfg.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if cfg.Control.Port <= 0 || cfg.Control.Port > 65535 {
		errs = append(errs, "control.port must be between 1 and 65535")
	}
	if cfg.History.Driver != "sqlite" && cfg.History.Driver != "memory" {
		errs = append(errs, "history.driver must be one of: sqlite, memory")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func detectDefaultLogFormat() string {
	if env := os.Getenv("MCPHOST_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}
