package lifecycle

import (
	"strconv"
	"strings"

	"github.com/kandev/mcphost/internal/agent/readiness"
	"github.com/kandev/mcphost/internal/common/config"
)

// BuildArgs returns the agent's command line for cfg.
func BuildArgs(cfg config.AgentConfig) []string {
	return []string{
		"--transport", "sse",
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--access-level", string(cfg.AccessLevel),
		"--additional-tools", strings.Join(cfg.Tools(), ","),
		"--timeout", strconv.Itoa(cfg.TimeoutSeconds),
	}
}

// TargetFor returns where an agent launched with cfg listens.
func TargetFor(cfg config.AgentConfig) readiness.Target {
	return readiness.Target{Host: cfg.Host, Port: cfg.Port}
}
