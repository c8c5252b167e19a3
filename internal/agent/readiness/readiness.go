// Package readiness decides when a freshly spawned agent can accept
// connections.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
)

const (
	ModeMCP   = "mcp"
	ModeTCP   = "tcp"
	ModeDelay = "delay"
)

// ErrProcessExited is the cause reported when the agent dies while being awaited.
var ErrProcessExited = errors.New("agent process exited before becoming ready")

// Handle is the view of the spawned process a Gate needs.
type Handle interface {
	Done() <-chan struct{}
}

// Target is where the agent was told to listen.
type Target struct {
	Host string
	Port int
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// SSEURL returns the agent's SSE endpoint.
func (t Target) SSEURL() string {
	return "http://" + t.Addr() + "/sse"
}

// Gate waits until an agent is ready. Await returns nil on success and a
// *ReadinessTimeout otherwise.
type Gate interface {
	Await(ctx context.Context, h Handle, t Target) error
	Mode() string
}

// ReadinessTimeout reports that the agent did not become ready.
type ReadinessTimeout struct {
	Mode    string
	Timeout time.Duration
	Err     error
}

func (e *ReadinessTimeout) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("agent not ready after %s (%s): %v", e.Timeout, e.Mode, e.Err)
	}
	return fmt.Sprintf("agent not ready (%s): %v", e.Mode, e.Err)
}

func (e *ReadinessTimeout) Unwrap() error {
	return e.Err
}

// New builds the gate selected by cfg.Mode.
func New(cfg config.ReadinessConfig, log *logger.Logger) (Gate, error) {
	switch cfg.Mode {
	case ModeDelay:
		return NewDelay(cfg.Grace()), nil
	case ModeTCP:
		return NewTCPProbe(cfg, log), nil
	case ModeMCP, "":
		return NewMCPProbe(cfg, log), nil
	}
	return nil, fmt.Errorf("unknown readiness mode %q", cfg.Mode)
}

// Delay treats the agent as ready once it has survived a fixed grace period.
type Delay struct {
	Grace time.Duration
}

// NewDelay creates a Delay gate.
func NewDelay(grace time.Duration) *Delay {
	return &Delay{Grace: grace}
}

func (d *Delay) Mode() string { return ModeDelay }

// Await waits out the grace period, failing early if the process exits or
// ctx ends.
func (d *Delay) Await(ctx context.Context, h Handle, _ Target) error {
	timer := time.NewTimer(d.Grace)
	defer timer.Stop()

	select {
	case <-timer.C:
		select {
		case <-h.Done():
			return &ReadinessTimeout{Mode: ModeDelay, Err: ErrProcessExited}
		default:
			return nil
		}
	case <-h.Done():
		return &ReadinessTimeout{Mode: ModeDelay, Err: ErrProcessExited}
	case <-ctx.Done():
		return &ReadinessTimeout{Mode: ModeDelay, Err: ctx.Err()}
	}
}
