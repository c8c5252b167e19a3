package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
)

const maxAttemptTimeout = 2 * time.Second

// CheckFunc performs one readiness attempt.
type CheckFunc func(ctx context.Context, t Target) error

// Probe polls a check with exponential backoff until it passes.
type Probe struct {
	mode        string
	check       CheckFunc
	timeout     time.Duration
	interval    time.Duration
	maxInterval time.Duration
	logger      *logger.Logger
}

// NewProbe creates a Probe around an arbitrary check.
func NewProbe(mode string, check CheckFunc, cfg config.ReadinessConfig, log *logger.Logger) *Probe {
	p := &Probe{
		mode:        mode,
		check:       check,
		timeout:     cfg.Timeout(),
		interval:    cfg.PollInterval(),
		maxInterval: cfg.MaxPollInterval(),
		logger:      log.WithComponent("readiness"),
	}
	if p.interval <= 0 {
		p.interval = 100 * time.Millisecond
	}
	if p.maxInterval < p.interval {
		p.maxInterval = p.interval
	}
	return p
}

// NewTCPProbe waits until the agent's port accepts a connection.
func NewTCPProbe(cfg config.ReadinessConfig, log *logger.Logger) *Probe {
	return NewProbe(ModeTCP, CheckTCP, cfg, log)
}

// NewMCPProbe waits until the agent completes an MCP initialize handshake.
func NewMCPProbe(cfg config.ReadinessConfig, log *logger.Logger) *Probe {
	return NewProbe(ModeMCP, CheckMCP, cfg, log)
}

func (p *Probe) Mode() string { return p.mode }

// Await polls until the check passes, the process exits, ctx ends or the
// probe timeout elapses.
func (p *Probe) Await(ctx context.Context, h Handle, t Target) error {
	deadline := time.Now().Add(p.timeout)
	backoff := p.interval
	var lastErr error

	for attempt := 1; ; attempt++ {
		select {
		case <-h.Done():
			return &ReadinessTimeout{Mode: p.mode, Err: ErrProcessExited}
		case <-ctx.Done():
			return &ReadinessTimeout{Mode: p.mode, Err: ctx.Err()}
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil {
				lastErr = errors.New("no attempt completed")
			}
			return &ReadinessTimeout{Mode: p.mode, Timeout: p.timeout, Err: lastErr}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, min(remaining, maxAttemptTimeout))
		lastErr = p.check(attemptCtx, t)
		cancel()
		if lastErr == nil {
			p.logger.Debug("agent ready", zap.String("mode", p.mode), zap.Int("attempts", attempt))
			return nil
		}

		p.logger.Debug("waiting for agent",
			zap.String("mode", p.mode),
			zap.String("addr", t.Addr()),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		timer := time.NewTimer(min(backoff, max(time.Until(deadline), 0)))
		select {
		case <-timer.C:
		case <-h.Done():
			timer.Stop()
			return &ReadinessTimeout{Mode: p.mode, Err: ErrProcessExited}
		case <-ctx.Done():
			timer.Stop()
			return &ReadinessTimeout{Mode: p.mode, Err: ctx.Err()}
		}
		backoff = min(backoff*2, p.maxInterval)
	}
}

// CheckTCP succeeds when a TCP connection to the target can be opened.
func CheckTCP(ctx context.Context, t Target) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckMCP connects to the target's SSE endpoint and runs an initialize
// handshake.
func CheckMCP(ctx context.Context, t Target) error {
	c, err := client.NewSSEMCPClient(t.SSEURL())
	if err != nil {
		return fmt.Errorf("create mcp client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", t.SSEURL(), err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcphost-readiness", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}
