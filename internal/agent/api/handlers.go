package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/history"
	"github.com/kandev/mcphost/internal/agent/integration"
	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	apperrors "github.com/kandev/mcphost/internal/common/errors"
	"github.com/kandev/mcphost/internal/common/httpmw"
	"github.com/kandev/mcphost/internal/common/logger"
)

const (
	defaultOutputTail   = 100
	defaultHistoryLimit = 20
)

// Controller runs the user-facing commands. *integration.Integration
// implements it.
type Controller interface {
	Start(ctx context.Context) (integration.Result, error)
	Stop(ctx context.Context) (integration.Result, error)
	Restart(ctx context.Context) (integration.Result, error)
	Toggle(ctx context.Context) (integration.Result, error)
	Ask(ctx context.Context, req integration.AskRequest) (integration.Result, error)
	Status() integration.Result
}

// Observable gives read access to agent output and lifecycle events.
// *lifecycle.Manager implements it.
type Observable interface {
	Output(tail int) []supervisor.OutputLine
	Subscribe(o lifecycle.Observer) func()
}

// Handler contains HTTP handlers for the agent API
type Handler struct {
	controller Controller
	observable Observable
	history    history.Store
	logger     *logger.Logger
}

// NewHandler creates a new API handler. history may be nil.
func NewHandler(controller Controller, observable Observable, store history.Store, log *logger.Logger) *Handler {
	return &Handler{
		controller: controller,
		observable: observable,
		history:    store,
		logger:     log.WithComponent("agent-api"),
	}
}

// GetStatus returns the agent status
// GET /api/v1/agent/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, toResponse(h.controller.Status()))
}

// StartAgent starts the agent
// POST /api/v1/agent/start
func (h *Handler) StartAgent(c *gin.Context) {
	h.command(c, "start", h.controller.Start)
}

// StopAgent stops the agent
// POST /api/v1/agent/stop
func (h *Handler) StopAgent(c *gin.Context) {
	h.command(c, "stop", h.controller.Stop)
}

// RestartAgent restarts the agent
// POST /api/v1/agent/restart
func (h *Handler) RestartAgent(c *gin.Context) {
	h.command(c, "restart", h.controller.Restart)
}

// ToggleAgent starts a stopped agent or stops a running one
// POST /api/v1/agent/toggle
func (h *Handler) ToggleAgent(c *gin.Context) {
	h.command(c, "toggle", h.controller.Toggle)
}

// AskAgent prepares a cluster-scoped prompt, starting the agent if allowed
// POST /api/v1/agent/ask
func (h *Handler) AskAgent(c *gin.Context) {
	var req AskRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			appErr := apperrors.BadRequest(err.Error())
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}
	h.command(c, "ask", func(ctx context.Context) (integration.Result, error) {
		return h.controller.Ask(ctx, integration.AskRequest{
			Cluster:       req.Cluster,
			ResourceGroup: req.ResourceGroup,
			Start:         req.Start,
		})
	})
}

func (h *Handler) command(c *gin.Context, name string, fn func(context.Context) (integration.Result, error)) {
	c.Set(httpmw.AgentCommandKey, name)
	// The command outlives the request: a client that hangs up must not
	// abort a download or a readiness wait halfway.
	res, err := fn(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.logger.Error("agent command failed", zap.String("command", name), zap.Error(err))
		appErr := toAppError(err)
		c.Set(httpmw.ErrorCodeKey, appErr.Code)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.Set(httpmw.AgentStateKey, string(res.Status.State))
	if res.Warning != "" {
		h.logger.Warn("agent command finished with a warning", zap.String("command", name), zap.String("warning", res.Warning))
	}
	c.JSON(http.StatusOK, toResponse(res))
}

// GetOutput returns recent agent output
// GET /api/v1/agent/output?tail=N
func (h *Handler) GetOutput(c *gin.Context) {
	tail, ok := intQuery(c, "tail", defaultOutputTail)
	if !ok {
		return
	}
	lines := h.observable.Output(tail)
	if lines == nil {
		lines = []supervisor.OutputLine{}
	}
	c.JSON(http.StatusOK, OutputResponse{Lines: lines, Total: len(lines)})
}

// GetHistory lists recent agent runs
// GET /api/v1/agent/history?limit=N
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		appErr := apperrors.ServiceUnavailable("run history")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	limit, ok := intQuery(c, "limit", defaultHistoryLimit)
	if !ok {
		return
	}
	runs, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		appErr := apperrors.InternalError("failed to list runs", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Runs: runs, Total: len(runs)})
}

// intQuery parses a non-negative integer query parameter. On a bad value it
// writes a 400 and returns false.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		appErr := apperrors.BadRequest(name + " must be a non-negative integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return 0, false
	}
	return n, true
}

func toResponse(r integration.Result) CommandResponse {
	return CommandResponse{Message: r.Message, Warning: r.Warning, Prompt: r.Prompt, Status: r.Status}
}
