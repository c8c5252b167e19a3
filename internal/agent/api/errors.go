package api

import (
	"errors"
	"net/http"

	"github.com/kandev/mcphost/internal/agent/integration"
	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/agent/provision"
	"github.com/kandev/mcphost/internal/agent/readiness"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	apperrors "github.com/kandev/mcphost/internal/common/errors"
)

// toAppError maps a lifecycle failure onto the API error envelope.
func toAppError(err error) *apperrors.AppError {
	var (
		appErr   *apperrors.AppError
		provErr  *provision.ProvisionError
		spawnErr *supervisor.SpawnError
		readyErr *readiness.ReadinessTimeout
	)
	msg := err.Error()
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, integration.ErrNotRunning):
		return apperrors.Conflict(integration.MsgNotRunning)
	case errors.Is(err, lifecycle.ErrClosed):
		return apperrors.ServiceUnavailable("agent lifecycle")
	case errors.As(err, &provErr):
		return apperrors.New(apperrors.ErrCodeProvisionFailed, http.StatusBadGateway, msg, err)
	case errors.As(err, &spawnErr):
		return apperrors.New(apperrors.ErrCodeSpawnFailed, http.StatusInternalServerError, msg, err)
	case errors.As(err, &readyErr):
		return apperrors.New(apperrors.ErrCodeNotReady, http.StatusGatewayTimeout, msg, err)
	default:
		return apperrors.InternalError(msg, err)
	}
}
