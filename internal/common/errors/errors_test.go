package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	plain := errors.New("disk full")
	wrapped := Wrap(plain, "save run")
	assert.Equal(t, ErrCodeInternalError, wrapped.Code)
	assert.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	assert.ErrorIs(t, wrapped, plain)

	conflict := Conflict("agent is stopping")
	rewrapped := Wrap(fmt.Errorf("ctx: %w", conflict), "start")
	assert.Equal(t, ErrCodeConflict, rewrapped.Code)
	assert.Equal(t, http.StatusConflict, rewrapped.HTTPStatus)
	assert.Equal(t, "start: agent is stopping", rewrapped.Message)
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatus(BadRequest("tail must be a number")))
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatus(ServiceUnavailable("history")))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("x")))
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "BAD_REQUEST: nope", BadRequest("nope").Error())
	assert.Equal(t, "SPAWN_FAILED: spawn: boom",
		New(ErrCodeSpawnFailed, http.StatusInternalServerError, "spawn", errors.New("boom")).Error())
}
