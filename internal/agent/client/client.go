// Package client talks to the mcphost control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/api"
	apperrors "github.com/kandev/mcphost/internal/common/errors"
	"github.com/kandev/mcphost/internal/common/logger"
)

const apiPrefix = "/api/v1/agent"

// Client calls the control API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a client for the API listening on addr (host:port or a
// full http URL). Commands can wait on a full agent start, so the timeout is
// generous.
func NewClient(addr string, log *logger.Logger) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: log.WithComponent("api-client"),
	}
}

// Status returns the agent status
func (c *Client) Status(ctx context.Context) (*api.CommandResponse, error) {
	var resp api.CommandResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start starts the agent
func (c *Client) Start(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, "/start")
}

// Stop stops the agent
func (c *Client) Stop(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, "/stop")
}

// Restart restarts the agent
func (c *Client) Restart(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, "/restart")
}

// Toggle starts or stops the agent
func (c *Client) Toggle(ctx context.Context) (*api.CommandResponse, error) {
	return c.command(ctx, "/toggle")
}

// Output returns up to tail recent output lines
func (c *Client) Output(ctx context.Context, tail int) (*api.OutputResponse, error) {
	var resp api.OutputResponse
	q := url.Values{"tail": {strconv.Itoa(tail)}}
	if err := c.do(ctx, http.MethodGet, "/output", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit recent runs
func (c *Client) History(ctx context.Context, limit int) (*api.HistoryResponse, error) {
	var resp api.HistoryResponse
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/history", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamEvents reads the event stream until ctx ends, the server closes the
// connection or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, fn func(api.StreamMessage) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + apiPrefix + "/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *Client) command(ctx context.Context, path string) (*api.CommandResponse, error) {
	var resp api.CommandResponse
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask returns a prompt scoped to req, starting the agent when req.Start is set
func (c *Client) Ask(ctx context.Context, req api.AskRequest) (*api.CommandResponse, error) {
	var resp api.CommandResponse
	if err := c.do(ctx, http.MethodPost, "/ask", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mcphost at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var appErr apperrors.AppError
		if jsonErr := json.Unmarshal(respBody, &appErr); jsonErr == nil && appErr.Code != "" {
			c.logger.Debug("api returned an error", zap.String("path", path), zap.String("code", appErr.Code))
			return &appErr
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
