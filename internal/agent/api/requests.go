// Package api exposes the lifecycle manager over HTTP for local tooling.
package api

import (
	"github.com/kandev/mcphost/internal/agent/history"
	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/agent/supervisor"
)

// CommandResponse is returned by the command endpoints.
type CommandResponse struct {
	Message string           `json:"message"`
	Warning string           `json:"warning,omitempty"`
	Prompt  string           `json:"prompt,omitempty"`
	Status  lifecycle.Status `json:"status"`
}

// AskRequest is the body of POST /ask. An empty body asks an unscoped
// question of a running agent.
type AskRequest struct {
	Cluster       string `json:"cluster"`
	ResourceGroup string `json:"resource_group"`
	Start         bool   `json:"start"`
}

// OutputResponse for the output endpoint
type OutputResponse struct {
	Lines []supervisor.OutputLine `json:"lines"`
	Total int                     `json:"total"`
}

// HistoryResponse for the history endpoint
type HistoryResponse struct {
	Runs  []*history.Run `json:"runs"`
	Total int            `json:"total"`
}

// StreamMessage is one frame on the events websocket. The first frame is a
// status snapshot; every later frame carries an event.
type StreamMessage struct {
	Type   string            `json:"type"` // status, event
	Status *lifecycle.Status `json:"status,omitempty"`
	Event  *lifecycle.Event  `json:"event,omitempty"`
}
