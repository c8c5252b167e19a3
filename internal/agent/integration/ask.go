package integration

import (
	"context"
	"errors"
	"fmt"
)

const (
	MsgNotRunning = "AKS AI is not running. Start it now?"
	DefaultPrompt = "How can I help with your AKS clusters?"
)

// ErrNotRunning is returned by Ask when the agent is stopped and the caller
// did not allow starting it.
var ErrNotRunning = errors.New("AKS AI is not running")

// AskRequest scopes a question to a cluster. Start allows Ask to start a
// stopped agent first.
type AskRequest struct {
	Cluster       string `json:"cluster,omitempty"`
	ResourceGroup string `json:"resource_group,omitempty"`
	Start         bool   `json:"start,omitempty"`
}

// Prompt returns the opening prompt for an MCP client. It is scoped to the
// cluster only when both the name and its resource group are known.
func Prompt(cluster, resourceGroup string) string {
	if cluster == "" || resourceGroup == "" {
		return DefaultPrompt
	}
	return fmt.Sprintf("Please analyze my AKS cluster %q in resource group %q", cluster, resourceGroup)
}

// Ask makes sure the agent is running and returns a prompt for the client to
// open a session with.
func (i *Integration) Ask(ctx context.Context, req AskRequest) (Result, error) {
	res := i.result(MsgRunning)
	if !i.manager.IsRunning() {
		if !req.Start {
			return i.result(MsgNotRunning), ErrNotRunning
		}
		var err error
		if res, err = i.Start(ctx); err != nil {
			return res, err
		}
	}
	res.Prompt = Prompt(req.Cluster, req.ResourceGroup)
	return res, nil
}
