// Package endpoint writes the file that tells MCP clients in a workspace
// where the agent is listening.
package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ServerTypeSSE is the only transport the agent is launched with.
const ServerTypeSSE = "sse"

var ErrNoWorkspace = errors.New("no workspace folder configured")

// ServerDef is one entry of the artifact's servers map.
type ServerDef struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Artifact is the on-disk document: {"servers": {<id>: {...}}}.
type Artifact struct {
	Servers map[string]ServerDef `json:"servers"`
}

// Endpoint is what gets published for one agent run.
type Endpoint struct {
	ServerID string
	URL      string
}

// PublishError reports that the artifact could not be written.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("publish endpoint: %v", e.Err)
	}
	return fmt.Sprintf("publish endpoint to %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Publisher writes <workspaceRoot>/.vscode/mcp.json.
type Publisher struct {
	workspaceRoot string
}

// NewPublisher creates a Publisher for workspaceRoot. An empty root makes
// every Publish fail with ErrNoWorkspace.
func NewPublisher(workspaceRoot string) *Publisher {
	return &Publisher{workspaceRoot: workspaceRoot}
}

// Path returns the artifact location, or "" without a workspace.
func (p *Publisher) Path() string {
	if p.workspaceRoot == "" {
		return ""
	}
	return ArtifactPath(p.workspaceRoot)
}

// ArtifactPath returns the artifact location for a workspace root.
func ArtifactPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".vscode", "mcp.json")
}

// Render returns the exact bytes Publish writes for ep.
func Render(ep Endpoint) ([]byte, error) {
	doc := Artifact{Servers: map[string]ServerDef{
		ep.ServerID: {Type: ServerTypeSSE, URL: ep.URL},
	}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Publish replaces the artifact with one describing ep. The file is written
// to a temp name and renamed, so readers never observe a partial document.
func (p *Publisher) Publish(ep Endpoint) error {
	path := p.Path()
	if path == "" {
		return &PublishError{Err: ErrNoWorkspace}
	}

	data, err := Render(ep)
	if err != nil {
		return &PublishError{Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PublishError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".mcp.json.*")
	if err != nil {
		return &PublishError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return &PublishError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return &PublishError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &PublishError{Path: path, Err: err}
	}
	return nil
}

// Read parses an artifact from disk.
func Read(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &a, nil
}

// ServerIDs returns the artifact's server ids in sorted order.
func (a *Artifact) ServerIDs() []string {
	ids := make([]string, 0, len(a.Servers))
	for id := range a.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
