// Package lifecycle owns the agent process: it is the only place that starts,
// stops or restarts it, and the only holder of the live process handle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kandev/mcphost/internal/agent/endpoint"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	"github.com/kandev/mcphost/internal/common/config"
)

// State is the lifecycle state of the agent.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// Trigger names what asked for a start.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerAuto    Trigger = "auto"
	TriggerConfig  Trigger = "config"
	TriggerRestart Trigger = "restart"
)

// ReadyMessage is the notification shown after a successful start.
const ReadyMessage = "AKS AI capabilities enabled! You can now ask GitHub Copilot about your AKS clusters."

var ErrClosed = errors.New("lifecycle manager is closed")

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State     State                  `json:"state"`
	Reason    string                 `json:"reason,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	PID       int                    `json:"pid,omitempty"`
	Port      int                    `json:"port,omitempty"`
	URL       string                 `json:"url,omitempty"`
	StartedAt *time.Time             `json:"started_at,omitempty"`
	LastExit  *supervisor.ExitStatus `json:"last_exit,omitempty"`
}

// Running reports whether the snapshot is in the running state.
func (s Status) Running() bool {
	return s.State == StateRunning
}

// EventType identifies a lifecycle event.
type EventType string

const (
	EventStarting       EventType = "starting"
	EventStarted        EventType = "started"
	EventFailed         EventType = "failed"
	EventStopping       EventType = "stopping"
	EventStopped        EventType = "stopped"
	EventUnexpectedExit EventType = "unexpected_exit"
	EventPublishFailed  EventType = "publish_failed"
	EventAgentError     EventType = "agent_error"
)

// Event is one lifecycle transition or observation, delivered to observers
// in the order it happened.
type Event struct {
	ID      string                 `json:"id"`
	Type    EventType              `json:"type"`
	State   State                  `json:"state"`
	Trigger Trigger                `json:"trigger,omitempty"`
	RunID   string                 `json:"run_id,omitempty"`
	PID     int                    `json:"pid,omitempty"`
	Port    int                    `json:"port,omitempty"`
	URL     string                 `json:"url,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Exit    *supervisor.ExitStatus `json:"exit,omitempty"`
	At      time.Time              `json:"at"`
	Err     error                  `json:"-"`
}

// Observer receives lifecycle events on the manager's dispatch goroutine. It
// must not block and must not call back into the manager synchronously.
type Observer func(Event)

// UnexpectedExit reports that a running agent exited without being asked to.
type UnexpectedExit struct {
	PID  int
	Exit supervisor.ExitStatus
}

func (e *UnexpectedExit) Error() string {
	return fmt.Sprintf("agent (pid %d) exited unexpectedly: %s", e.PID, e.Exit)
}

// IsWarning reports whether err left the agent running. Only a failure to
// publish the endpoint artifact is in this class.
func IsWarning(err error) bool {
	var perr *endpoint.PublishError
	return errors.As(err, &perr)
}

// Provisioner makes the agent executable available.
type Provisioner interface {
	Ensure(ctx context.Context, agent config.AgentConfig, storage config.StorageConfig) (string, error)
}

// Spawner launches the agent process.
type Spawner interface {
	Spawn(path string, args []string) (*supervisor.Process, error)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string)

func (f NotifierFunc) Notify(ctx context.Context, message string) { f(ctx, message) }
