// Package history records one row per agent run so past starts, failures and
// exits can be listed after the fact.
package history

import (
	"errors"
	"time"
)

// RunStatus is the recorded outcome of a run.
type RunStatus string

const (
	RunStarting RunStatus = "starting"
	RunRunning  RunStatus = "running"
	RunStopped  RunStatus = "stopped"
	RunFailed   RunStatus = "failed"
	RunExited   RunStatus = "exited" // exited without being asked to
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one attempt to start the agent and everything that happened to it.
type Run struct {
	ID        string     `db:"id" json:"id"`
	Trigger   string     `db:"run_trigger" json:"trigger"`
	Status    RunStatus  `db:"status" json:"status"`
	PID       int        `db:"pid" json:"pid,omitempty"`
	Port      int        `db:"port" json:"port,omitempty"`
	URL       string     `db:"url" json:"url,omitempty"`
	Reason    string     `db:"reason" json:"reason,omitempty"`
	ExitCode  *int       `db:"exit_code" json:"exit_code,omitempty"`
	Signal    string     `db:"signal" json:"signal,omitempty"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	ReadyAt   *time.Time `db:"ready_at" json:"ready_at,omitempty"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Finished reports whether the run has reached a terminal status.
func (r *Run) Finished() bool {
	switch r.Status {
	case RunStopped, RunFailed, RunExited:
		return true
	}
	return false
}
