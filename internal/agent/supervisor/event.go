package supervisor

import "fmt"

// EventKind discriminates the events a Process reports.
type EventKind int

const (
	EventOutput EventKind = iota
	EventError
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventExit:
		return "exit"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one observation of a running agent process.
type Event struct {
	Kind EventKind
	// Output is set for EventOutput.
	Output OutputLine
	// Err is set for EventError.
	Err error
	// Exit is set for EventExit.
	Exit ExitStatus
}

// ExitStatus describes how a process ended. Signal is empty unless the
// process was killed by a signal.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("killed by %s", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// SpawnError reports that the executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
