package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	"github.com/kandev/mcphost/internal/common/logger"
)

func newRecorder(t *testing.T) (*Recorder, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewRecorder(store, logger.Nop()), store
}

func TestRecorder_StartStop(t *testing.T) {
	rec, store := newRecorder(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarting, RunID: "r1", Trigger: lifecycle.TriggerAuto, Port: 8000, At: at})
	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarted, RunID: "r1", PID: 99, Port: 8000, URL: "http://127.0.0.1:8000/sse", At: at.Add(time.Second)})

	run, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
	assert.Equal(t, "auto", run.Trigger)
	assert.Equal(t, 99, run.PID)
	assert.Equal(t, "http://127.0.0.1:8000/sse", run.URL)
	require.NotNil(t, run.ReadyAt)
	assert.False(t, run.Finished())

	rec.Observe(lifecycle.Event{Type: lifecycle.EventStopping, RunID: "r1", PID: 99, At: at.Add(time.Minute)})
	rec.Observe(lifecycle.Event{
		Type:  lifecycle.EventStopped,
		RunID: "r1",
		PID:   99,
		Exit:  &supervisor.ExitStatus{Code: 143, Signal: "terminated"},
		At:    at.Add(time.Minute),
	})

	run, err = store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, RunStopped, run.Status)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 143, *run.ExitCode)
	assert.Equal(t, "terminated", run.Signal)
	require.NotNil(t, run.EndedAt)
	assert.True(t, run.StartedAt.Equal(at))
}

func TestRecorder_FailedAndUnexpectedExit(t *testing.T) {
	rec, store := newRecorder(t)
	at := time.Now().UTC()

	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarting, RunID: "failed", At: at})
	rec.Observe(lifecycle.Event{Type: lifecycle.EventFailed, RunID: "failed", Reason: "readiness timed out", At: at})

	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarting, RunID: "crashed", At: at.Add(time.Second)})
	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarted, RunID: "crashed", PID: 7, At: at.Add(time.Second)})
	rec.Observe(lifecycle.Event{
		Type:   lifecycle.EventUnexpectedExit,
		RunID:  "crashed",
		PID:    7,
		Reason: "agent (pid 7) exited unexpectedly: exit code 1",
		Exit:   &supervisor.ExitStatus{Code: 1},
		At:     at.Add(2 * time.Second),
	})

	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "crashed", runs[0].ID)
	assert.Equal(t, RunExited, runs[0].Status)
	assert.Contains(t, runs[0].Reason, "unexpectedly")
	assert.Equal(t, 1, *runs[0].ExitCode)

	assert.Equal(t, "failed", runs[1].ID)
	assert.Equal(t, RunFailed, runs[1].Status)
	assert.Equal(t, "readiness timed out", runs[1].Reason)
	assert.Nil(t, runs[1].ExitCode)
}

func TestRecorder_UnknownRunIsCreated(t *testing.T) {
	rec, store := newRecorder(t)

	rec.Observe(lifecycle.Event{Type: lifecycle.EventStarted, RunID: "late", PID: 5, At: time.Now().UTC()})

	run, err := store.Get(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)
}

func TestRecorder_IgnoresEventsWithoutRun(t *testing.T) {
	rec, store := newRecorder(t)

	rec.Observe(lifecycle.Event{Type: lifecycle.EventAgentError, Err: errors.New("boom")})

	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, *Run) error { return errors.New("disk full") }

func TestRecorder_StoreErrorsAreSwallowed(t *testing.T) {
	rec := NewRecorder(&failingStore{MemoryStore: NewMemoryStore()}, logger.Nop())
	assert.NotPanics(t, func() {
		rec.Observe(lifecycle.Event{Type: lifecycle.EventStarting, RunID: "x", At: time.Now()})
	})
}
