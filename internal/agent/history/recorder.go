package history

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/common/logger"
)

const writeTimeout = 5 * time.Second

// Recorder turns lifecycle events into run rows. Register Observe with
// Manager.Subscribe.
type Recorder struct {
	store  Store
	logger *logger.Logger
}

func NewRecorder(store Store, log *logger.Logger) *Recorder {
	return &Recorder{store: store, logger: log.WithComponent("history")}
}

// Observe records ev. Storage errors are logged, never returned.
func (r *Recorder) Observe(ev lifecycle.Event) {
	if ev.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.record(ctx, ev); err != nil {
		r.logger.Warn("failed to record agent run",
			zap.String("run_id", ev.RunID),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
	}
}

func (r *Recorder) record(ctx context.Context, ev lifecycle.Event) error {
	if ev.Type == lifecycle.EventStarting {
		return r.store.Save(ctx, &Run{
			ID:        ev.RunID,
			Trigger:   string(ev.Trigger),
			Status:    RunStarting,
			Port:      ev.Port,
			StartedAt: ev.At,
		})
	}

	run, err := r.store.Get(ctx, ev.RunID)
	if errors.Is(err, ErrNotFound) {
		// The run started before the recorder was attached.
		run = &Run{ID: ev.RunID, Trigger: string(ev.Trigger), StartedAt: ev.At}
	} else if err != nil {
		return err
	}

	if !apply(run, ev) {
		return nil
	}
	return r.store.Save(ctx, run)
}

// apply folds ev into run and reports whether anything changed.
func apply(run *Run, ev lifecycle.Event) bool {
	at := ev.At
	switch ev.Type {
	case lifecycle.EventStarted:
		run.Status = RunRunning
		run.PID = ev.PID
		run.Port = ev.Port
		run.URL = ev.URL
		run.ReadyAt = &at
	case lifecycle.EventPublishFailed:
		run.Reason = ev.Reason
	case lifecycle.EventStopped:
		run.Status = RunStopped
		run.EndedAt = &at
		setExit(run, ev)
	case lifecycle.EventUnexpectedExit:
		run.Status = RunExited
		run.Reason = ev.Reason
		run.EndedAt = &at
		setExit(run, ev)
	case lifecycle.EventFailed:
		run.Status = RunFailed
		run.Reason = ev.Reason
		run.EndedAt = &at
	default:
		return false
	}
	return true
}

func setExit(run *Run, ev lifecycle.Event) {
	if ev.PID != 0 {
		run.PID = ev.PID
	}
	if ev.Exit == nil {
		return
	}
	code := ev.Exit.Code
	run.ExitCode = &code
	run.Signal = ev.Exit.Signal
}
