package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
)

// Reconciler reacts to configuration changes on its own goroutine. It never
// touches the process itself; it only calls the Manager's public operations.
type Reconciler struct {
	manager *Manager
	cfg     config.Provider
	logger  *logger.Logger

	trigger chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewReconciler creates a Reconciler for m.
func NewReconciler(m *Manager, cfg config.Provider, log *logger.Logger) *Reconciler {
	return &Reconciler{
		manager: m,
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Notify schedules a reconcile pass. Notifications that arrive while one is
// pending are merged into it.
func (r *Reconciler) Notify() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run processes notifications until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.Reconcile(ctx)
		}
	}
}

// Done is closed when Run returns.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// Reconcile applies the current configuration once: an auto-start agent that
// is not running is started, and with restartOnChange a running agent whose
// launch settings changed is restarted.
func (r *Reconciler) Reconcile(ctx context.Context) {
	cfg, err := r.cfg.Load()
	if err != nil {
		r.logger.Error("ignoring invalid configuration", zap.Error(err))
		return
	}

	st := r.manager.Status()
	switch {
	case cfg.Agent.AutoStart && (st.State == StateStopped || st.State == StateFailed):
		r.logger.Info("configuration changed, starting agent")
		if err := r.manager.StartWithTrigger(ctx, TriggerConfig); err != nil {
			r.logger.Error("failed to start agent after configuration change", zap.Error(err))
		}
	case cfg.Agent.RestartOnChange && st.State == StateRunning:
		running := r.manager.Fingerprint()
		if running == "" || running == cfg.Agent.Fingerprint() {
			return
		}
		r.logger.Info("launch settings changed, restarting agent")
		if err := r.manager.Restart(ctx); err != nil {
			r.logger.Error("failed to restart agent after configuration change", zap.Error(err))
		}
	}
}
