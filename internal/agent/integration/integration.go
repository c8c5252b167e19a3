// Package integration connects the lifecycle manager to the host: startup
// and shutdown hooks plus the user-facing commands.
package integration

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/lifecycle"
	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
)

const (
	MsgDisabled  = "AKS AI capabilities disabled"
	MsgRestarted = "AKS AI server restarted"
	MsgRunning   = "AKS AI server is running"
	MsgStopped   = "AKS AI server is stopped"
)

// Result is the outcome of a command as shown to the user.
type Result struct {
	Message string           `json:"message"`
	Warning string           `json:"warning,omitempty"`
	Prompt  string           `json:"prompt,omitempty"`
	Status  lifecycle.Status `json:"status"`
}

// Options configures an Integration. WatchDir is the directory holding
// config.yaml; leave it empty to skip file watching.
type Options struct {
	Manager  *lifecycle.Manager
	Config   config.Provider
	WatchDir string
	Logger   *logger.Logger
}

// Integration owns the background pieces that run next to the manager.
type Integration struct {
	manager    *lifecycle.Manager
	cfg        config.Provider
	watchDir   string
	logger     *logger.Logger
	reconciler *lifecycle.Reconciler

	mu      sync.Mutex
	cancel  context.CancelFunc
	watcher *config.Watcher
	wg      sync.WaitGroup
}

func New(opts Options) *Integration {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Integration{
		manager:    opts.Manager,
		cfg:        opts.Config,
		watchDir:   opts.WatchDir,
		logger:     log.WithComponent("integration"),
		reconciler: lifecycle.NewReconciler(opts.Manager, opts.Config, log),
	}
}

// Activate starts the agent in the background when autoStart is set and
// begins reacting to configuration changes. It never fails: problems are
// logged and the host keeps running.
func (i *Integration) Activate(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.cancel = cancel

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.reconciler.Run(runCtx)
	}()

	if i.watchDir != "" {
		w, err := config.NewWatcher(i.watchDir, i.reconciler.Notify, i.logger)
		if err != nil {
			i.logger.Warn("config file watching disabled", zap.String("dir", i.watchDir), zap.Error(err))
		} else {
			w.Start()
			i.watcher = w
		}
	}

	cfg, err := i.cfg.Load()
	if err != nil {
		i.logger.Error("invalid configuration, agent not started", zap.Error(err))
		return
	}
	if !cfg.Agent.AutoStart {
		return
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := i.manager.StartWithTrigger(runCtx, lifecycle.TriggerAuto); err != nil {
			if lifecycle.IsWarning(err) {
				i.logger.Warn("agent started with a warning", zap.Error(err))
				return
			}
			i.logger.Error("failed to auto-start agent", zap.Error(err))
		}
	}()
}

// ConfigChanged asks for a reconcile pass, for hosts that learn about
// configuration changes some other way than the file watcher.
func (i *Integration) ConfigChanged() {
	i.reconciler.Notify()
}

// Deactivate stops the background work and then the agent.
func (i *Integration) Deactivate(ctx context.Context) error {
	i.mu.Lock()
	cancel, watcher := i.cancel, i.watcher
	i.cancel, i.watcher = nil, nil
	i.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if cancel != nil {
		cancel()
	}

	err := i.manager.Stop(ctx)
	i.wg.Wait()
	if err != nil {
		i.logger.Error("error stopping agent during shutdown", zap.Error(err))
		return err
	}
	return nil
}

// Start starts the agent.
func (i *Integration) Start(ctx context.Context) (Result, error) {
	if i.manager.IsRunning() {
		return i.result(MsgRunning), nil
	}
	err := i.manager.Start(ctx)
	return i.settle(lifecycle.ReadyMessage, "failed to start AKS AI", err)
}

// Stop stops the agent.
func (i *Integration) Stop(ctx context.Context) (Result, error) {
	if err := i.manager.Stop(ctx); err != nil {
		return i.result(""), fmt.Errorf("failed to stop AKS AI: %w", err)
	}
	return i.result(MsgDisabled), nil
}

// Toggle stops a running agent and starts a stopped one.
func (i *Integration) Toggle(ctx context.Context) (Result, error) {
	started, err := i.manager.Toggle(ctx)
	if !started {
		if err != nil {
			return i.result(""), fmt.Errorf("failed to toggle AKS AI: %w", err)
		}
		return i.result(MsgDisabled), nil
	}
	return i.settle(lifecycle.ReadyMessage, "failed to toggle AKS AI", err)
}

// Restart stops and starts the agent with the current configuration.
func (i *Integration) Restart(ctx context.Context) (Result, error) {
	err := i.manager.Restart(ctx)
	return i.settle(MsgRestarted, "failed to restart AKS AI server", err)
}

// Status reports whether the agent is running.
func (i *Integration) Status() Result {
	if i.manager.IsRunning() {
		return i.result(MsgRunning)
	}
	return i.result(MsgStopped)
}

// settle turns a start outcome into a result. A publish failure leaves the
// agent running, so it is reported as a warning next to the success message.
func (i *Integration) settle(success, failure string, err error) (Result, error) {
	switch {
	case err == nil:
		return i.result(success), nil
	case lifecycle.IsWarning(err):
		r := i.result(success)
		r.Warning = err.Error()
		return r, nil
	default:
		return i.result(""), fmt.Errorf("%s: %w", failure, err)
	}
}

func (i *Integration) result(msg string) Result {
	return Result{Message: msg, Status: i.manager.Status()}
}
