package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/agent/endpoint"
	"github.com/kandev/mcphost/internal/agent/readiness"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
	"github.com/kandev/mcphost/internal/common/portutil"
	"github.com/kandev/mcphost/internal/common/tracing"
	"github.com/kandev/mcphost/internal/events"
	"github.com/kandev/mcphost/internal/events/bus"
)

const (
	eventQueueSize  = 256
	killWait        = 5 * time.Second
	fallbackStopTTL = 10 * time.Second
)

// GateFactory builds the readiness gate for one start.
type GateFactory func(cfg config.ReadinessConfig) (readiness.Gate, error)

// Options wires a Manager's collaborators. Config and Provisioner are
// required; everything else has a default.
type Options struct {
	Config      config.Provider
	Provisioner Provisioner
	Spawner     Spawner
	Output      *supervisor.OutputBuffer
	Gates       GateFactory
	Notifier    Notifier
	Bus         bus.EventBus
	Logger      *logger.Logger
}

// Manager is the agent lifecycle state machine.
type Manager struct {
	cfg         config.Provider
	provisioner Provisioner
	spawner     Spawner
	output      *supervisor.OutputBuffer
	gates       GateFactory
	notifier    Notifier
	bus         bus.EventBus
	logger      *logger.Logger

	// opMu serializes Start, Stop, Restart and Toggle end to end.
	opMu sync.Mutex

	// stateMu guards the fields below; the exit watcher also takes it.
	stateMu       sync.Mutex
	state         State
	reason        string
	proc          *supervisor.Process
	stopRequested bool
	runID         string
	port          int
	url           string
	startedAt     *time.Time
	lastExit      *supervisor.ExitStatus
	fingerprint   string

	status atomic.Pointer[Status]

	emitMu     sync.RWMutex
	emitClosed bool
	events     chan Event

	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObs   uint64

	watchers     sync.WaitGroup
	dispatchDone chan struct{}
	closed       atomic.Bool
	closeOnce    sync.Once
}

// NewManager creates a Manager in the stopped state and starts its event
// dispatcher. Call Close to stop the agent and release the dispatcher.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("lifecycle: config provider is required")
	}
	if opts.Provisioner == nil {
		return nil, errors.New("lifecycle: provisioner is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("lifecycle")

	output := opts.Output
	spawner := opts.Spawner
	if spawner == nil {
		sup := supervisor.New(log, output)
		output = sup.Output()
		spawner = sup
	}
	if output == nil {
		output = supervisor.NewOutputBuffer(500)
	}
	gates := opts.Gates
	if gates == nil {
		gates = func(cfg config.ReadinessConfig) (readiness.Gate, error) {
			return readiness.New(cfg, log)
		}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(_ context.Context, msg string) {
			log.Info("notification", zap.String("message", msg))
		})
	}

	m := &Manager{
		cfg:          opts.Config,
		provisioner:  opts.Provisioner,
		spawner:      spawner,
		output:       output,
		gates:        gates,
		notifier:     notifier,
		bus:          opts.Bus,
		logger:       log,
		state:        StateStopped,
		events:       make(chan Event, eventQueueSize),
		observers:    make(map[uint64]Observer),
		dispatchDone: make(chan struct{}),
	}
	m.publishStatusLocked()
	go m.dispatch()
	return m, nil
}

// Status returns the current snapshot without blocking.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// IsRunning reports whether the agent is in the running state.
func (m *Manager) IsRunning() bool {
	return m.Status().State == StateRunning
}

// Output returns up to tail recent lines of agent output.
func (m *Manager) Output(tail int) []supervisor.OutputLine {
	return m.output.Last(tail)
}

// Fingerprint returns the launch fingerprint of the live run, or "".
func (m *Manager) Fingerprint() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.proc == nil {
		return ""
	}
	return m.fingerprint
}

// Subscribe registers an observer and returns a function that removes it.
func (m *Manager) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = o
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// Start launches the agent. It returns nil at once when the agent is already
// starting or running. A *endpoint.PublishError means the agent is running
// but its endpoint could not be published; see IsWarning.
func (m *Manager) Start(ctx context.Context) error {
	return m.StartWithTrigger(ctx, TriggerManual)
}

// StartWithTrigger is Start with the trigger recorded on events.
func (m *Manager) StartWithTrigger(ctx context.Context, trigger Trigger) error {
	switch m.Status().State {
	case StateRunning, StateStarting:
		return nil
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.startLocked(ctx, trigger)
}

// Stop terminates the agent and waits for it to exit. Stopping an agent
// that is not running is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopLocked(ctx)
}

// Restart stops the agent and starts it again with fresh configuration.
// No other operation can interleave between the two halves.
func (m *Manager) Restart(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.stopLocked(ctx); err != nil {
		return err
	}
	return m.startLocked(ctx, TriggerRestart)
}

// Toggle stops a starting or running agent and starts any other. It reports
// whether it started the agent.
func (m *Manager) Toggle(ctx context.Context) (started bool, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	switch m.Status().State {
	case StateRunning, StateStarting:
		return false, m.stopLocked(ctx)
	}
	return true, m.startLocked(ctx, TriggerManual)
}

// Close stops the agent, waits for its watcher and drains pending events.
// The Manager cannot be started again afterwards.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		err = m.Stop(ctx)
		m.watchers.Wait()

		m.emitMu.Lock()
		m.emitClosed = true
		close(m.events)
		m.emitMu.Unlock()
		<-m.dispatchDone
	})
	return err
}

func (m *Manager) startLocked(ctx context.Context, trigger Trigger) (err error) {
	switch m.Status().State {
	case StateRunning, StateStarting:
		return nil
	}
	if m.closed.Load() {
		return ErrClosed
	}

	runID := uuid.New().String()
	cfg, err := m.cfg.Load()
	if err != nil {
		return m.failStart(runID, trigger, fmt.Errorf("load config: %w", err))
	}
	agent := cfg.Agent
	target := TargetFor(agent)

	ctx, span := tracing.TraceStart(ctx, string(trigger), agent.Port)
	defer func() {
		if IsWarning(err) {
			tracing.End(span, nil)
			return
		}
		tracing.End(span, err)
	}()

	m.stateMu.Lock()
	m.state = StateStarting
	m.reason = ""
	m.runID = runID
	m.port = agent.Port
	m.url = ""
	m.startedAt = nil
	m.publishStatusLocked()
	m.stateMu.Unlock()

	log := m.logger.WithFields(zap.String("run_id", runID), zap.String("trigger", string(trigger)))
	log.Info("starting agent", zap.Int("port", agent.Port), zap.String("access_level", string(agent.AccessLevel)))
	m.emit(Event{Type: EventStarting, State: StateStarting, Trigger: trigger, RunID: runID, Port: agent.Port})

	path, err := m.provisioner.Ensure(ctx, agent, cfg.Storage)
	if err != nil {
		return m.failStart(runID, trigger, err)
	}

	if err := portutil.CheckAvailable(agent.Host, agent.Port); err != nil {
		return m.failStart(runID, trigger, &supervisor.SpawnError{Path: path, Err: err})
	}

	args := BuildArgs(agent)
	_, spawnSpan := tracing.TraceSpawn(ctx, path, args)
	proc, err := m.spawner.Spawn(path, args)
	tracing.End(spawnSpan, err)
	if err != nil {
		return m.failStart(runID, trigger, err)
	}

	m.stateMu.Lock()
	m.proc = proc
	m.stopRequested = false
	m.fingerprint = agent.Fingerprint()
	m.publishStatusLocked()
	m.stateMu.Unlock()

	m.watchers.Add(1)
	go m.watch(proc, runID)

	gate, err := m.gates(cfg.Readiness)
	if err == nil {
		readyCtx, readySpan := tracing.TraceReadiness(ctx, gate.Mode(), target.Addr())
		err = gate.Await(readyCtx, proc, target)
		tracing.End(readySpan, err)
	}
	if err != nil {
		m.abandon(proc, agent.StopTimeout())
		return m.failStart(runID, trigger, err)
	}

	now := time.Now().UTC()
	url := target.SSEURL()

	m.stateMu.Lock()
	if m.proc != proc {
		// Exited between the readiness check and here.
		m.stateMu.Unlock()
		return m.failStart(runID, trigger, &readiness.ReadinessTimeout{Mode: gate.Mode(), Err: readiness.ErrProcessExited})
	}
	m.state = StateRunning
	m.url = url
	m.startedAt = &now
	m.publishStatusLocked()
	// Queued under stateMu so an exit seen by the watcher is always
	// delivered after it.
	m.emit(Event{Type: EventStarted, State: StateRunning, Trigger: trigger, RunID: runID, PID: proc.PID(), Port: agent.Port, URL: url})
	m.stateMu.Unlock()
	log.Info("agent running", zap.Int("pid", proc.PID()), zap.String("url", url))

	publisher := endpoint.NewPublisher(cfg.Workspace.Root)
	_, pubSpan := tracing.TracePublish(ctx, publisher.Path(), url)
	pubErr := publisher.Publish(endpoint.Endpoint{ServerID: agent.ServerID, URL: url})
	tracing.End(pubSpan, pubErr)

	if pubErr != nil {
		log.Warn("failed to publish agent endpoint", zap.Error(pubErr))
		m.emit(Event{Type: EventPublishFailed, State: StateRunning, Trigger: trigger, RunID: runID, PID: proc.PID(), URL: url, Reason: pubErr.Error(), Err: pubErr})
	}

	if agent.Notify {
		m.notifier.Notify(ctx, ReadyMessage)
	}
	return pubErr
}

// failStart moves to the failed state and reports err.
func (m *Manager) failStart(runID string, trigger Trigger, err error) error {
	m.stateMu.Lock()
	m.state = StateFailed
	m.reason = err.Error()
	m.url = ""
	m.startedAt = nil
	m.publishStatusLocked()
	m.stateMu.Unlock()

	m.logger.Error("agent failed to start",
		zap.String("run_id", runID),
		zap.String("trigger", string(trigger)),
		zap.Error(err))
	m.emit(Event{Type: EventFailed, State: StateFailed, Trigger: trigger, RunID: runID, Reason: err.Error(), Err: err})
	return err
}

// abandon terminates a process that never became ready and waits for it.
func (m *Manager) abandon(proc *supervisor.Process, grace time.Duration) {
	m.stateMu.Lock()
	if m.proc == proc {
		m.stopRequested = true
	}
	m.stateMu.Unlock()

	exit, err := m.shutdown(context.Background(), proc, grace)
	if err != nil {
		m.logger.Error("failed to terminate agent after failed start", zap.Int("pid", proc.PID()), zap.Error(err))
		return
	}

	m.stateMu.Lock()
	if m.proc == proc {
		m.proc = nil
	}
	m.lastExit = &exit
	m.stateMu.Unlock()
}

func (m *Manager) stopLocked(ctx context.Context) error {
	m.stateMu.Lock()
	proc := m.proc
	if proc == nil {
		m.stateMu.Unlock()
		return nil
	}
	runID := m.runID
	m.stopRequested = true
	m.state = StateStopping
	m.publishStatusLocked()
	m.stateMu.Unlock()

	grace := fallbackStopTTL
	if cfg, err := m.cfg.Load(); err == nil {
		grace = cfg.Agent.StopTimeout()
	}

	ctx, span := tracing.TraceStop(ctx, proc.PID())
	m.logger.Info("stopping agent", zap.String("run_id", runID), zap.Int("pid", proc.PID()))
	m.emit(Event{Type: EventStopping, State: StateStopping, RunID: runID, PID: proc.PID()})

	exit, err := m.shutdown(ctx, proc, grace)
	tracing.End(span, err)

	m.stateMu.Lock()
	if err != nil {
		m.state = StateFailed
		m.reason = err.Error()
		m.publishStatusLocked()
		m.stateMu.Unlock()
		m.emit(Event{Type: EventFailed, State: StateFailed, RunID: runID, PID: proc.PID(), Reason: err.Error(), Err: err})
		return err
	}
	if m.proc == proc {
		m.proc = nil
	}
	m.state = StateStopped
	m.reason = ""
	m.url = ""
	m.startedAt = nil
	m.lastExit = &exit
	m.publishStatusLocked()
	m.stateMu.Unlock()

	m.logger.Info("agent stopped", zap.String("run_id", runID), zap.Stringer("exit", exit))
	m.emit(Event{Type: EventStopped, State: StateStopped, RunID: runID, PID: proc.PID(), Exit: &exit})
	return nil
}

// shutdown sends a graceful terminate, escalating to a kill after grace or
// when ctx ends.
func (m *Manager) shutdown(ctx context.Context, proc *supervisor.Process, grace time.Duration) (supervisor.ExitStatus, error) {
	if err := proc.Terminate(); err != nil {
		m.logger.Warn("terminate failed, killing agent", zap.Int("pid", proc.PID()), zap.Error(err))
		_ = proc.Kill()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return proc.ExitStatus(), nil
	case <-timer.C:
		m.logger.Warn("agent did not exit in time, killing", zap.Int("pid", proc.PID()), zap.Duration("grace", grace))
	case <-ctx.Done():
		m.logger.Warn("stop cancelled, killing agent", zap.Int("pid", proc.PID()))
	}

	if err := proc.Kill(); err != nil {
		m.logger.Warn("kill failed", zap.Int("pid", proc.PID()), zap.Error(err))
	}
	select {
	case <-proc.Done():
		return proc.ExitStatus(), nil
	case <-time.After(killWait):
		return supervisor.ExitStatus{}, fmt.Errorf("agent (pid %d) did not exit after kill", proc.PID())
	}
}

// watch drains one process's events until the stream closes. The exit is
// handled as soon as Done closes; the stream may lag while output drains.
func (m *Manager) watch(proc *supervisor.Process, runID string) {
	defer m.watchers.Done()
	events, done := proc.Events(), proc.Done()
	for events != nil {
		select {
		case <-done:
			done = nil
			m.handleExit(proc, runID, proc.ExitStatus())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case supervisor.EventError:
				m.logger.Warn("agent process error", zap.String("run_id", runID), zap.Error(ev.Err))
				m.emit(Event{Type: EventAgentError, State: m.Status().State, RunID: runID, PID: proc.PID(), Reason: ev.Err.Error(), Err: ev.Err})
			case supervisor.EventExit:
				m.handleExit(proc, runID, ev.Exit)
			}
		}
	}
}

func (m *Manager) handleExit(proc *supervisor.Process, runID string, exit supervisor.ExitStatus) {
	m.stateMu.Lock()
	if m.proc != proc {
		m.stateMu.Unlock()
		return
	}
	m.proc = nil
	if m.stopRequested || m.state != StateRunning {
		m.publishStatusLocked()
		m.stateMu.Unlock()
		return
	}
	uerr := &UnexpectedExit{PID: proc.PID(), Exit: exit}
	m.state = StateStopped
	m.reason = uerr.Error()
	m.url = ""
	m.startedAt = nil
	m.lastExit = &exit
	m.publishStatusLocked()
	m.stateMu.Unlock()

	m.logger.Error("agent exited unexpectedly",
		zap.String("run_id", runID),
		zap.Int("pid", proc.PID()),
		zap.Int("exit_code", exit.Code),
		zap.String("signal", exit.Signal))
	m.emit(Event{Type: EventUnexpectedExit, State: StateStopped, RunID: runID, PID: proc.PID(), Reason: uerr.Error(), Exit: &exit, Err: uerr})
}

// publishStatusLocked swaps in a new snapshot. Callers hold stateMu, except
// NewManager before the Manager is shared.
func (m *Manager) publishStatusLocked() {
	s := &Status{
		State:     m.state,
		Reason:    m.reason,
		RunID:     m.runID,
		Port:      m.port,
		URL:       m.url,
		StartedAt: m.startedAt,
		LastExit:  m.lastExit,
	}
	if m.proc != nil {
		s.PID = m.proc.PID()
	}
	if m.state == StateStopped || m.state == StateFailed {
		s.Port = 0
	}
	m.status.Store(s)
}

func (m *Manager) emit(ev Event) {
	ev.ID = uuid.New().String()
	ev.At = time.Now().UTC()

	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if m.emitClosed {
		return
	}
	m.events <- ev
}

// dispatch delivers events to observers and the bus, one at a time.
func (m *Manager) dispatch() {
	defer close(m.dispatchDone)
	for ev := range m.events {
		m.obsMu.RLock()
		observers := make([]Observer, 0, len(m.observers))
		for _, o := range m.observers {
			observers = append(observers, o)
		}
		m.obsMu.RUnlock()

		for _, o := range observers {
			o(ev)
		}

		if m.bus != nil {
			data := map[string]any{
				"state":  string(ev.State),
				"run_id": ev.RunID,
				"pid":    ev.PID,
				"port":   ev.Port,
				"url":    ev.URL,
				"reason": ev.Reason,
			}
			if ev.Exit != nil {
				data["exit_code"] = ev.Exit.Code
				data["signal"] = ev.Exit.Signal
			}
			be := bus.NewEvent(string(ev.Type), "mcphost", data)
			be.ID = ev.ID
			be.Timestamp = ev.At
			if err := m.bus.Publish(context.Background(), events.BuildAgentLifecycleSubject(string(ev.Type)), be); err != nil {
				m.logger.Warn("failed to publish lifecycle event", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}
	}
}
