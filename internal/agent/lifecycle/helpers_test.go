package lifecycle

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/agent/agenttest"
	"github.com/kandev/mcphost/internal/agent/readiness"
	"github.com/kandev/mcphost/internal/agent/supervisor"
	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
	"github.com/kandev/mcphost/internal/common/portutil"
)

func TestMain(m *testing.M) {
	agenttest.MaybeRun()
	os.Exit(m.Run())
}

// countingSpawner wraps a real supervisor and remembers every process.
type countingSpawner struct {
	sup   *supervisor.Supervisor
	count atomic.Int32
	mu    sync.Mutex
	procs []*supervisor.Process
}

func (s *countingSpawner) Spawn(path string, args []string) (*supervisor.Process, error) {
	s.count.Add(1)
	p, err := s.sup.Spawn(path, args)
	if err == nil {
		s.mu.Lock()
		s.procs = append(s.procs, p)
		s.mu.Unlock()
	}
	return p, err
}

func (s *countingSpawner) last() *supervisor.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// staticProvisioner returns a fixed path without touching the network.
type staticProvisioner struct {
	path string
	err  error
}

func (p staticProvisioner) Ensure(context.Context, config.AgentConfig, config.StorageConfig) (string, error) {
	return p.path, p.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// eventLog collects lifecycle events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	n := 0
	for _, typ := range l.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(t *testing.T, typ EventType, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.count(typ) >= n }, 15*time.Second, 10*time.Millisecond,
		"waiting for %d %s event(s), saw %v", n, typ, l.types())
}

type harness struct {
	manager  *Manager
	cfg      *config.Static
	spawner  *countingSpawner
	notifier *recordingNotifier
	events   *eventLog
	argsFile string
	exe      string
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	mode        string
	provisioner Provisioner
	gates       GateFactory
	mutate      func(*config.Config)
}

func withMode(mode string) harnessOption {
	return func(s *harnessSetup) { s.mode = mode }
}

func withProvisioner(p Provisioner) harnessOption {
	return func(s *harnessSetup) { s.provisioner = p }
}

func withGates(g GateFactory) harnessOption {
	return func(s *harnessSetup) { s.gates = g }
}

func withConfig(fn func(*config.Config)) harnessOption {
	return func(s *harnessSetup) { s.mutate = fn }
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func allocatePort(t *testing.T) int {
	t.Helper()
	port, err := portutil.AllocatePort("127.0.0.1")
	require.NoError(t, err)
	return port
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Agent.Port = allocatePort(t)
	cfg.Agent.StopTimeoutSeconds = 5
	cfg.Readiness.TimeoutSeconds = 15
	cfg.Readiness.PollIntervalMs = 20
	cfg.Readiness.MaxPollIntervalMs = 200
	cfg.Storage.Root = t.TempDir()
	cfg.Workspace.Root = t.TempDir()
	cfg.History.Driver = "memory"
	cfg.Logging.Level = "error"
	return cfg
}

func setupManager(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{mode: agenttest.ModeServe}
	for _, opt := range opts {
		opt(&setup)
	}

	exe, err := agenttest.Executable()
	require.NoError(t, err)

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	t.Setenv(agenttest.EnvFakeAgent, "1")
	t.Setenv(agenttest.EnvFakeMode, setup.mode)
	t.Setenv(agenttest.EnvArgsFile, argsFile)

	cfg := testConfig(t)
	if setup.mutate != nil {
		setup.mutate(&cfg)
	}
	static := config.NewStatic(cfg)

	prov := setup.provisioner
	if prov == nil {
		prov = staticProvisioner{path: exe}
	}

	log := testLogger(t)
	sup := supervisor.New(log, nil)
	spawner := &countingSpawner{sup: sup}
	notifier := &recordingNotifier{}

	m, err := NewManager(Options{
		Config:      static,
		Provisioner: prov,
		Spawner:     spawner,
		Output:      sup.Output(),
		Gates:       setup.gates,
		Notifier:    notifier,
		Logger:      log,
	})
	require.NoError(t, err)

	events := &eventLog{}
	m.Subscribe(events.observe)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})

	return &harness{
		manager:  m,
		cfg:      static,
		spawner:  spawner,
		notifier: notifier,
		events:   events,
		argsFile: argsFile,
		exe:      exe,
	}
}

func (h *harness) currentConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := h.cfg.Load()
	require.NoError(t, err)
	return cfg
}

// serveAgentBinary serves the test executable as every release asset.
func serveAgentBinary(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	exe, err := agenttest.Executable()
	require.NoError(t, err)
	data, err := os.ReadFile(exe)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func listenOn(host string, port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

func isWindows() bool {
	return runtime.GOOS == "windows"
}

// killingGate kills the agent the moment it is asked about readiness and
// reports it ready anyway.
type killingGate struct{}

func (killingGate) Mode() string { return "kill" }

func (killingGate) Await(_ context.Context, h readiness.Handle, _ readiness.Target) error {
	if p, ok := h.(*supervisor.Process); ok {
		_ = p.Kill()
	}
	return nil
}

// splitArgs reads the argument file the fake agent writes, one per line.
func splitArgs(raw []byte) []string {
	return strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
}
