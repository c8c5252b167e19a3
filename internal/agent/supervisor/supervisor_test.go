package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/mcphost/internal/agent/agenttest"
	"github.com/kandev/mcphost/internal/common/logger"
	"github.com/kandev/mcphost/internal/common/portutil"
)

func TestMain(m *testing.M) {
	agenttest.MaybeRun()
	os.Exit(m.Run())
}

func setupSupervisor(t *testing.T, mode string) (*Supervisor, string) {
	t.Helper()
	t.Setenv(agenttest.EnvFakeAgent, "1")
	t.Setenv(agenttest.EnvFakeMode, mode)

	exe, err := agenttest.Executable()
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return New(log, NewOutputBuffer(50)), exe
}

// drain collects every event until the channel closes.
func drain(t *testing.T, p *Process) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timeout draining process events")
			return nil
		}
	}
}

func waitForLine(t *testing.T, p *Process, prefix string) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-p.Events():
			require.True(t, ok, "process exited before printing %q", prefix)
			if ev.Kind == EventOutput && strings.HasPrefix(ev.Output.Content, prefix) {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %q", prefix)
		}
	}
}

func serveArgs(t *testing.T) []string {
	t.Helper()
	port, err := portutil.AllocatePort("127.0.0.1")
	require.NoError(t, err)
	return []string{"--transport", "sse", "--host", "127.0.0.1", "--port", strconv.Itoa(port),
		"--access-level", "readonly", "--additional-tools", "", "--timeout", "600"}
}

func TestSpawn_OutputThenSingleExit(t *testing.T) {
	s, exe := setupSupervisor(t, agenttest.ModeEcho)

	p, err := s.Spawn(exe, nil)
	require.NoError(t, err)
	assert.Greater(t, p.PID(), 0)

	events := drain(t, p)
	require.NotEmpty(t, events)

	var exits int
	var lines []string
	for _, ev := range events {
		switch ev.Kind {
		case EventExit:
			exits++
			assert.Equal(t, 0, ev.Exit.Code)
		case EventOutput:
			lines = append(lines, ev.Output.Stream+":"+ev.Output.Content)
		}
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, EventExit, events[len(events)-1].Kind)
	assert.Contains(t, lines, "stdout:hello from stdout")
	assert.Contains(t, lines, "stderr:hello from stderr")

	assert.True(t, p.Exited())
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.Current())
	assert.GreaterOrEqual(t, s.Output().Count(), 3)
}

func TestSpawn_CrashReportsExitCode(t *testing.T) {
	s, exe := setupSupervisor(t, agenttest.ModeCrash)

	p, err := s.Spawn(exe, nil)
	require.NoError(t, err)
	events := drain(t, p)

	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Kind)
	assert.Equal(t, 3, last.Exit.Code)
	assert.Equal(t, 3, p.ExitStatus().Code)
}

func TestSpawn_MissingExecutable(t *testing.T) {
	s, _ := setupSupervisor(t, agenttest.ModeEcho)

	path := filepath.Join(t.TempDir(), "does-not-exist")
	p, err := s.Spawn(path, nil)
	require.Error(t, err)
	assert.Nil(t, p)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, path, spawnErr.Path)
	assert.False(t, s.IsRunning())
}

func TestSpawn_NotExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	s, _ := setupSupervisor(t, agenttest.ModeEcho)

	path := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	_, err := s.Spawn(path, nil)
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
}

func TestTerminate_StopsServingProcess(t *testing.T) {
	s, exe := setupSupervisor(t, agenttest.ModeServe)

	p, err := s.Spawn(exe, serveArgs(t))
	require.NoError(t, err)
	assert.True(t, s.IsRunning())
	assert.Same(t, p, s.Current())

	require.NoError(t, p.Terminate())
	events := drain(t, p)
	require.NotEmpty(t, events)
	assert.Equal(t, EventExit, events[len(events)-1].Kind)
	assert.False(t, s.IsRunning())
	assert.NoError(t, p.Terminate(), "terminate after exit is a no-op")
}

func TestKill_AfterIgnoredTerminate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SIGTERM semantics are unix-only")
	}
	s, exe := setupSupervisor(t, agenttest.ModeIgnoreTerm)

	p, err := s.Spawn(exe, serveArgs(t))
	require.NoError(t, err)
	waitForLine(t, p, "listening on")
	go func() {
		for range p.Events() {
		}
	}()

	require.NoError(t, p.Terminate())
	select {
	case <-p.Done():
		t.Fatal("process should ignore SIGTERM")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, p.Kill())
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not die after Kill")
	}
	assert.Equal(t, "killed", p.ExitStatus().Signal)
}

func TestOutputBuffer_Ring(t *testing.T) {
	b := NewOutputBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(OutputLine{Content: strconv.Itoa(i)})
	}
	assert.Equal(t, 3, b.Count())

	var got []string
	for _, l := range b.Last(0) {
		got = append(got, l.Content)
	}
	assert.Equal(t, []string{"2", "3", "4"}, got)

	last := b.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "3", last[0].Content)

	b.Clear()
	assert.Empty(t, b.Last(10))
}

func TestSpawn_ExitSeenWhileChildHoldsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	s, _ := setupSupervisor(t, agenttest.ModeEcho)

	script := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho started\nsleep 20 &\nexit 3\n"), 0o755))

	p, err := s.Spawn(script, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = killProcessGroup(p.PID()) })

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("pid %d exited but Done was not closed; IsRunning=%v", p.PID(), s.IsRunning())
	}
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.Current())
	assert.Equal(t, 3, p.ExitStatus().Code)

	start := time.Now()
	events := drain(t, p)
	assert.Less(t, time.Since(start), outputDrainTimeout+2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Kind)
	assert.Equal(t, 3, last.Exit.Code)

	var lines []string
	for _, ev := range events {
		if ev.Kind == EventOutput {
			lines = append(lines, ev.Output.Content)
		}
	}
	assert.Contains(t, lines, "started")
}
