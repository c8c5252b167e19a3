// Package supervisor launches the agent executable and reports what happens
// to it.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/mcphost/internal/common/logger"
)

const (
	eventBuffer    = 256
	maxLineLength  = 1024 * 1024
	defaultBufSize = 500

	// outputDrainTimeout bounds how long output is read after the agent has
	// exited. Tools the agent started can keep its pipes open far longer.
	outputDrainTimeout = 2 * time.Second
)

// Supervisor spawns agent processes and tracks the live one.
type Supervisor struct {
	logger  *logger.Logger
	output  *OutputBuffer
	current atomic.Pointer[Process]
}

// New creates a Supervisor. A nil output gets a default-sized buffer.
func New(log *logger.Logger, output *OutputBuffer) *Supervisor {
	if output == nil {
		output = NewOutputBuffer(defaultBufSize)
	}
	return &Supervisor{
		logger: log.WithComponent("supervisor"),
		output: output,
	}
}

// Output returns the buffer that collects agent output across runs.
func (s *Supervisor) Output() *OutputBuffer {
	return s.output
}

// Current returns the live process, or nil.
func (s *Supervisor) Current() *Process {
	return s.current.Load()
}

// IsRunning reports whether a spawned process has not yet exited.
func (s *Supervisor) IsRunning() bool {
	p := s.current.Load()
	return p != nil && !p.Exited()
}

// Spawn starts path with args. Failures to start are returned as *SpawnError;
// everything after that is reported on the process's event channel.
func (s *Supervisor) Spawn(path string, args []string) (*Process, error) {
	// exec.Command rather than CommandContext: the process must outlive the
	// request that started it and is stopped through Terminate.
	cmd := exec.Command(path, args...)
	cmd.Env = os.Environ()
	setProcGroup(cmd)

	// Plain os pipes so Wait returns as soon as the agent exits, even when a
	// child it started still holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return nil, &SpawnError{Path: path, Err: err}
	}

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	p.logger = s.logger.WithFields(zap.Int("pid", p.pid))
	s.current.Store(p)

	p.logger.Info("agent process started", zap.String("path", path), zap.Strings("args", args))

	var pipes sync.WaitGroup
	pipes.Add(2)
	go s.pipeOutput(p, "stdout", stdoutR, &pipes)
	go s.pipeOutput(p, "stderr", stderrR, &pipes)
	go s.monitorExit(p, &pipes, stdoutR, stderrR)

	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// pipeOutput forwards each line to the logger, the output buffer and the
// event channel. Lines are dropped from the channel when its reader lags.
func (s *Supervisor) pipeOutput(p *Process, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := OutputLine{Timestamp: time.Now().UTC(), PID: p.pid, Stream: stream, Content: scanner.Text()}
		s.output.Add(line)
		p.logger.Debug(line.Content, zap.String("stream", stream))

		select {
		case p.events <- Event{Kind: EventOutput, Output: line}:
		default:
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("failed reading agent output", zap.String("stream", stream), zap.Error(err))
		p.events <- Event{Kind: EventError, Err: fmt.Errorf("read %s: %w", stream, err)}
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// monitorExit waits for the process, marks it exited and clears the
// supervisor's current pointer. It then gives the output readers a bounded
// time to finish before delivering exactly one exit event and closing the
// channel.
func (s *Supervisor) monitorExit(p *Process, pipes *sync.WaitGroup, readers ...*os.File) {
	waitErr := p.cmd.Wait()

	status := exitStatusFrom(p.cmd.ProcessState)
	p.exit = status
	s.current.CompareAndSwap(p, nil)
	close(p.done)

	p.logger.Info("agent process exited", zap.Int("exit_code", status.Code), zap.String("signal", status.Signal))

	drained := make(chan struct{})
	go func() {
		pipes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(outputDrainTimeout):
		p.logger.Debug("agent output still open after exit, closing")
		closeAll(readers...)
		<-drained
	}
	closeAll(readers...)

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.events <- Event{Kind: EventError, Err: fmt.Errorf("wait: %w", waitErr)}
	}
	p.events <- Event{Kind: EventExit, Exit: status}
	close(p.events)
}

// Process is a spawned agent. Its event channel must be drained until closed.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	logger *logger.Logger
	events chan Event
	done   chan struct{}
	exit   ExitStatus
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.pid
}

// Events returns the process's event stream. It ends with one EventExit.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitStatus returns how the process ended. Only meaningful after Done.
func (p *Process) ExitStatus() ExitStatus {
	<-p.done
	return p.exit
}

// Terminate asks the process group to shut down and returns without waiting.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	p.logger.Info("terminating agent process")
	if err := terminateProcessGroup(p.pid); err != nil && !p.Exited() {
		return fmt.Errorf("terminate pid %d: %w", p.pid, err)
	}
	return nil
}

// Kill force-kills the process group.
func (p *Process) Kill() error {
	if p.Exited() {
		return nil
	}
	p.logger.Warn("killing agent process")
	if err := killProcessGroup(p.pid); err != nil && !p.Exited() {
		return fmt.Errorf("kill pid %d: %w", p.pid, err)
	}
	return nil
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		return p.exit, nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}
