// Package proc spawns build shell sessions and streams their output.
//
// One Handle is one shell session running a complete build pipeline. The
// whole pipeline runs in a single shell so environment set up by earlier
// commands is visible to later ones. Killing a handle takes down the entire
// process tree, since the wrapped compiler forks helpers of its own.
package proc

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/buildwatch/internal/events"
	ferrors "git.home.luguber.info/inful/buildwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildwatch/internal/logfields"
)

// scanBufferSize accommodates long compiler output lines.
const scanBufferSize = 1024 * 1024

// Line is one non-blank output line tagged with the stream it arrived on.
type Line struct {
	Stream events.Stream
	Text   string
}

// Handle is one live shell session.
type Handle struct {
	cmd      *exec.Cmd
	lines    chan Line
	done     chan struct{}
	killed   atomic.Bool
	exitCode int
	waitErr  error
}

// Spawn starts script as one shell session with dir as working directory.
// Output from both pipes is streamed as Lines; blank lines are discarded.
// The returned handle is already running.
func Spawn(script, dir string) (*Handle, error) {
	cmd := shellCommand(script)
	cmd.Dir = dir
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ferrors.ProcessError("cannot open stdout pipe").WithCause(err).Build()
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, ferrors.ProcessError("cannot open stderr pipe").WithCause(err).Build()
	}

	if err := cmd.Start(); err != nil {
		return nil, ferrors.ProcessError("cannot start build command").
			WithCause(err).
			WithContext("dir", dir).
			Build()
	}

	h := &Handle{
		cmd:      cmd,
		lines:    make(chan Line, 256),
		done:     make(chan struct{}),
		exitCode: -1,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go h.stream(&readers, events.StreamStdout, stdout)
	go h.stream(&readers, events.StreamStderr, stderr)

	go func() {
		readers.Wait()
		close(h.lines)

		err := cmd.Wait()
		h.waitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		close(h.done)
	}()

	return h, nil
}

func (h *Handle) stream(readers *sync.WaitGroup, stream events.Stream, r io.Reader) {
	defer readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		h.lines <- Line{Stream: stream, Text: text}
	}
	if err := scanner.Err(); err != nil && !h.killed.Load() {
		slog.Debug("Output stream closed with error", logfields.Stream(string(stream)), logfields.Error(err))
	}
}

// Lines returns the output channel. It is closed once both pipes drain.
func (h *Handle) Lines() <-chan Line {
	return h.lines
}

// Done is closed after the process exited and its exit state is recorded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// PID returns the root process id of the session.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// ExitCode is valid after Done is closed. It is -1 when the process was
// signaled or never ran.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// WaitErr is valid after Done is closed.
func (h *Handle) WaitErr() error {
	return h.waitErr
}

// Killed reports whether Kill was invoked on this handle.
func (h *Handle) Killed() bool {
	return h.killed.Load()
}

// Kill terminates the whole process tree rooted at this session. The handle
// still drains its pipes and closes Done afterwards.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	h.killed.Store(true)

	if err := killTree(h.cmd); err != nil {
		return ferrors.ProcessError("failed to kill process tree").
			WithCause(err).
			WithContext("pid", h.PID()).
			Build()
	}
	return nil
}
