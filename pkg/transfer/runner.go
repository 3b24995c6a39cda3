package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxLineSize = 1024 * 1024
	// defaultWaitDelay bounds how long a child still holding stdout or stderr
	// may delay Run once the command exited or was killed
	defaultWaitDelay = 5 * time.Second
)

// LineHandler receives every stdout and stderr line of a running command
type LineHandler func(line string)

// CommandResult is the outcome of a finished command
type CommandResult struct {
	ExitCode int
}

// IsSuccessful reports a zero exit code
func (r CommandResult) IsSuccessful() bool {
	return r.ExitCode == 0
}

// CommandRunner runs one subprocess at a time and streams its output lines
type CommandRunner struct {
	handler   LineHandler
	logger    *logrus.Entry
	waitDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewCommandRunner creates a runner forwarding output to handler
func NewCommandRunner(handler LineHandler, logger *logrus.Entry) *CommandRunner {
	if handler == nil {
		handler = func(string) {}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &CommandRunner{handler: handler, logger: logger, waitDelay: defaultWaitDelay}
}

// Run starts the command and blocks until it exits. A non-zero exit is
// reported in the result, not as an error; err is set when the process
// could not be started or waited for.
func (r *CommandRunner) Run(ctx context.Context, command Command) (CommandResult, error) {
	args := command.Args()
	if len(args) == 0 {
		return CommandResult{ExitCode: -1}, fmt.Errorf("%s command has no executable", command.Name())
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return CommandResult{ExitCode: -1}, fmt.Errorf("%s command runner is stopped", command.Name())
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.WaitDelay = r.waitDelay

	// exec copies the output into the pipes, so Wait returns at most
	// WaitDelay after exit even when a grandchild keeps the descriptors open
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	var readers sync.WaitGroup
	readers.Add(2)
	go r.readLines(stdoutReader, &readers)
	go r.readLines(stderrReader, &readers)
	closeOutput := func() {
		_ = stdoutWriter.Close()
		_ = stderrWriter.Close()
		readers.Wait()
	}

	if err := cmd.Start(); err != nil {
		closeOutput()
		return CommandResult{ExitCode: -1}, fmt.Errorf("failed to start %s: %w", command.Name(), err)
	}

	err := cmd.Wait()
	closeOutput()
	if err == nil {
		return CommandResult{ExitCode: 0}, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		r.logger.WithField("command", command.Name()).
			Warn("Command exited but its output stayed open, ignoring the remaining output")
		return CommandResult{ExitCode: cmd.ProcessState.ExitCode()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return CommandResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return CommandResult{ExitCode: -1}, fmt.Errorf("%s did not finish: %w", command.Name(), err)
}

func (r *CommandRunner) readLines(reader io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		r.handler(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		r.logger.WithError(err).Debug("Stopped reading command output")
	}
}

// Stop kills the running command, if any, and rejects further runs
func (r *CommandRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}
