package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"devwatch/internal/logging"
	"github.com/creack/pty"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultStartGrace  = 250 * time.Millisecond
	DefaultStopTimeout = 3 * time.Second

	killTimeout  = 2 * time.Second
	drainTimeout = 500 * time.Millisecond
	tailLines    = 20
)

// Command is the argument vector of the supervised child.
type Command struct {
	Argv []string
	Dir  string
}

func (command Command) String() string {
	return strings.Join(command.Argv, " ")
}

// Options configures a Supervisor.
type Options struct {
	Sink   io.Writer
	Logger *logging.Logger
	// StartGrace is how long Start waits for a fast failure. Zero selects
	// DefaultStartGrace and a negative value disables the check.
	StartGrace  time.Duration
	StopTimeout time.Duration
	NoPty       bool
	NoColor     bool
	// Env replaces os.Environ() as the base child environment.
	Env []string
	// TerminalSize reports the size propagated to the child. It defaults to
	// the size of the controlling terminal.
	TerminalSize func() (*pty.Winsize, error)
	// OnTransition observes every state change in order. It runs with the
	// supervisor lock held and must not call back into the Supervisor.
	OnTransition func(Transition)
}

// Snapshot is a copy of the current child handle.
type Snapshot struct {
	RunID   string
	State   State
	PID     int
	PGID    int
	Command Command
	// ExitCode is -1 until the child is Terminated.
	ExitCode int
	PTY      bool
}

// handle is the single supervised child. Mutable fields are guarded by the
// owning Supervisor's mutex.
type handle struct {
	runID    string
	command  Command
	state    State
	pid      int
	pgid     int
	exitCode int
	usesPty  bool

	cmd      *exec.Cmd
	output   io.ReadCloser
	group    *errgroup.Group
	waitErr  error
	exited   chan struct{}
	drained  chan struct{}
	finished chan struct{}
	tail     *lineTail
}

// Supervisor owns at most one child process at a time.
type Supervisor struct {
	options Options
	sink    io.Writer
	logger  *logging.Logger
	notice  *color.Color

	mutex   sync.Mutex
	current *handle
}

func New(options Options) *Supervisor {
	sink := options.Sink
	if sink == nil {
		sink = os.Stdout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if options.StartGrace == 0 {
		options.StartGrace = DefaultStartGrace
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = DefaultStopTimeout
	}
	if options.TerminalSize == nil {
		options.TerminalSize = controllingTerminalSize
	}
	notice := color.New(color.FgYellow)
	if options.NoColor {
		notice.DisableColor()
	}
	return &Supervisor{
		options: options,
		sink:    sink,
		logger:  logger.With(map[string]string{"devwatch.category": "supervisor"}),
		notice:  notice,
	}
}

// Snapshot returns the state of the current child, or an Idle snapshot
// before the first Start.
func (supervisor *Supervisor) Snapshot() Snapshot {
	supervisor.mutex.Lock()
	defer supervisor.mutex.Unlock()

	child := supervisor.current
	if child == nil {
		return Snapshot{State: StateIdle, ExitCode: -1}
	}
	snapshot := Snapshot{
		RunID:    child.runID,
		State:    child.state,
		Command:  child.command,
		ExitCode: -1,
		PTY:      child.usesPty,
	}
	if child.state == StateRunning || child.state == StateStopping {
		snapshot.PID = child.pid
		snapshot.PGID = child.pgid
	}
	if child.state == StateTerminated {
		snapshot.ExitCode = child.exitCode
	}
	return snapshot
}

// Start spawns command. It fails with a *SpawnError when the process cannot
// be started or exits within the start grace period, leaving the handle
// Terminated. Start is only valid while no child is active.
func (supervisor *Supervisor) Start(ctx context.Context, command Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	supervisor.mutex.Lock()
	from := StateIdle
	if supervisor.current != nil {
		from = supervisor.current.state
	}
	if from != StateIdle && from != StateTerminated {
		supervisor.mutex.Unlock()
		return &TransitionError{From: from, To: StateStarting}
	}
	child := &handle{
		runID:    uuid.NewString(),
		command:  Command{Argv: append([]string(nil), command.Argv...), Dir: command.Dir},
		state:    from,
		exitCode: -1,
		exited:   make(chan struct{}),
		drained:  make(chan struct{}),
		finished: make(chan struct{}),
		tail:     newLineTail(tailLines),
	}
	supervisor.current = child
	if err := supervisor.transitionLocked(child, StateStarting); err != nil {
		supervisor.mutex.Unlock()
		return err
	}
	supervisor.mutex.Unlock()

	if len(command.Argv) == 0 || strings.TrimSpace(command.Argv[0]) == "" {
		return supervisor.failStart(child, errors.New("empty command"))
	}

	cmd, output, usesPty, err := supervisor.spawn(child.command)
	if err != nil {
		return supervisor.failStart(child, err)
	}

	supervisor.mutex.Lock()
	child.cmd = cmd
	child.output = output
	child.usesPty = usesPty
	child.pid = cmd.Process.Pid
	child.pgid = processGroupID(child.pid)
	supervisor.mutex.Unlock()

	supervisor.monitor(child)
	supervisor.logger.Info("child spawned", map[string]string{
		"run_id":  child.runID,
		"pid":     strconv.Itoa(child.pid),
		"pty":     strconv.FormatBool(usesPty),
		"command": child.command.String(),
	})

	if grace := supervisor.options.StartGrace; grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-child.exited:
			return supervisor.failExited(child)
		case <-ctx.Done():
			_, _ = supervisor.terminate(child)
			supervisor.mutex.Lock()
			_ = supervisor.transitionLocked(child, StateTerminated)
			supervisor.mutex.Unlock()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// exited is checked under the lock so the monitor either sees Running
	// or the exit is reported here.
	supervisor.mutex.Lock()
	select {
	case <-child.exited:
		supervisor.mutex.Unlock()
		return supervisor.failExited(child)
	default:
	}
	defer supervisor.mutex.Unlock()
	return supervisor.transitionLocked(child, StateRunning)
}

// Stop terminates the current child and blocks until it has exited and its
// output has been drained. It is a no-op when no child is active. A
// cancelled ctx does not shorten the SIGTERM wait, which is bounded by
// StopTimeout alone.
func (supervisor *Supervisor) Stop(ctx context.Context) error {
	supervisor.mutex.Lock()
	child := supervisor.current
	if child == nil || child.state == StateIdle || child.state == StateTerminated {
		supervisor.mutex.Unlock()
		return nil
	}
	switch child.state {
	case StateStarting:
		supervisor.mutex.Unlock()
		return &TransitionError{From: StateStarting, To: StateStopping}
	case StateRunning:
		if err := supervisor.transitionLocked(child, StateStopping); err != nil {
			supervisor.mutex.Unlock()
			return err
		}
	}
	supervisor.mutex.Unlock()

	exited, stopErr := supervisor.terminate(child)
	if !exited {
		// The handle stays Stopping so a later Stop retries the kill.
		supervisor.logger.Error("child stop failed", map[string]string{
			"run_id": child.runID,
			"pid":    strconv.Itoa(child.pid),
			"error":  stopErr.Error(),
		})
		return stopErr
	}

	supervisor.mutex.Lock()
	err := supervisor.transitionLocked(child, StateTerminated)
	code := child.exitCode
	supervisor.mutex.Unlock()
	supervisor.logger.Info("child stopped", map[string]string{
		"run_id":    child.runID,
		"exit_code": strconv.Itoa(code),
	})
	return errors.Join(stopErr, err)
}

// Restart stops the current child, writes a notice naming reason and starts
// command. The new child is never spawned while the old one is alive.
func (supervisor *Supervisor) Restart(ctx context.Context, command Command, reason string) error {
	if err := supervisor.Stop(ctx); err != nil {
		var transitionErr *TransitionError
		if errors.Is(err, ErrStopTimeout) || errors.As(err, &transitionErr) {
			return err
		}
		supervisor.logger.Warn("child stop reported errors", map[string]string{
			"error": err.Error(),
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reason != "" {
		_, _ = supervisor.notice.Fprintf(supervisor.sink, "[devwatch] %s, restarting %s\n", reason, command.String())
	}
	return supervisor.Start(ctx, command)
}

func (supervisor *Supervisor) transitionLocked(child *handle, to State) error {
	from := child.state
	if !isAllowedTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	child.state = to
	supervisor.logger.Debug("child transition", map[string]string{
		"run_id": child.runID,
		"from":   string(from),
		"to":     string(to),
	})
	if supervisor.options.OnTransition != nil {
		supervisor.options.OnTransition(Transition{
			RunID: child.runID,
			From:  from,
			To:    to,
			PID:   child.pid,
			At:    time.Now().UTC(),
		})
	}
	return nil
}

func (supervisor *Supervisor) failStart(child *handle, cause error) error {
	supervisor.mutex.Lock()
	defer supervisor.mutex.Unlock()
	return supervisor.failStartLocked(child, cause)
}

// failExited reports a child that died during start. Processes it left
// behind in its group are killed, and the sink is released by the monitor
// before the error is returned.
func (supervisor *Supervisor) failExited(child *handle) error {
	_ = signalProcessGroup(child.pid, child.pgid, signalKill)
	<-child.finished
	supervisor.mutex.Lock()
	defer supervisor.mutex.Unlock()
	child.exitCode = exitCode(child.waitErr)
	return supervisor.failStartLocked(child, errExitedEarly)
}

func (supervisor *Supervisor) failStartLocked(child *handle, cause error) error {
	if child.state == StateStarting {
		_ = supervisor.transitionLocked(child, StateTerminated)
	}
	spawnErr := &SpawnError{
		Command:  child.command,
		ExitCode: child.exitCode,
		Output:   child.tail.Lines(),
		Err:      cause,
	}
	supervisor.logger.Warn("child failed to start", map[string]string{
		"run_id": child.runID,
		"error":  spawnErr.Error(),
	})
	return spawnErr
}

// monitor waits for the child to exit, drains its output and records the
// exit code. A child that exits while Running becomes Terminated.
func (supervisor *Supervisor) monitor(child *handle) {
	child.group = &errgroup.Group{}
	child.group.Go(func() error {
		child.waitErr = child.cmd.Wait()
		close(child.exited)
		return nil
	})
	child.group.Go(func() error {
		defer close(child.drained)
		forwardOutput(child.output, supervisor.sink, child.tail)
		return nil
	})

	go func() {
		<-child.exited
		select {
		case <-child.drained:
		case <-time.After(drainTimeout):
			// A detached grandchild still holds the terminal open.
		}
		_ = child.output.Close()
		_ = child.group.Wait()
		_, _ = fmt.Fprintln(supervisor.sink)

		code := exitCode(child.waitErr)
		supervisor.mutex.Lock()
		child.exitCode = code
		natural := child.state == StateRunning
		if natural {
			_ = supervisor.transitionLocked(child, StateTerminated)
		}
		supervisor.mutex.Unlock()
		if natural {
			supervisor.logger.Info("child exited", map[string]string{
				"run_id":    child.runID,
				"exit_code": strconv.Itoa(code),
			})
		}
		close(child.finished)
	}()
}

// terminate signals the child's process group and waits for the monitor to
// finish, escalating from SIGTERM to SIGKILL after the stop timeout. It
// reports whether the child is gone.
func (supervisor *Supervisor) terminate(child *handle) (bool, error) {
	select {
	case <-child.finished:
		return true, nil
	default:
	}

	var errs []error
	if err := signalProcessGroup(child.pid, child.pgid, signalTerminate); err != nil {
		errs = append(errs, fmt.Errorf("signal group: %w", err))
	}

	timer := time.NewTimer(supervisor.options.StopTimeout)
	defer timer.Stop()
	select {
	case <-child.finished:
		return true, errors.Join(errs...)
	case <-timer.C:
	}

	supervisor.logger.Warn("child ignored termination, killing", map[string]string{
		"run_id": child.runID,
		"pid":    strconv.Itoa(child.pid),
	})
	if err := signalProcessGroup(child.pid, child.pgid, signalKill); err != nil {
		errs = append(errs, fmt.Errorf("kill group: %w", err))
	}
	select {
	case <-child.finished:
		return true, errors.Join(errs...)
	case <-time.After(killTimeout):
		return false, errors.Join(append(errs, ErrStopTimeout)...)
	}
}
