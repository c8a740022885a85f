//go:build !windows

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
)

type syncBuffer struct {
	mutex  sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buffer.String()
}

type transitionLog struct {
	mutex       sync.Mutex
	transitions []Transition
}

func (l *transitionLog) record(transition Transition) {
	l.mutex.Lock()
	l.transitions = append(l.transitions, transition)
	l.mutex.Unlock()
}

func (l *transitionLog) list() []Transition {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]Transition(nil), l.transitions...)
}

func newTestSupervisor(t *testing.T, sink *syncBuffer, log *transitionLog) *Supervisor {
	t.Helper()
	options := Options{
		Sink:        sink,
		NoPty:       true,
		NoColor:     true,
		StartGrace:  100 * time.Millisecond,
		StopTimeout: 500 * time.Millisecond,
		TerminalSize: func() (*pty.Winsize, error) {
			return nil, errors.New("no terminal")
		},
	}
	if log != nil {
		options.OnTransition = log.record
	}
	supervisor := New(options)
	t.Cleanup(func() {
		_ = supervisor.Stop(context.Background())
	})
	return supervisor
}

func shell(script string) Command {
	return Command{Argv: []string{"sh", "-c", script}}
}

func waitForOutput(t *testing.T, sink *syncBuffer, text string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(sink.String(), text) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %q", text, sink.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForState(t *testing.T, supervisor *Supervisor, state State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snapshot := supervisor.Snapshot()
		if snapshot.State == state {
			return snapshot
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last state %s", state, snapshot.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRunsCommandAndForwardsOutput(t *testing.T) {
	sink := &syncBuffer{}
	supervisor := newTestSupervisor(t, sink, nil)

	if err := supervisor.Start(context.Background(), shell("echo hello from child; exec sleep 30")); err != nil {
		t.Fatalf("start: %v", err)
	}
	snapshot := supervisor.Snapshot()
	if snapshot.State != StateRunning {
		t.Fatalf("expected running, got %s", snapshot.State)
	}
	if snapshot.PID <= 0 {
		t.Fatalf("expected pid, got %d", snapshot.PID)
	}
	if snapshot.RunID == "" {
		t.Fatal("expected run id")
	}
	waitForOutput(t, sink, "hello from child")
}

func TestStartReportsImmediateExit(t *testing.T) {
	sink := &syncBuffer{}
	supervisor := newTestSupervisor(t, sink, nil)

	err := supervisor.Start(context.Background(), shell("echo broken config; exit 1"))
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %T", err)
	}
	if spawnErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", spawnErr.ExitCode)
	}
	if !strings.Contains(spawnErr.Tail(), "broken config") {
		t.Fatalf("expected output tail, got %q", spawnErr.Tail())
	}
	snapshot := supervisor.Snapshot()
	if snapshot.State != StateTerminated {
		t.Fatalf("expected terminated, got %s", snapshot.State)
	}
	if snapshot.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", snapshot.ExitCode)
	}
}

func TestStartReportsMissingExecutable(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)

	err := supervisor.Start(context.Background(), Command{Argv: []string{"devwatch-no-such-binary"}})
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) && spawnErr.ExitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", spawnErr.ExitCode)
	}
	if state := supervisor.Snapshot().State; state != StateTerminated {
		t.Fatalf("expected terminated, got %s", state)
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)
	if err := supervisor.Start(context.Background(), Command{}); !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)
	if err := supervisor.Start(context.Background(), shell("exec sleep 30")); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := supervisor.Start(context.Background(), shell("exec sleep 30"))
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.From != StateRunning {
		t.Fatalf("expected from running, got %s", transitionErr.From)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)

	if err := supervisor.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := supervisor.Start(context.Background(), shell("exec sleep 30")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := supervisor.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	snapshot := supervisor.Snapshot()
	if snapshot.State != StateTerminated {
		t.Fatalf("expected terminated, got %s", snapshot.State)
	}
	if snapshot.PID != 0 {
		t.Fatalf("expected pid to be hidden once terminated, got %d", snapshot.PID)
	}
	if err := supervisor.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	sink := &syncBuffer{}
	supervisor := newTestSupervisor(t, sink, nil)

	script := `trap "" TERM; echo ready; while true; do sleep 0.1; done`
	if err := supervisor.Start(context.Background(), shell(script)); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForOutput(t, sink, "ready")

	started := time.Now()
	if err := supervisor.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("expected bounded stop, took %s", elapsed)
	}
	snapshot := supervisor.Snapshot()
	if snapshot.State != StateTerminated {
		t.Fatalf("expected terminated, got %s", snapshot.State)
	}
	if snapshot.ExitCode != 128+9 {
		t.Fatalf("expected SIGKILL exit code, got %d", snapshot.ExitCode)
	}
}

func TestRestartStopsBeforeStarting(t *testing.T) {
	sink := &syncBuffer{}
	log := &transitionLog{}
	supervisor := newTestSupervisor(t, sink, log)

	if err := supervisor.Start(context.Background(), shell(`x=first; echo "$x-run"; exec sleep 30`)); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := supervisor.Snapshot()
	waitForOutput(t, sink, "first-run")
	if err := supervisor.Restart(context.Background(), shell(`x=second; echo "$x-run"; exec sleep 30`), "tests/Foo.php changed"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	second := supervisor.Snapshot()
	if first.RunID == second.RunID {
		t.Fatal("expected a new run id after restart")
	}
	waitForOutput(t, sink, "second-run")

	expected := []struct{ from, to State }{
		{StateIdle, StateStarting},
		{StateStarting, StateRunning},
		{StateRunning, StateStopping},
		{StateStopping, StateTerminated},
		{StateTerminated, StateStarting},
		{StateStarting, StateRunning},
	}
	transitions := log.list()
	if len(transitions) != len(expected) {
		t.Fatalf("expected %d transitions, got %+v", len(expected), transitions)
	}
	for i, want := range expected {
		if transitions[i].From != want.from || transitions[i].To != want.to {
			t.Fatalf("transition %d: expected %s -> %s, got %s -> %s", i, want.from, want.to, transitions[i].From, transitions[i].To)
		}
	}
	if transitions[3].RunID != first.RunID || transitions[4].RunID != second.RunID {
		t.Fatal("expected old handle to terminate before the new handle starts")
	}

	output := sink.String()
	notice := strings.Index(output, "tests/Foo.php changed, restarting")
	if notice < 0 || notice < strings.Index(output, "first-run") || notice > strings.Index(output, "second-run") {
		t.Fatalf("expected restart notice between runs, got %q", output)
	}
}

func TestChildExitingOnItsOwnBecomesTerminated(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)

	if err := supervisor.Start(context.Background(), shell("sleep 0.4; exit 3")); err != nil {
		t.Fatalf("start: %v", err)
	}
	snapshot := waitForState(t, supervisor, StateTerminated)
	if snapshot.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", snapshot.ExitCode)
	}

	if err := supervisor.Start(context.Background(), shell("exec sleep 30")); err != nil {
		t.Fatalf("start after natural exit: %v", err)
	}
}

func TestStartCancelledDuringGraceStopsChild(t *testing.T) {
	supervisor := newTestSupervisor(t, &syncBuffer{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	err := supervisor.Start(ctx, shell("exec sleep 30"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if state := supervisor.Snapshot().State; state != StateTerminated {
		t.Fatalf("expected terminated, got %s", state)
	}
}

func TestStartWithCancelledContextSpawnsNothing(t *testing.T) {
	sink := &syncBuffer{}
	log := &transitionLog{}
	supervisor := newTestSupervisor(t, sink, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := supervisor.Start(ctx, shell("echo spawned; exec sleep 30"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if transitions := log.list(); len(transitions) != 0 {
		t.Fatalf("expected no transitions, got %+v", transitions)
	}
	time.Sleep(50 * time.Millisecond)
	if strings.Contains(sink.String(), "spawned") {
		t.Fatalf("expected no child output, got %q", sink.String())
	}
}

func TestStartReportsExitWhileBackgroundHoldsOutput(t *testing.T) {
	sink := &syncBuffer{}
	supervisor := newTestSupervisor(t, sink, nil)

	started := time.Now()
	err := supervisor.Start(context.Background(), shell("sleep 2 & exit 1"))
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v (state %s)", err, supervisor.Snapshot().State)
	}
	if elapsed := time.Since(started); elapsed > 1500*time.Millisecond {
		t.Fatalf("expected failure before the background process ends, took %s", elapsed)
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	if state := supervisor.Snapshot().State; state != StateTerminated {
		t.Fatalf("expected terminated, got %s", state)
	}
}

func TestRestartWithCancelledContextDoesNotSpawn(t *testing.T) {
	sink := &syncBuffer{}
	log := &transitionLog{}
	supervisor := newTestSupervisor(t, sink, log)

	if err := supervisor.Start(context.Background(), shell(`x=first; echo "$x-run"; exec sleep 30`)); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForOutput(t, sink, "first-run")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := supervisor.Restart(ctx, shell(`x=second; echo "$x-run"; exec sleep 30`), "tests/Foo.php changed")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	starts := 0
	for _, transition := range log.list() {
		if transition.To == StateStarting {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("expected only the first child to start, got %d", starts)
	}
	if state := supervisor.Snapshot().State; state != StateTerminated {
		t.Fatalf("expected terminated, got %s", state)
	}
	time.Sleep(50 * time.Millisecond)
	output := sink.String()
	if strings.Contains(output, "restarting") || strings.Contains(output, "second-run") {
		t.Fatalf("expected no notice or second child, got %q", output)
	}
}

func TestStopWithCancelledContextWaitsForGracefulExit(t *testing.T) {
	sink := &syncBuffer{}
	supervisor := newTestSupervisor(t, sink, nil)

	script := `trap 'sleep 0.2; exit 0' TERM; echo ready; while true; do sleep 0.05; done`
	if err := supervisor.Start(context.Background(), shell(script)); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForOutput(t, sink, "ready")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := supervisor.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if code := supervisor.Snapshot().ExitCode; code != 0 {
		t.Fatalf("expected graceful exit code 0, got %d", code)
	}
}

func TestStartOnTerminal(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	_ = ptmx.Close()
	_ = tty.Close()

	sink := &syncBuffer{}
	supervisor := New(Options{
		Sink:       sink,
		NoColor:    true,
		StartGrace: 100 * time.Millisecond,
		Env:        []string{"PATH=/usr/bin:/bin", "COLUMNS=1"},
		TerminalSize: func() (*pty.Winsize, error) {
			return &pty.Winsize{Cols: 132, Rows: 43}, nil
		},
	})
	t.Cleanup(func() {
		_ = supervisor.Stop(context.Background())
	})

	script := `if [ -t 1 ]; then echo interactive; fi; echo "size=$COLUMNS:$LINES"; exec sleep 30`
	if err := supervisor.Start(context.Background(), shell(script)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !supervisor.Snapshot().PTY {
		t.Fatal("expected child on a pty")
	}
	waitForOutput(t, sink, "interactive")
	waitForOutput(t, sink, "size=132:43")
}

func TestChildEnv(t *testing.T) {
	base := []string{"HOME=/home/dev", "COLUMNS=10", "LINES=5"}

	env := childEnv(base, &pty.Winsize{Cols: 100, Rows: 30})
	if hasEntry(env, "COLUMNS=10") || hasEntry(env, "LINES=5") {
		t.Fatalf("expected inherited size dropped, got %v", env)
	}
	if !hasEntry(env, "COLUMNS=100") || !hasEntry(env, "LINES=30") || !hasEntry(env, "HOME=/home/dev") {
		t.Fatalf("expected terminal size to replace inherited values, got %v", env)
	}

	env = childEnv(base, nil)
	if len(env) != len(base) {
		t.Fatalf("expected environment unchanged without a terminal, got %v", env)
	}
}

func hasEntry(env []string, entry string) bool {
	for _, value := range env {
		if value == entry {
			return true
		}
	}
	return false
}

func TestLineTail(t *testing.T) {
	tail := newLineTail(2)
	tail.Write([]byte("one\r\ntwo\nthr"))
	tail.Write([]byte("ee\nfour"))

	lines := tail.Lines()
	expected := []string{"two", "three", "four"}
	if len(lines) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, lines)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, lines)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[State][]State{
		StateIdle:       {StateStarting},
		StateStarting:   {StateRunning, StateTerminated},
		StateRunning:    {StateStopping, StateTerminated},
		StateStopping:   {StateTerminated},
		StateTerminated: {StateStarting},
	}
	states := []State{StateIdle, StateStarting, StateRunning, StateStopping, StateTerminated}
	for _, from := range states {
		for _, to := range states {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := isAllowedTransition(from, to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
	}
}
