package supervisor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrStopTimeout means the child survived SIGKILL past the bounded wait.
	ErrStopTimeout = errors.New("child did not exit after kill")

	errExitedEarly = errors.New("exited during start grace period")
)

// SpawnError reports a child that could not be started or died within the
// start grace period. ExitCode is -1 when the process never ran.
type SpawnError struct {
	Command  Command
	ExitCode int
	Output   []string
	Err      error
}

func (e *SpawnError) Error() string {
	message := fmt.Sprintf("start %q", e.Command.String())
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	if e.ExitCode >= 0 {
		message += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	return message
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawnFailed
}

// Tail joins the last captured output lines.
func (e *SpawnError) Tail() string {
	return strings.Join(e.Output, "\n")
}
