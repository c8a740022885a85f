package watcher

import (
	"errors"
	"fmt"
)

var (
	ErrWatcherUnavailable = errors.New("watch facility unavailable")
	ErrWatcherCrashed     = errors.New("watch facility crashed")
	ErrStreamClosed       = errors.New("watch stream closed")
)

// UnavailableError reports that the watch facility cannot be used. Hint
// tells the user how to fix it.
type UnavailableError struct {
	Backend string
	Hint    string
	Err     error
}

func (e *UnavailableError) Error() string {
	message := fmt.Sprintf("%s watcher unavailable", e.Backend)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		message += " (" + e.Hint + ")"
	}
	return message
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrWatcherUnavailable
}

// CrashedError reports that the facility died while the stream was open.
type CrashedError struct {
	Backend string
	Err     error
}

func (e *CrashedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s watcher crashed", e.Backend)
	}
	return fmt.Sprintf("%s watcher crashed: %v", e.Backend, e.Err)
}

func (e *CrashedError) Unwrap() error {
	return e.Err
}

func (e *CrashedError) Is(target error) bool {
	return target == ErrWatcherCrashed
}
