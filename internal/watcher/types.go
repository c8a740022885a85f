package watcher

import (
	"time"

	"devwatch/internal/logging"
)

// Kind classifies a filesystem change.
type Kind int

const (
	KindUpdated Kind = iota
	KindCreated
	KindRemoved
)

func (kind Kind) String() string {
	switch kind {
	case KindCreated:
		return "created"
	case KindRemoved:
		return "removed"
	default:
		return "updated"
	}
}

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Kind      Kind
	Timestamp time.Time
}

const (
	BackendFsnotify = "fsnotify"
	BackendFswatch  = "fswatch"
)

// Options controls which facility backs a Stream.
type Options struct {
	Backend string
	Logger  *logging.Logger
	// FswatchBinary overrides the fswatch executable looked up on PATH.
	FswatchBinary string
}
