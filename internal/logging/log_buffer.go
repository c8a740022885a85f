package logging

import (
	"sync"

	"devwatch/internal/buffer"
)

// LogBuffer records recent entries at every level, including those below
// the logger's output level, so they can be replayed after a failure.
type LogBuffer struct {
	mutex   sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{entries: buffer.NewRing[LogEntry](size)}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mutex.Lock()
	b.entries.Add(entry)
	b.mutex.Unlock()
}

func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.entries.List()
}

// Recent returns up to n of the newest entries, oldest first.
func (b *LogBuffer) Recent(n int) []LogEntry {
	if b == nil {
		return nil
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.entries.Last(n)
}
