package watcher

import (
	"context"
	"sync"

	"devwatch/internal/logging"
)

// Stream is a lazy, infinite, non-restartable sequence of Events. It is
// consumed by a single goroutine through Next.
type Stream struct {
	backend   string
	events    chan Event
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	mutex     sync.Mutex
	err       error
	stop      func() error
	logger    *logging.Logger
}

func newStream(backend string, logger *logging.Logger) *Stream {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Stream{
		backend: backend,
		events:  make(chan Event),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		logger: logger.With(map[string]string{
			"devwatch.category": "watcher",
			"backend":           backend,
		}),
	}
}

// Backend names the facility producing events.
func (stream *Stream) Backend() string {
	return stream.backend
}

// Next blocks until the facility reports a change, the stream ends or ctx
// is done. Once the stream has ended every call returns the same error.
func (stream *Stream) Next(ctx context.Context) (Event, error) {
	select {
	case event, ok := <-stream.events:
		if !ok {
			return Event{}, stream.failure()
		}
		return event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close stops the facility and waits for the producer to exit.
func (stream *Stream) Close() error {
	var err error
	stream.closeOnce.Do(func() {
		close(stream.done)
		if stream.stop != nil {
			err = stream.stop()
		}
		<-stream.exited
	})
	return err
}

func (stream *Stream) emit(event Event) bool {
	select {
	case stream.events <- event:
		return true
	case <-stream.done:
		return false
	}
}

func (stream *Stream) closing() bool {
	select {
	case <-stream.done:
		return true
	default:
		return false
	}
}

// finish must be called exactly once by the producer goroutine.
func (stream *Stream) finish(err error) {
	if stream.closing() || err == nil {
		err = ErrStreamClosed
	}
	stream.mutex.Lock()
	stream.err = err
	stream.mutex.Unlock()
	if err != ErrStreamClosed {
		stream.logger.Error("watcher stopped unexpectedly", map[string]string{
			"error": err.Error(),
		})
	}
	close(stream.events)
	close(stream.exited)
}

func (stream *Stream) failure() error {
	stream.mutex.Lock()
	defer stream.mutex.Unlock()
	if stream.err == nil {
		return ErrStreamClosed
	}
	return stream.err
}
