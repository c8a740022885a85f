package watcher

import (
	"errors"
	"os"
	"strconv"
	"time"

	"devwatch/internal/config"
	"github.com/fsnotify/fsnotify"
)

const notifyHint = "raise fs.inotify.max_user_watches / max_user_instances, or run with --backend=fswatch"

type notifyBackend struct {
	watcher *fsnotify.Watcher
	stream  *Stream
	watched map[string]struct{}
}

func startNotify(cfg config.WatchConfiguration, options Options) (*Stream, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &UnavailableError{Backend: BackendFsnotify, Hint: notifyHint, Err: err}
	}

	stream := newStream(BackendFsnotify, options.Logger)
	backend := &notifyBackend{
		watcher: source,
		stream:  stream,
		watched: make(map[string]struct{}),
	}
	for _, root := range cfg.Paths() {
		if err := backend.addRoot(root); err != nil {
			_ = source.Close()
			return nil, &UnavailableError{Backend: BackendFsnotify, Hint: notifyHint, Err: err}
		}
	}
	stream.stop = source.Close
	stream.logger.Info("watching", map[string]string{
		"roots":          strconv.Itoa(len(cfg.Paths())),
		"active_watches": strconv.Itoa(len(backend.watched)),
	})

	go backend.run()
	return stream, nil
}

// addRoot watches a file root directly and a directory root recursively.
func (backend *notifyBackend) addRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return backend.add(root)
	}
	for _, dir := range collectRecursiveDirs(root) {
		if err := backend.add(dir); err != nil {
			return err
		}
	}
	return nil
}

func (backend *notifyBackend) add(path string) error {
	if _, ok := backend.watched[path]; ok {
		return nil
	}
	if err := backend.watcher.Add(path); err != nil {
		backend.stream.logger.Warn("watch add failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	backend.watched[path] = struct{}{}
	backend.stream.logger.Debug("watch added", map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(len(backend.watched)),
	})
	return nil
}

func (backend *notifyBackend) run() {
	stream := backend.stream
	for {
		select {
		case <-stream.done:
			stream.finish(nil)
			return
		case event, ok := <-backend.watcher.Events:
			if !ok {
				stream.finish(&CrashedError{Backend: BackendFsnotify, Err: errors.New("event channel closed")})
				return
			}
			backend.track(event)
			change, ok := translateOp(event)
			if !ok {
				continue
			}
			if !stream.emit(change) {
				stream.finish(nil)
				return
			}
		case err, ok := <-backend.watcher.Errors:
			if !ok {
				stream.finish(&CrashedError{Backend: BackendFsnotify, Err: errors.New("error channel closed")})
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				stream.logger.Warn("watcher queue overflow; some changes were not reported", nil)
				continue
			}
			stream.finish(&CrashedError{Backend: BackendFsnotify, Err: err})
			return
		}
	}
}

// track keeps the watch set in step with directories created or removed
// after the watch began.
func (backend *notifyBackend) track(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			for _, dir := range collectRecursiveDirs(event.Name) {
				_ = backend.add(dir)
			}
		}
		return
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// inotify drops the kernel watch by itself.
		delete(backend.watched, event.Name)
	}
}

func translateOp(event fsnotify.Event) (Event, bool) {
	change := Event{Path: event.Name, Timestamp: time.Now().UTC()}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change.Kind = KindRemoved
	case event.Has(fsnotify.Create):
		change.Kind = KindCreated
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		change.Kind = KindUpdated
	default:
		return Event{}, false
	}
	return change, true
}
