// Package loop drives the watch session: it opens the watch stream, runs
// the command once, and restarts it for every qualifying change until the
// context is cancelled.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"devwatch/internal/config"
	"devwatch/internal/filter"
	"devwatch/internal/logging"
	"devwatch/internal/supervisor"
	"devwatch/internal/watcher"
	"github.com/fatih/color"
)

// Events is the pull side of a watch stream.
type Events interface {
	Next(ctx context.Context) (watcher.Event, error)
	Close() error
}

// Runner owns the supervised child.
type Runner interface {
	Start(ctx context.Context, command supervisor.Command) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context, command supervisor.Command, reason string) error
}

// OpenFunc starts watching the roots of cfg.
type OpenFunc func(ctx context.Context, cfg config.WatchConfiguration) (Events, error)

// OpenWatcher returns an OpenFunc backed by watcher.Start.
func OpenWatcher(options watcher.Options) OpenFunc {
	return func(ctx context.Context, cfg config.WatchConfiguration) (Events, error) {
		stream, err := watcher.Start(ctx, cfg, options)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

type Options struct {
	Config config.WatchConfiguration
	Runner Runner
	Open   OpenFunc
	// Dir is the working directory of the child.
	Dir    string
	Sink   io.Writer
	Logger *logging.Logger
	// Debounce coalesces qualifying changes that arrive within the window
	// into one restart. Zero restarts once per change.
	Debounce time.Duration
	NoColor  bool
}

type Loop struct {
	config   config.WatchConfiguration
	runner   Runner
	open     OpenFunc
	command  supervisor.Command
	sink     io.Writer
	logger   *logging.Logger
	debounce time.Duration
	info     *color.Color
	failure  *color.Color
}

func New(options Options) *Loop {
	sink := options.Sink
	if sink == nil {
		sink = os.Stdout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	open := options.Open
	if open == nil {
		open = OpenWatcher(watcher.Options{Logger: logger})
	}
	info := color.New(color.FgCyan)
	failure := color.New(color.FgRed, color.Bold)
	if options.NoColor {
		info.DisableColor()
		failure.DisableColor()
	}
	return &Loop{
		config:   options.Config,
		runner:   options.Runner,
		open:     open,
		command:  supervisor.Command{Argv: options.Config.Command(), Dir: options.Dir},
		sink:     sink,
		logger:   logger.With(map[string]string{"devwatch.category": "loop"}),
		debounce: options.Debounce,
		info:     info,
		failure:  failure,
	}
}

// Run blocks until ctx is cancelled, returning nil, or until the watch
// facility is unavailable or crashes, returning that error. The child is
// always stopped before the watcher is closed.
func (loop *Loop) Run(ctx context.Context) error {
	if loop.runner == nil {
		return errors.New("loop has no runner")
	}
	events, err := loop.open(ctx, loop.config)
	if err != nil {
		loop.logger.Error("watcher unavailable", map[string]string{
			"error": err.Error(),
		})
		return err
	}

	_, _ = loop.info.Fprintf(loop.sink, "[devwatch] watching %s for %s changes\n",
		strings.Join(loop.config.Paths(), ", "), strings.Join(loop.config.MatchSuffixes(), ", "))
	loop.report(loop.runner.Start(ctx, loop.command))

	restarts := 0
	for {
		event, err := events.Next(ctx)
		if err != nil {
			return loop.finish(ctx, events, err, restarts)
		}
		if !filter.Accept(event, loop.config) {
			loop.logger.Debug("change ignored", map[string]string{
				"path": event.Path,
				"kind": event.Kind.String(),
			})
			continue
		}

		reason, err := loop.coalesce(ctx, events, event)
		if err != nil {
			return loop.finish(ctx, events, err, restarts)
		}
		restarts++
		loop.logger.Info("restarting", map[string]string{
			"reason":  reason,
			"restart": strconv.Itoa(restarts),
		})
		loop.report(loop.runner.Restart(ctx, loop.command, reason))
	}
}

// coalesce gathers further qualifying changes while they keep arriving
// within the debounce window and describes the batch.
func (loop *Loop) coalesce(ctx context.Context, events Events, first watcher.Event) (string, error) {
	if loop.debounce <= 0 {
		return describe(first, 1), nil
	}
	last := first
	count := 1
	for {
		windowCtx, cancel := context.WithTimeout(ctx, loop.debounce)
		next, err := events.Next(windowCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return describe(last, count), nil
			}
			return "", err
		}
		if filter.Accept(next, loop.config) {
			last = next
			count++
		}
	}
}

func describe(event watcher.Event, count int) string {
	if count <= 1 {
		return fmt.Sprintf("%s %s", event.Path, event.Kind)
	}
	return fmt.Sprintf("%d changes, last %s %s", count, event.Path, event.Kind)
}

// report writes child start failures to the sink. It is only called while
// no child is forwarding output.
func (loop *Loop) report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, supervisor.ErrSpawnFailed) {
		_, _ = loop.failure.Fprintf(loop.sink, "[devwatch] %v; waiting for changes\n", err)
		return
	}
	loop.logger.Error("child restart failed", map[string]string{
		"error": err.Error(),
	})
	_, _ = loop.failure.Fprintf(loop.sink, "[devwatch] %v\n", err)
}

// finish stops the child, then the watcher. A cancelled context is a clean
// shutdown; any other stream error is returned.
func (loop *Loop) finish(ctx context.Context, events Events, cause error, restarts int) error {
	var errs []error
	if err := loop.runner.Stop(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("stop child: %w", err))
	}
	if err := events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close watcher: %w", err))
	}
	teardownErr := errors.Join(errs...)
	if teardownErr != nil {
		loop.logger.Warn("shutdown incomplete", map[string]string{
			"error": teardownErr.Error(),
		})
	}

	if ctx.Err() != nil {
		loop.logger.Info("watch stopped", map[string]string{
			"restarts": strconv.Itoa(restarts),
		})
		return nil
	}
	if !errors.Is(cause, watcher.ErrWatcherCrashed) {
		cause = &watcher.CrashedError{Err: cause}
	}
	loop.logger.Error("watcher failed", map[string]string{
		"error": cause.Error(),
	})
	_, _ = loop.failure.Fprintf(loop.sink, "[devwatch] %v\n", cause)
	return cause
}
