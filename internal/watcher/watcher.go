package watcher

import (
	"context"
	"fmt"

	"devwatch/internal/config"
)

// Start probes the configured facility and begins watching every root in
// cfg. Probe failures are returned as *UnavailableError before any event is
// produced.
func Start(ctx context.Context, cfg config.WatchConfiguration, options Options) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch options.Backend {
	case "", BackendFsnotify:
		return startNotify(cfg, options)
	case BackendFswatch:
		return startFswatch(cfg, options)
	default:
		return nil, &UnavailableError{
			Backend: options.Backend,
			Err:     fmt.Errorf("unknown backend %q", options.Backend),
			Hint:    "use " + BackendFsnotify + " or " + BackendFswatch,
		}
	}
}
