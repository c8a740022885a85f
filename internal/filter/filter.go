// Package filter decides which filesystem changes restart the child.
package filter

import (
	"strings"

	"devwatch/internal/config"
	"devwatch/internal/watcher"
)

// ShouldRestart reports whether a change qualifies for a restart: the path
// ends in one of the configured suffixes (case-insensitive), or it is one of
// the configured roots, such as a config file watched by its literal path.
// The kind of change does not affect the decision.
func ShouldRestart(path string, kind watcher.Kind, cfg config.WatchConfiguration) bool {
	lowered := strings.ToLower(path)
	for _, suffix := range cfg.MatchSuffixes() {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}
	return cfg.IsRoot(path)
}

// Accept applies ShouldRestart to an event.
func Accept(event watcher.Event, cfg config.WatchConfiguration) bool {
	return ShouldRestart(event.Path, event.Kind, cfg)
}
