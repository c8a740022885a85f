// Package config builds the immutable WatchConfiguration that drives one
// watch session from layered settings: defaults, an optional YAML file,
// DEVWATCH_* environment variables and command-line flags.
package config

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrNoPaths   = errors.New("no watch paths exist")
	ErrNoCommand = errors.New("command is required")
)

// DefaultSuffix is the source-file suffix of the host test framework.
const DefaultSuffix = ".php"

// WatchConfiguration is fixed for the lifetime of one watch loop run.
// Accessors return copies so callers cannot mutate it.
type WatchConfiguration struct {
	paths          []string
	absPaths       []string
	command        []string
	matchSuffixes  []string
	extraWatchArgs []string
}

// New validates and normalises a configuration without touching the
// filesystem. Use Resolve to drop roots that do not exist.
func New(paths, command, matchSuffixes, extraWatchArgs []string) (WatchConfiguration, error) {
	cleaned := dedupe(cleanPaths(paths))
	if len(cleaned) == 0 {
		return WatchConfiguration{}, ErrNoPaths
	}
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return WatchConfiguration{}, ErrNoCommand
	}

	suffixes := NormalizeSuffixes(matchSuffixes)
	if len(suffixes) == 0 {
		suffixes = []string{DefaultSuffix}
	}

	absPaths := make([]string, len(cleaned))
	for i, path := range cleaned {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		absPaths[i] = abs
	}

	return WatchConfiguration{
		paths:          cleaned,
		absPaths:       absPaths,
		command:        append([]string(nil), command...),
		matchSuffixes:  suffixes,
		extraWatchArgs: append([]string(nil), extraWatchArgs...),
	}, nil
}

func (cfg WatchConfiguration) Paths() []string {
	return append([]string(nil), cfg.paths...)
}

func (cfg WatchConfiguration) Command() []string {
	return append([]string(nil), cfg.command...)
}

func (cfg WatchConfiguration) MatchSuffixes() []string {
	return append([]string(nil), cfg.matchSuffixes...)
}

func (cfg WatchConfiguration) ExtraWatchArgs() []string {
	return append([]string(nil), cfg.extraWatchArgs...)
}

// IsRoot reports whether path names one of the configured roots, in either
// the form it was configured or its absolute form.
func (cfg WatchConfiguration) IsRoot(path string) bool {
	if path == "" {
		return false
	}
	cleaned := filepath.Clean(path)
	for i := range cfg.paths {
		if cleaned == cfg.paths[i] || cleaned == cfg.absPaths[i] {
			return true
		}
	}
	return false
}

// NormalizeSuffixes lower-cases suffixes, adds a leading dot and drops
// blanks and duplicates.
func NormalizeSuffixes(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		suffix := strings.ToLower(strings.TrimSpace(value))
		if suffix == "" || suffix == "." {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		if _, ok := seen[suffix]; ok {
			continue
		}
		seen[suffix] = struct{}{}
		out = append(out, suffix)
	}
	return out
}

func cleanPaths(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out = append(out, filepath.Clean(value))
	}
	return out
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
