package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read when present and no --config flag is given.
const DefaultFile = ".devwatch.yml"

const (
	BackendFsnotify = "fsnotify"
	BackendFswatch  = "fswatch"
)

const (
	defaultStartGrace  = 250 * time.Millisecond
	defaultStopTimeout = 3 * time.Second
)

// DefaultPaths are the framework's conventional test directories.
var DefaultPaths = []string{"tests"}

// Settings is the mutable, layered input to Resolve.
type Settings struct {
	Paths       []string      `yaml:"paths"`
	ExtraPaths  []string      `yaml:"extra_paths"`
	Command     []string      `yaml:"command"`
	Extensions  []string      `yaml:"extensions"`
	WatchArgs   []string      `yaml:"watch_args"`
	Backend     string        `yaml:"backend"`
	Debounce    time.Duration `yaml:"debounce"`
	// StartGrace of zero disables the early-exit check.
	StartGrace  time.Duration `yaml:"start_grace"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	NoPty       bool          `yaml:"no_pty"`
	NoColor     bool          `yaml:"no_color"`
	LogLevel    string        `yaml:"log_level"`
}

func Defaults() Settings {
	return Settings{
		Paths:       append([]string(nil), DefaultPaths...),
		Extensions:  []string{DefaultSuffix},
		Backend:     BackendFsnotify,
		StartGrace:  defaultStartGrace,
		StopTimeout: defaultStopTimeout,
		LogLevel:    "warning",
	}
}

// LoadFile overlays the YAML file at path onto settings. Keys missing from
// the file keep their current values. A missing file is an error only when
// required is set.
func LoadFile(path string, required bool, settings *Settings) error {
	if settings == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(payload, settings); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays DEVWATCH_* variables found through lookup.
func ApplyEnv(settings *Settings, lookup func(string) (string, bool)) error {
	if settings == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if raw, ok := lookup("DEVWATCH_PATHS"); ok {
		settings.Paths = SplitList(raw)
	}
	if raw, ok := lookup("DEVWATCH_EXTRA_PATHS"); ok {
		settings.ExtraPaths = SplitList(raw)
	}
	if raw, ok := lookup("DEVWATCH_EXTENSIONS"); ok {
		settings.Extensions = SplitList(raw)
	}
	if raw, ok := lookup("DEVWATCH_BACKEND"); ok && strings.TrimSpace(raw) != "" {
		settings.Backend = strings.TrimSpace(raw)
	}
	if raw, ok := lookup("DEVWATCH_LOG_LEVEL"); ok && strings.TrimSpace(raw) != "" {
		settings.LogLevel = strings.TrimSpace(raw)
	}

	var errs []error
	if raw, ok := lookup("DEVWATCH_DEBOUNCE"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("DEVWATCH_DEBOUNCE: %w", err))
		} else {
			settings.Debounce = parsed
		}
	}
	if raw, ok := lookup("DEVWATCH_NO_PTY"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("DEVWATCH_NO_PTY: %w", err))
		} else {
			settings.NoPty = parsed
		}
	}
	if _, ok := lookup("NO_COLOR"); ok {
		settings.NoColor = true
	}
	return errors.Join(errs...)
}

// Resolve validates settings and builds the WatchConfiguration. Roots that
// do not exist are dropped and returned so the caller can report them.
func Resolve(settings Settings) (WatchConfiguration, []string, error) {
	switch settings.Backend {
	case "", BackendFsnotify, BackendFswatch:
	default:
		return WatchConfiguration{}, nil, fmt.Errorf("unknown watch backend %q", settings.Backend)
	}
	if settings.Debounce < 0 || settings.StartGrace < 0 || settings.StopTimeout < 0 {
		return WatchConfiguration{}, nil, errors.New("durations must not be negative")
	}

	candidates := dedupe(cleanPaths(append(append([]string(nil), settings.Paths...), settings.ExtraPaths...)))
	existing := make([]string, 0, len(candidates))
	var dropped []string
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			dropped = append(dropped, path)
			continue
		}
		existing = append(existing, path)
	}

	cfg, err := New(existing, settings.Command, settings.Extensions, settings.WatchArgs)
	if err != nil {
		return WatchConfiguration{}, dropped, err
	}
	return cfg, dropped, nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
