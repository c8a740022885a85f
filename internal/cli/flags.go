package cli

import (
	"strings"
	"time"

	"devwatch/internal/config"

	"github.com/spf13/pflag"
)

// WatchFlags holds the raw flag values. Apply copies only the flags the
// user set, so unset flags never mask the file or environment layers.
type WatchFlags struct {
	Config      string
	Dirs        []string
	Extensions  []string
	WatchArgs   []string
	Backend     string
	Debounce    time.Duration
	StartGrace  time.Duration
	StopTimeout time.Duration
	NoPty       bool
	NoColor     bool
	LogLevel    string
}

func AddWatchFlags(fs *pflag.FlagSet) *WatchFlags {
	flags := &WatchFlags{}
	if fs == nil {
		return flags
	}
	defaults := config.Defaults()
	fs.StringVar(&flags.Config, "config", "", "YAML settings file (default "+config.DefaultFile+" if present)")
	fs.StringSliceVar(&flags.Dirs, "dirs", nil, "Extra directories to watch, comma-separated")
	fs.StringSliceVar(&flags.Extensions, "ext", nil, "File suffixes that trigger a restart (default "+config.DefaultSuffix+")")
	fs.StringArrayVar(&flags.WatchArgs, "watch-arg", nil, "Extra argument for the fswatch backend, repeatable")
	fs.StringVar(&flags.Backend, "backend", config.BackendFsnotify, "Watch backend: fsnotify or fswatch")
	fs.DurationVar(&flags.Debounce, "debounce", 0, "Fold changes arriving within this window into one restart")
	fs.DurationVar(&flags.StartGrace, "start-grace", defaults.StartGrace, "Treat an exit within this window as a failed start; 0 disables the check")
	fs.DurationVar(&flags.StopTimeout, "stop-timeout", defaults.StopTimeout, "Wait this long after SIGTERM before SIGKILL")
	fs.BoolVar(&flags.NoPty, "no-pty", false, "Run the command on pipes instead of a pseudo-terminal")
	fs.BoolVar(&flags.NoColor, "no-color", false, "Disable coloured notices")
	fs.StringVar(&flags.LogLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warning or error")
	return flags
}

// Apply overlays the flags that were set on fs onto settings.
func (flags *WatchFlags) Apply(fs *pflag.FlagSet, settings *config.Settings) {
	if flags == nil || fs == nil || settings == nil {
		return
	}
	if fs.Changed("dirs") {
		settings.ExtraPaths = append(settings.ExtraPaths, flags.Dirs...)
	}
	if fs.Changed("ext") {
		settings.Extensions = append([]string(nil), flags.Extensions...)
	}
	if fs.Changed("watch-arg") {
		settings.WatchArgs = append([]string(nil), flags.WatchArgs...)
	}
	if fs.Changed("backend") {
		settings.Backend = strings.TrimSpace(flags.Backend)
	}
	if fs.Changed("debounce") {
		settings.Debounce = flags.Debounce
	}
	if fs.Changed("start-grace") {
		settings.StartGrace = flags.StartGrace
	}
	if fs.Changed("stop-timeout") {
		settings.StopTimeout = flags.StopTimeout
	}
	if fs.Changed("no-pty") {
		settings.NoPty = flags.NoPty
	}
	if fs.Changed("no-color") {
		settings.NoColor = flags.NoColor
	}
	if fs.Changed("log-level") {
		settings.LogLevel = flags.LogLevel
	}
}

// watchFlag is the host test runner's own watch switch. It is dropped so
// the runner does not start a second watcher under devwatch.
const watchFlag = "--watch"

// CommandArgv turns positional arguments into the child argument vector. A
// lone argument containing whitespace is a shell string and runs via sh -c.
func CommandArgv(args []string) []string {
	argv := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == watchFlag {
			continue
		}
		argv = append(argv, arg)
	}
	if len(argv) == 1 && strings.ContainsAny(argv[0], " \t\n") {
		return []string{"sh", "-c", argv[0]}
	}
	return argv
}
