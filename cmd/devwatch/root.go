package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"devwatch/internal/cli"
	"devwatch/internal/config"
	"devwatch/internal/logging"
	"devwatch/internal/loop"
	"devwatch/internal/supervisor"
	"devwatch/internal/version"
	"devwatch/internal/watcher"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const recentActivity = 20

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var flags *cli.WatchFlags
	root := &cobra.Command{
		Use:   "devwatch [flags] [--] command [args...]",
		Short: "Restart a test runner whenever watched sources change",
		Long: `devwatch watches the tests directory (plus any --dirs) and restarts the
given command each time a matching file changes. The command runs on a
pseudo-terminal and its output streams straight to this terminal.`,
		Version:       version.GetVersionInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd.Flags(), flags, args, os.LookupEnv)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), settings, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.Flags().SetInterspersed(false)
	flags = cli.AddWatchFlags(root.Flags())
	return root
}

// loadSettings layers defaults, the YAML file, DEVWATCH_* variables, flags
// and finally the positional command.
func loadSettings(fs *pflag.FlagSet, flags *cli.WatchFlags, args []string, lookup func(string) (string, bool)) (config.Settings, error) {
	settings := config.Defaults()

	path := config.DefaultFile
	required := false
	if flags != nil && strings.TrimSpace(flags.Config) != "" {
		path = flags.Config
		required = true
	}
	if err := config.LoadFile(path, required, &settings); err != nil {
		return settings, err
	}
	if err := config.ApplyEnv(&settings, lookup); err != nil {
		return settings, err
	}
	flags.Apply(fs, &settings)
	if argv := cli.CommandArgv(args); len(argv) > 0 {
		settings.Command = argv
	}
	return settings, nil
}

func runWatch(parent context.Context, settings config.Settings, stdout, stderr io.Writer) error {
	level, ok := logging.ParseLevel(settings.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), level, stderr)

	cfg, dropped, err := config.Resolve(settings)
	for _, path := range dropped {
		logger.Warn("watch root missing; skipping", map[string]string{
			"path": path,
		})
	}
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	runner := supervisor.New(supervisorOptions(settings, stdout, logger))
	watchLoop := loop.New(loop.Options{
		Config: cfg,
		Runner: runner,
		Open: loop.OpenWatcher(watcher.Options{
			Backend: settings.Backend,
			Logger:  logger,
		}),
		Sink:     stdout,
		Logger:   logger,
		Debounce: settings.Debounce,
		NoColor:  settings.NoColor,
	})
	if err := watchLoop.Run(ctx); err != nil {
		writeRecentActivity(stderr, logger)
		return err
	}
	return nil
}

// supervisorOptions maps settings onto the supervisor. A zero start grace
// in settings turns the early-exit check off.
func supervisorOptions(settings config.Settings, sink io.Writer, logger *logging.Logger) supervisor.Options {
	grace := settings.StartGrace
	if grace == 0 {
		grace = -1
	}
	return supervisor.Options{
		Sink:        sink,
		Logger:      logger,
		StartGrace:  grace,
		StopTimeout: settings.StopTimeout,
		NoPty:       settings.NoPty,
		NoColor:     settings.NoColor,
	}
}

// writeRecentActivity replays the newest log entries, including those below
// the configured level, after the watch fails.
func writeRecentActivity(w io.Writer, logger *logging.Logger) {
	entries := logger.Buffer().Recent(recentActivity)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "devwatch: recent activity:")
	for _, entry := range entries {
		fmt.Fprintf(w, "  %s %s\n", entry.Timestamp.Format("15:04:05.000"), logging.FormatEntry(entry))
	}
}
