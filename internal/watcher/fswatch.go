package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"devwatch/internal/config"
)

const (
	fswatchBinary  = "fswatch"
	fswatchHint    = "fswatch is required: install it with `brew install fswatch` or `apt-get install fswatch`, see https://github.com/emcrespo/fswatch"
	probeTimeout   = 5 * time.Second
	flagSeparator  = ","
	fswatchStopped = 2 * time.Second
)

// probeFswatch checks that the binary exists and runs.
func probeFswatch(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", &UnavailableError{Backend: BackendFswatch, Hint: fswatchHint, Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, path, "--version").Run(); err != nil {
		return "", &UnavailableError{Backend: BackendFswatch, Hint: fswatchHint, Err: fmt.Errorf("probe %s: %w", path, err)}
	}
	return path, nil
}

func fswatchArgs(cfg config.WatchConfiguration) []string {
	args := []string{"--recursive", "--follow-links", "--event-flags", "--event-flag-separator=" + flagSeparator}
	args = append(args, cfg.ExtraWatchArgs()...)
	return append(args, cfg.Paths()...)
}

func startFswatch(cfg config.WatchConfiguration, options Options) (*Stream, error) {
	binary := options.FswatchBinary
	if binary == "" {
		binary = fswatchBinary
	}
	path, err := probeFswatch(binary)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, fswatchArgs(cfg)...)
	configureWatchProcess(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &UnavailableError{Backend: BackendFswatch, Hint: fswatchHint, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &UnavailableError{Backend: BackendFswatch, Hint: fswatchHint, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &UnavailableError{Backend: BackendFswatch, Hint: fswatchHint, Err: err}
	}

	stream := newStream(BackendFswatch, options.Logger)
	stream.stop = func() error {
		return stopWatchProcess(cmd, fswatchStopped)
	}
	stream.logger.Info("watching", map[string]string{
		"pid":  fmt.Sprint(cmd.Process.Pid),
		"args": strings.Join(cmd.Args[1:], " "),
	})

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logWatchStderr(stream, stderr)
	}()
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			event, ok := parseFswatchLine(scanner.Text())
			if !ok {
				continue
			}
			if !stream.emit(event) {
				break
			}
		}
		if stream.closing() {
			stream.finish(nil)
			return
		}
		// Drain so the process is not blocked on a full pipe while it exits.
		_, _ = io.Copy(io.Discard, stdout)
		<-stderrDone
		waitErr := cmd.Wait()
		if waitErr == nil {
			waitErr = errors.New("fswatch exited")
		}
		stream.finish(&CrashedError{Backend: BackendFswatch, Err: waitErr})
	}()
	return stream, nil
}

func logWatchStderr(stream *Stream, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stream.logger.Warn("fswatch stderr", map[string]string{"line": line})
	}
}

// parseFswatchLine decodes "<path> <Flag,Flag,...>" as printed with
// --event-flags. Lines without flags are treated as updates.
func parseFswatchLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	event := Event{Path: line, Kind: KindUpdated, Timestamp: time.Now().UTC()}

	index := strings.LastIndex(line, " ")
	if index <= 0 {
		return event, true
	}
	flags := strings.Split(line[index+1:], flagSeparator)
	kind, known := kindFromFlags(flags)
	if !known {
		return event, true
	}
	event.Path = line[:index]
	event.Kind = kind
	return event, true
}

func kindFromFlags(flags []string) (Kind, bool) {
	known := false
	created, removed := false, false
	for _, flag := range flags {
		switch flag {
		case "Created", "MovedTo":
			created = true
		case "Removed", "Renamed", "MovedFrom":
			removed = true
		case "Updated", "AttributeModified", "OwnerModified", "PlatformSpecific",
			"IsFile", "IsDir", "IsSymLink", "Link", "Overflow", "NoOp", "CloseWrite":
		default:
			continue
		}
		known = true
	}
	switch {
	case removed:
		return KindRemoved, known
	case created:
		return KindCreated, known
	default:
		return KindUpdated, known
	}
}
