package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/creack/pty"
)

// spawn starts command on a pseudo-terminal, or on a pipe shared by stdout
// and stderr when NoPty is set or no terminal can be allocated. The
// returned reader yields all child output.
func (supervisor *Supervisor) spawn(command Command) (*exec.Cmd, io.ReadCloser, bool, error) {
	size, err := supervisor.options.TerminalSize()
	if err != nil {
		size = nil
	}
	build := func() *exec.Cmd {
		cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
		cmd.Dir = command.Dir
		cmd.Env = childEnv(supervisor.baseEnv(), size)
		return cmd
	}

	if !supervisor.options.NoPty {
		ptmx, tty, err := pty.Open()
		if err == nil {
			cmd := build()
			output, err := startOnTerminal(cmd, ptmx, tty, size)
			if err != nil {
				return nil, nil, false, err
			}
			return cmd, output, true, nil
		}
		supervisor.logger.Warn("pty unavailable, using pipes", map[string]string{
			"error": err.Error(),
		})
	}

	cmd := build()
	output, err := startOnPipe(cmd)
	if err != nil {
		return nil, nil, false, err
	}
	return cmd, output, false, nil
}

// startOnTerminal wires the child to tty and keeps only the master side.
func startOnTerminal(cmd *exec.Cmd, ptmx, tty *os.File, size *pty.Winsize) (io.ReadCloser, error) {
	defer func() {
		_ = tty.Close()
	}()
	if size != nil {
		if err := pty.Setsize(ptmx, size); err != nil {
			_ = ptmx.Close()
			return nil, err
		}
	}
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	configureCommand(cmd, true)
	if err := cmd.Start(); err != nil {
		_ = ptmx.Close()
		return nil, err
	}
	return ptmx, nil
}

func startOnPipe(cmd *exec.Cmd) (io.ReadCloser, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = writer
	cmd.Stderr = writer
	configureCommand(cmd, false)
	startErr := cmd.Start()
	_ = writer.Close()
	if startErr != nil {
		_ = reader.Close()
		return nil, startErr
	}
	return reader, nil
}

func (supervisor *Supervisor) baseEnv() []string {
	if supervisor.options.Env != nil {
		return supervisor.options.Env
	}
	return os.Environ()
}

// childEnv replaces COLUMNS and LINES with the terminal size when known.
func childEnv(base []string, size *pty.Winsize) []string {
	env := make([]string, 0, len(base)+2)
	for _, entry := range base {
		if size != nil && (strings.HasPrefix(entry, "COLUMNS=") || strings.HasPrefix(entry, "LINES=")) {
			continue
		}
		env = append(env, entry)
	}
	if size != nil && size.Cols > 0 && size.Rows > 0 {
		env = append(env,
			"COLUMNS="+strconv.Itoa(int(size.Cols)),
			"LINES="+strconv.Itoa(int(size.Rows)),
		)
	}
	return env
}

func controllingTerminalSize() (*pty.Winsize, error) {
	size, err := pty.GetsizeFull(os.Stdin)
	if err == nil {
		return size, nil
	}
	return pty.GetsizeFull(os.Stdout)
}
