package supervisor

import (
	"bytes"
	"io"
	"sync"

	"devwatch/internal/buffer"
)

const readChunk = 32 * 1024

// forwardOutput copies child output to sink as soon as it is read. It
// returns on EOF, on EIO from a terminal whose child has gone, or when
// source is closed.
func forwardOutput(source io.Reader, sink io.Writer, tail *lineTail) {
	chunk := make([]byte, readChunk)
	for {
		n, err := source.Read(chunk)
		if n > 0 {
			_, _ = sink.Write(chunk[:n])
			tail.Write(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// lineTail remembers the last lines a child printed for failure reports.
type lineTail struct {
	mutex   sync.Mutex
	lines   *buffer.Ring[string]
	partial []byte
}

func newLineTail(size int) *lineTail {
	return &lineTail{lines: buffer.NewRing[string](size)}
}

func (tail *lineTail) Write(data []byte) {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()
	for len(data) > 0 {
		index := bytes.IndexByte(data, '\n')
		if index < 0 {
			tail.partial = append(tail.partial, data...)
			return
		}
		line := append(tail.partial, data[:index]...)
		tail.lines.Add(string(bytes.TrimRight(line, "\r")))
		tail.partial = nil
		data = data[index+1:]
	}
}

func (tail *lineTail) Lines() []string {
	tail.mutex.Lock()
	defer tail.mutex.Unlock()
	lines := tail.lines.List()
	if len(bytes.TrimSpace(tail.partial)) > 0 {
		lines = append(lines, string(tail.partial))
	}
	return lines
}
