package supervisor

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
)

// maxLine caps a single buffered line so a worker that never writes a
// newline cannot grow memory without bound.
const maxLine = 16 * 1024

// lineWriter re-emits a worker's output stream as one log record per line.
type lineWriter struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(logger *slog.Logger, stream string) io.Writer {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Info("worker output", "stream", w.stream, "line", string(line))
}
