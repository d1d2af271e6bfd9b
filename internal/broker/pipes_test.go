package broker

import (
	"io"
	"os"
	"sync"
)

// memPipes is an in-process Pipes where each name maps to one io.Pipe.
// The broker gets one end and the test takes the other.
type memPipes struct {
	mu    sync.Mutex
	pipes map[string]*memPipe
}

type memPipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newMemPipes() *memPipes {
	return &memPipes{pipes: make(map[string]*memPipe)}
}

func (m *memPipes) get(name string) *memPipe {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipes[name]
	if !ok {
		r, w := io.Pipe()
		p = &memPipe{r: r, w: w}
		m.pipes[name] = p
	}
	return p
}

func (m *memPipes) OpenReader(name string) (io.ReadCloser, error) {
	return m.get(name).r, nil
}

func (m *memPipes) OpenWriter(name string) (io.WriteCloser, error) {
	return m.get(name).w, nil
}

// clientWriter returns the test side of the pipe the broker reads from.
func (m *memPipes) clientWriter(name string) *io.PipeWriter {
	return m.get(name).w
}

// clientReader returns the test side of the pipe the broker writes to.
func (m *memPipes) clientReader(name string) *io.PipeReader {
	return m.get(name).r
}

func openForWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}
