package broker

import (
	"io"
	"os"
)

// Pipes opens the per-client pipes named in registrations.
type Pipes interface {
	// OpenReader opens a client pipe the broker reads from (publishers).
	OpenReader(name string) (io.ReadCloser, error)
	// OpenWriter opens a client pipe the broker writes to.
	OpenWriter(name string) (io.WriteCloser, error)
}

// FIFOPipes opens named pipes on the local filesystem. Each open blocks
// until the client holds the other end.
type FIFOPipes struct{}

func (FIFOPipes) OpenReader(name string) (io.ReadCloser, error) {
	return os.OpenFile(name, os.O_RDONLY, 0)
}

func (FIFOPipes) OpenWriter(name string) (io.WriteCloser, error) {
	return os.OpenFile(name, os.O_WRONLY, 0)
}
