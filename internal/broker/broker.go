// Copyright 2024 TFSBroker Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package broker serves TFS-backed message boxes over named pipes.
// Clients register on one well-known pipe; a fixed pool of workers
// takes registrations from a bounded queue and runs one session each.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tfsbroker/internal/protocol"
	"tfsbroker/internal/tfs"
	"tfsbroker/internal/util"
)

// Broker owns the filesystem, the box registry and the session pool.
type Broker struct {
	cfg      Config
	fs       *tfs.FS
	registry *Registry
	queue    *Queue[protocol.Registration]
	pipes    Pipes

	startOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Broker.
type Option func(*Broker)

// WithPipes replaces the named-pipe transport for client pipes.
func WithPipes(p Pipes) Option {
	return func(b *Broker) { b.pipes = p }
}

// New creates a broker. Workers start on Start or Run.
func New(cfg Config, opts ...Option) (*Broker, error) {
	cfg.ApplyDefaults()
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("max_sessions must be positive, got %d", cfg.MaxSessions)
	}
	fs, err := tfs.New(cfg.FS)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem: %w", err)
	}
	b := &Broker{
		cfg:      cfg,
		fs:       fs,
		registry: NewRegistry(fs, cfg.MaxBoxes),
		queue:    NewQueue[protocol.Registration](cfg.MaxSessions),
		pipes:    FIFOPipes{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Registry returns the box registry.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// Start launches the session workers. Later calls do nothing.
func (b *Broker) Start() {
	b.startOnce.Do(func() {
		for i := 0; i < b.cfg.MaxSessions; i++ {
			b.wg.Add(1)
			go b.worker(i)
		}
		log.Debugf("[Broker.Start] %d session workers", b.cfg.MaxSessions)
	})
}

func (b *Broker) worker(id int) {
	defer b.wg.Done()
	for {
		req, err := b.queue.Dequeue()
		if err != nil {
			log.Tracef("[Broker.worker] worker %d exiting", id)
			return
		}
		b.dispatch(req)
	}
}

// Submit queues a registration, blocking while the queue is full.
func (b *Broker) Submit(req protocol.Registration) error {
	return b.queue.Enqueue(req)
}

// Serve reads registrations from r and queues them until r ends. A
// clean end of stream returns nil; a truncated record is an error.
func (b *Broker) Serve(r io.Reader) error {
	for {
		req, err := protocol.ReadRegistration(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read registration: %w", err)
		}
		log.Tracef("[Broker.Serve] %s for box %q on %s", req.Op, req.BoxName, req.PipeName)
		if err := b.Submit(req); err != nil {
			return err
		}
	}
}

// Close stops accepting registrations. Idle workers exit; workers inside
// a session are not waited for.
func (b *Broker) Close() {
	b.queue.Close()
}

// Wait blocks until every worker has exited.
func (b *Broker) Wait() {
	b.wg.Wait()
}

// Run serves the registration pipe until ctx is cancelled. A lock file
// next to the pipe keeps a second broker off the same path.
func (b *Broker) Run(ctx context.Context) error {
	pipe := b.cfg.RegisterPipe
	if pipe == "" {
		return fmt.Errorf("register pipe is required")
	}

	lock := flock.New(pipe + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another broker is already serving %s", pipe)
	}
	defer func() {
		lock.Unlock()
		os.Remove(lock.Path())
	}()

	if err := util.MakeFifo(pipe, 0640); err != nil {
		return fmt.Errorf("failed to create register pipe: %w", err)
	}
	defer util.RemoveFifo(pipe)

	// Read-write keeps a writer attached, so clients coming and going
	// never produce end of stream.
	f, err := os.OpenFile(pipe, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open register pipe: %w", err)
	}

	b.Start()
	log.Infof("[Broker.Run] serving %s with %d sessions", pipe, b.cfg.MaxSessions)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-stop:
		}
	}()

	err = b.Serve(f)
	close(stop)
	f.Close()
	b.Close()

	if ctx.Err() != nil {
		log.Infof("[Broker.Run] shutting down: %v", ctx.Err())
		return nil
	}
	return err
}

func newSessionID() string {
	return uuid.NewString()[:8]
}
