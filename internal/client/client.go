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

// Package client implements the publisher, subscriber and manager sides
// of the broker protocol. Each session uses a private named pipe created
// by the client and announced to the broker on its registration pipe.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tfsbroker/internal/protocol"
	"tfsbroker/internal/util"
)

var (
	// ErrSessionClosed means the broker ended the session, for example
	// because the box was missing, taken or deleted.
	ErrSessionClosed = errors.New("session closed by broker")
	// ErrBrokerNotRunning means the registration pipe has no reader.
	ErrBrokerNotRunning = errors.New("broker is not running")
)

// ReplyError carries the error text of a failed manager request.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

// Client talks to one broker through its registration pipe.
type Client struct {
	RegisterPipe string
	PipeName     string
}

// New creates a client. An empty pipeName picks a unique one in the
// system temp directory.
func New(registerPipe, pipeName string) *Client {
	if pipeName == "" {
		pipeName = DefaultPipeName()
	}
	return &Client{RegisterPipe: registerPipe, PipeName: pipeName}
}

// DefaultPipeName returns a fresh session pipe path.
func DefaultPipeName() string {
	return filepath.Join(os.TempDir(), "tfsbroker-"+uuid.NewString()+".fifo")
}

// register creates the session pipe and sends the registration record.
func (c *Client) register(ctx context.Context, op protocol.OpCode, box string) error {
	if err := util.MakeFifo(c.PipeName, 0640); err != nil {
		return fmt.Errorf("failed to create session pipe: %w", err)
	}

	opts := append(util.PipeRetryOptions(ctx), retryIfNoBroker())
	f, err := util.RetryWithResult(ctx, func() (*os.File, error) {
		return os.OpenFile(c.RegisterPipe, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	}, opts...)
	if err != nil {
		c.removePipe()
		if errors.Is(err, syscall.ENXIO) {
			return fmt.Errorf("%w: no reader on %s", ErrBrokerNotRunning, c.RegisterPipe)
		}
		return fmt.Errorf("failed to open register pipe: %w", err)
	}
	defer f.Close()

	reg := protocol.Registration{Op: op, PipeName: c.PipeName, BoxName: box}
	if err := protocol.WriteRegistration(f, reg); err != nil {
		c.removePipe()
		return fmt.Errorf("failed to register: %w", err)
	}
	log.Debugf("[Client.register] %s box=%q pipe=%s", op, box, c.PipeName)
	return nil
}

func (c *Client) removePipe() {
	if err := util.RemoveFifo(c.PipeName); err != nil {
		log.Warnf("[Client.removePipe] %v", err)
	}
}

// Publisher is an open publisher session.
type Publisher struct {
	c *Client
	f *os.File
}

// OpenPublisher registers as the publisher of box. The open blocks
// until the broker picks up the session.
func (c *Client) OpenPublisher(ctx context.Context, box string) (*Publisher, error) {
	if err := c.register(ctx, protocol.OpRegisterPublisher, box); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(c.PipeName, os.O_WRONLY, 0)
	if err != nil {
		c.removePipe()
		return nil, err
	}
	return &Publisher{c: c, f: f}, nil
}

// Send publishes one message.
func (p *Publisher) Send(text string) error {
	err := protocol.WriteMessage(p.f, protocol.Message{Op: protocol.OpPublish, Text: text})
	if errors.Is(err, syscall.EPIPE) {
		return ErrSessionClosed
	}
	return err
}

// Close ends the session and removes the session pipe.
func (p *Publisher) Close() error {
	err := p.f.Close()
	p.c.removePipe()
	return err
}

// Subscriber is an open subscriber session.
type Subscriber struct {
	c *Client
	f *os.File
}

// OpenSubscriber registers as a subscriber of box.
func (c *Client) OpenSubscriber(ctx context.Context, box string) (*Subscriber, error) {
	if err := c.register(ctx, protocol.OpRegisterSubscriber, box); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(c.PipeName, os.O_RDONLY, 0)
	if err != nil {
		c.removePipe()
		return nil, err
	}
	return &Subscriber{c: c, f: f}, nil
}

// Next blocks for the next message. It returns io.EOF when the broker
// ends the session.
func (s *Subscriber) Next() (string, error) {
	msg, err := protocol.ReadMessage(s.f, protocol.OpSubscriberMessage)
	if err != nil {
		return "", err
	}
	return msg.Text, nil
}

// Close ends the session and removes the session pipe. A blocked Next
// returns an error.
func (s *Subscriber) Close() error {
	err := s.f.Close()
	s.c.removePipe()
	return err
}

// CreateBox asks the broker to create box.
func (c *Client) CreateBox(ctx context.Context, box string) error {
	return c.manage(ctx, protocol.OpCreateBox, protocol.OpCreateBoxReply, box)
}

// RemoveBox asks the broker to delete box.
func (c *Client) RemoveBox(ctx context.Context, box string) error {
	return c.manage(ctx, protocol.OpDeleteBox, protocol.OpDeleteBoxReply, box)
}

func (c *Client) manage(ctx context.Context, op, want protocol.OpCode, box string) error {
	if err := c.register(ctx, op, box); err != nil {
		return err
	}
	defer c.removePipe()

	f, err := os.OpenFile(c.PipeName, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	reply, err := protocol.ReadManagerReply(f)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	if reply.Op != want {
		return fmt.Errorf("%w: got %s, want %s", protocol.ErrUnexpectedOp, reply.Op, want)
	}
	if reply.ReturnCode != 0 {
		return &ReplyError{Message: reply.Error}
	}
	return nil
}

// ListBoxes returns every box sorted by name.
func (c *Client) ListBoxes(ctx context.Context) ([]protocol.ListEntry, error) {
	if err := c.register(ctx, protocol.OpListBoxes, ""); err != nil {
		return nil, err
	}
	defer c.removePipe()

	f, err := os.OpenFile(c.PipeName, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []protocol.ListEntry
	for {
		e, err := protocol.ReadListEntry(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read box list: %w", err)
		}
		entries = append(entries, e)
		if e.Last {
			break
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].BoxName < entries[j].BoxName })
	return entries, nil
}
