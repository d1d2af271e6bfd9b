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

package broker

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	log "github.com/sirupsen/logrus"

	"tfsbroker/internal/common"
	"tfsbroker/internal/protocol"
)

// dispatch runs the session for one registration on the calling worker.
func (b *Broker) dispatch(req protocol.Registration) {
	entry := log.WithFields(log.Fields{
		"session": newSessionID(),
		"op":      req.Op.String(),
		"box":     req.BoxName,
		"pipe":    req.PipeName,
	})
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("[Broker.dispatch] session panicked: %v", r)
		}
	}()

	entry.Debug("[Broker.dispatch] session started")
	switch req.Op {
	case protocol.OpRegisterPublisher:
		b.handlePublisher(entry, req)
	case protocol.OpRegisterSubscriber:
		b.handleSubscriber(entry, req)
	case protocol.OpCreateBox, protocol.OpDeleteBox:
		b.handleManager(entry, req)
	case protocol.OpListBoxes:
		b.handleList(entry, req)
	default:
		entry.Warnf("[Broker.dispatch] ignoring op code %d", req.Op)
		return
	}
	entry.Debug("[Broker.dispatch] session ended")
}

// handlePublisher appends every message read from the client pipe to
// the box until the client closes its end or the box goes away.
func (b *Broker) handlePublisher(entry *log.Entry, req protocol.Registration) {
	r, err := b.pipes.OpenReader(req.PipeName)
	if err != nil {
		entry.Warnf("[Broker.handlePublisher] open pipe: %v", err)
		return
	}
	defer r.Close()

	box, gen := b.registry.attach(req.BoxName)
	if box == nil {
		entry.Info("[Broker.handlePublisher] box does not exist")
		return
	}
	if err := box.addPublisher(gen); err != nil {
		entry.Infof("[Broker.handlePublisher] rejected: %v", err)
		return
	}
	defer box.removePublisher(gen)

	for {
		msg, err := protocol.ReadMessage(r, protocol.OpPublish)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				entry.Warnf("[Broker.handlePublisher] read: %v", err)
			}
			return
		}
		if err := box.publish(b.fs, gen, msg.Text); err != nil {
			entry.Infof("[Broker.handlePublisher] publish: %v", err)
			return
		}
	}
}

// handleSubscriber sends every message of the box, then each new one as
// it is published, until the box is deleted or the client goes away.
func (b *Broker) handleSubscriber(entry *log.Entry, req protocol.Registration) {
	w, err := b.pipes.OpenWriter(req.PipeName)
	if err != nil {
		entry.Warnf("[Broker.handleSubscriber] open pipe: %v", err)
		return
	}
	defer w.Close()

	box, gen := b.registry.attach(req.BoxName)
	if box == nil {
		entry.Info("[Broker.handleSubscriber] box does not exist")
		return
	}
	if err := box.addSubscriber(gen); err != nil {
		entry.Infof("[Broker.handleSubscriber] rejected: %v", err)
		return
	}
	defer box.removeSubscriber(gen)

	var consumed uint64
	for {
		msgs, next, err := box.next(b.fs, gen, consumed)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				entry.Info("[Broker.handleSubscriber] box deleted")
			} else {
				entry.Warnf("[Broker.handleSubscriber] read box: %v", err)
			}
			return
		}
		consumed = next
		for _, text := range msgs {
			err := protocol.WriteMessage(w, protocol.Message{Op: protocol.OpSubscriberMessage, Text: text})
			if err != nil {
				if errors.Is(err, syscall.EPIPE) {
					entry.Debug("[Broker.handleSubscriber] subscriber went away")
				} else {
					entry.Warnf("[Broker.handleSubscriber] write: %v", err)
				}
				return
			}
		}
	}
}

// handleManager creates or deletes a box and sends one reply.
func (b *Broker) handleManager(entry *log.Entry, req protocol.Registration) {
	w, err := b.pipes.OpenWriter(req.PipeName)
	if err != nil {
		entry.Warnf("[Broker.handleManager] open pipe: %v", err)
		return
	}
	defer w.Close()

	reply := protocol.ManagerReply{Op: protocol.OpCreateBoxReply}
	if req.Op == protocol.OpCreateBox {
		err = b.registry.CreateBox(req.BoxName)
	} else {
		reply.Op = protocol.OpDeleteBoxReply
		err = b.registry.DeleteBox(req.BoxName)
	}
	if err != nil {
		entry.Infof("[Broker.handleManager] %s failed: %v", req.Op, err)
		reply.ReturnCode = -1
		reply.Error = replyError(req.BoxName, err)
	}
	if err := protocol.WriteManagerReply(w, reply); err != nil {
		entry.Warnf("[Broker.handleManager] write reply: %v", err)
	}
}

// handleList sends one record per box with the last one flagged. An
// empty registry sends nothing and the client sees end of stream.
func (b *Broker) handleList(entry *log.Entry, req protocol.Registration) {
	w, err := b.pipes.OpenWriter(req.PipeName)
	if err != nil {
		entry.Warnf("[Broker.handleList] open pipe: %v", err)
		return
	}
	defer w.Close()

	boxes := b.registry.List()
	for i, info := range boxes {
		e := protocol.ListEntry{
			Last:        i == len(boxes)-1,
			BoxName:     info.Name,
			Size:        info.Size,
			Publishers:  info.Publishers,
			Subscribers: info.Subscribers,
		}
		if err := protocol.WriteListEntry(w, e); err != nil {
			entry.Warnf("[Broker.handleList] write: %v", err)
			return
		}
	}
}

// replyError renders err as the text a manager shows to its user.
func replyError(box string, err error) string {
	switch {
	case errors.Is(err, common.ErrExists):
		return fmt.Sprintf("box %s already exists", box)
	case errors.Is(err, common.ErrNotFound):
		return fmt.Sprintf("box %s does not exist", box)
	case errors.Is(err, common.ErrNoSpace):
		return "no space left for a new box"
	case errors.Is(err, common.ErrInvalidPath):
		return fmt.Sprintf("invalid box name %q", box)
	}
	return err.Error()
}
