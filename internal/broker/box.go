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
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"tfsbroker/internal/common"
	"tfsbroker/internal/protocol"
	"tfsbroker/internal/tfs"
)

// Box is a registry slot. Fields are guarded by mu; used, name and gen
// change only while the registry lock is held as well. gen increases
// every time the slot is claimed, so a session can tell its box apart
// from a later box reusing the same slot.
type Box struct {
	mu          sync.Mutex
	cond        *sync.Cond
	name        string
	publishers  uint64
	subscribers uint64
	size        uint64
	used        bool
	gen         uint64
}

// BoxInfo is a point-in-time view of a box.
type BoxInfo struct {
	Name        string
	Size        uint64
	Publishers  uint64
	Subscribers uint64
}

// Info returns a snapshot of the box counters.
func (b *Box) Info() BoxInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BoxInfo{Name: b.name, Size: b.size, Publishers: b.publishers, Subscribers: b.subscribers}
}

// alive reports whether the box is still the one claimed at gen.
// Caller holds b.mu.
func (b *Box) alive(gen uint64) bool {
	return b.used && b.gen == gen
}

func (b *Box) addPublisher(gen uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive(gen) {
		return common.ErrNotFound
	}
	if b.publishers != 0 {
		return common.ErrBoxBusy
	}
	b.publishers = 1
	return nil
}

func (b *Box) removePublisher(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == gen && b.publishers > 0 {
		b.publishers--
	}
}

func (b *Box) addSubscriber(gen uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive(gen) {
		return common.ErrNotFound
	}
	b.subscribers++
	return nil
}

func (b *Box) removeSubscriber(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen == gen && b.subscribers > 0 {
		b.subscribers--
	}
}

// publish appends text to the box file and wakes waiting subscribers.
// The file is opened only for the duration of the append.
func (b *Box) publish(fs *tfs.FS, gen uint64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive(gen) {
		return common.ErrNotFound
	}

	h, err := fs.Open(common.BoxPath(b.name), tfs.OAppend)
	if err != nil {
		return fmt.Errorf("failed to open box %s: %w", b.name, err)
	}
	n, werr := WriteMessage(fs, h, text)
	if err := fs.Close(h); err != nil {
		log.Warnf("[Box.publish] close %s: %v", b.name, err)
	}
	if werr != nil {
		return werr
	}
	b.size += uint64(n)
	b.cond.Broadcast()
	return nil
}

// next waits until the box holds bytes past consumed and returns the
// complete messages found there with the new consumed offset. It fails
// with ErrNotFound once the box is deleted.
func (b *Box) next(fs *tfs.FS, gen uint64, consumed uint64) ([]string, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.alive(gen) && b.size <= consumed {
		b.cond.Wait()
	}
	if !b.alive(gen) {
		return nil, consumed, common.ErrNotFound
	}

	h, err := fs.Open(common.BoxPath(b.name), 0)
	if err != nil {
		return nil, consumed, fmt.Errorf("failed to open box %s: %w", b.name, err)
	}
	defer func() {
		if err := fs.Close(h); err != nil {
			log.Warnf("[Box.next] close %s: %v", b.name, err)
		}
	}()

	if consumed > 0 {
		skip := make([]byte, consumed)
		n, err := fs.Read(h, skip)
		if err != nil {
			return nil, consumed, err
		}
		if uint64(n) != consumed {
			return nil, consumed, fmt.Errorf("box %s shrank below offset %d", b.name, consumed)
		}
	}

	var msgs []string
	pos := consumed
	for pos < b.size {
		text, n, err := ReadMessage(fs, h)
		if err != nil {
			return msgs, pos, err
		}
		msgs = append(msgs, text)
		pos += uint64(n)
	}
	return msgs, pos, nil
}

// Registry is the fixed-capacity table of boxes, each backed by a TFS
// file named after the box. Lock order: registry, then box.
type Registry struct {
	mu      sync.Mutex
	fs      *tfs.FS
	boxes   []*Box
	nextGen uint64
}

// NewRegistry creates a registry with room for capacity boxes.
func NewRegistry(fs *tfs.FS, capacity int) *Registry {
	r := &Registry{fs: fs, boxes: make([]*Box, capacity)}
	for i := range r.boxes {
		b := &Box{}
		b.cond = sync.NewCond(&b.mu)
		r.boxes[i] = b
	}
	return r
}

// validBoxName checks that name fits a wire field and a TFS entry.
func validBoxName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty box name", common.ErrInvalidPath)
	case len(name) >= protocol.BoxNameLength || len(name) >= common.MaxFileName:
		return fmt.Errorf("%w: box name %q too long", common.ErrInvalidPath, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: box name %q", common.ErrInvalidPath, name)
	}
	return nil
}

// find returns the live box named name. Caller holds r.mu.
func (r *Registry) find(name string) *Box {
	for _, b := range r.boxes {
		if b.used && b.name == name {
			return b
		}
	}
	return nil
}

// CreateBox creates an empty box. The name check and the slot claim
// happen under one lock, so concurrent creates of one name yield a
// single box.
func (r *Registry) CreateBox(name string) error {
	if err := validBoxName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(name) != nil {
		return fmt.Errorf("box %s: %w", name, common.ErrExists)
	}
	var slot *Box
	for _, b := range r.boxes {
		if !b.used {
			slot = b
			break
		}
	}
	if slot == nil {
		return fmt.Errorf("box registry: %w", common.ErrNoSpace)
	}

	h, err := r.fs.Open(common.BoxPath(name), tfs.OCreate|tfs.OTrunc)
	if err != nil {
		return fmt.Errorf("failed to create box file %s: %w", name, err)
	}
	if err := r.fs.Close(h); err != nil {
		return err
	}

	slot.mu.Lock()
	r.nextGen++
	slot.name = name
	slot.publishers = 0
	slot.subscribers = 0
	slot.size = 0
	slot.used = true
	slot.gen = r.nextGen
	slot.mu.Unlock()

	log.Debugf("[Registry.CreateBox] created %s (gen %d)", name, r.nextGen)
	return nil
}

// DeleteBox removes a box and its file. Sessions attached to it observe
// the deletion and end.
func (r *Registry) DeleteBox(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.find(name)
	if b == nil {
		return fmt.Errorf("box %s: %w", name, common.ErrNotFound)
	}

	b.mu.Lock()
	if err := r.fs.Unlink(common.BoxPath(name)); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to remove box file %s: %w", name, err)
	}
	b.used = false
	b.mu.Unlock()
	b.cond.Broadcast()

	log.Debugf("[Registry.DeleteBox] deleted %s", name)
	return nil
}

// GetBox returns the live box named name, or nil.
func (r *Registry) GetBox(name string) *Box {
	b, _ := r.attach(name)
	return b
}

// attach looks up a box and returns it with its current generation.
func (r *Registry) attach(name string) (*Box, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.find(name)
	if b == nil {
		return nil, 0
	}
	return b, b.gen
}

// List returns a snapshot of every live box in slot order.
func (r *Registry) List() []BoxInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []BoxInfo
	for _, b := range r.boxes {
		if !b.used {
			continue
		}
		out = append(out, b.Info())
	}
	return out
}

// Len returns the number of live boxes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.boxes {
		if b.used {
			n++
		}
	}
	return n
}
