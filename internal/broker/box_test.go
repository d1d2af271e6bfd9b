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
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tfsbroker/internal/common"
	"tfsbroker/internal/tfs"
)

func newTestRegistry(t *testing.T, capacity int) (*Registry, *tfs.FS) {
	t.Helper()
	fs, err := tfs.New(tfs.DefaultParams())
	require.NoError(t, err)
	return NewRegistry(fs, capacity), fs
}

func TestRegistry_CreateDelete(t *testing.T) {
	t.Parallel()

	r, fs := newTestRegistry(t, 4)
	require.NoError(t, r.CreateBox("news"))
	require.NotNil(t, r.GetBox("news"))
	assert.Equal(t, BoxInfo{Name: "news"}, r.GetBox("news").Info())

	st, err := fs.Stat("/news")
	require.NoError(t, err)
	assert.Equal(t, tfs.TypeFile, st.Type)

	assert.ErrorIs(t, r.CreateBox("news"), common.ErrExists)

	require.NoError(t, r.DeleteBox("news"))
	assert.Nil(t, r.GetBox("news"))
	_, err = fs.Stat("/news")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, r.DeleteBox("news"), common.ErrNotFound)

	require.NoError(t, r.CreateBox("news"), "a deleted name can be reused")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InvalidNames(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, 4)
	tests := []struct {
		name string
		box  string
	}{
		{"empty", ""},
		{"slash", "a/b"},
		{"nul", "a\x00b"},
		{"too long", strings.Repeat("x", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.CreateBox(tt.box), common.ErrInvalidPath)
		})
	}
	assert.NoError(t, r.CreateBox(strings.Repeat("x", 31)))
}

func TestRegistry_Full(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, 2)
	require.NoError(t, r.CreateBox("a"))
	require.NoError(t, r.CreateBox("b"))
	assert.ErrorIs(t, r.CreateBox("c"), common.ErrNoSpace)

	require.NoError(t, r.DeleteBox("a"))
	assert.NoError(t, r.CreateBox("c"))
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()

	r, fs := newTestRegistry(t, 4)
	assert.Empty(t, r.List())

	require.NoError(t, r.CreateBox("a"))
	require.NoError(t, r.CreateBox("b"))
	a, gen := r.attach("a")
	require.NoError(t, a.addPublisher(gen))
	require.NoError(t, a.addSubscriber(gen))
	require.NoError(t, a.addSubscriber(gen))
	require.NoError(t, a.publish(fs, gen, "hi"))

	assert.Equal(t, []BoxInfo{
		{Name: "a", Size: 3, Publishers: 1, Subscribers: 2},
		{Name: "b"},
	}, r.List())
}

func TestRegistry_ConcurrentCreateSameName(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, 8)
	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.CreateBox("race") == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, 1, r.Len())
}

func TestBox_SinglePublisher(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t, 2)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")

	require.NoError(t, b.addPublisher(gen))
	assert.ErrorIs(t, b.addPublisher(gen), common.ErrBoxBusy)
	b.removePublisher(gen)
	assert.NoError(t, b.addPublisher(gen))
}

func TestBox_PublishThenRead(t *testing.T) {
	t.Parallel()

	r, fs := newTestRegistry(t, 2)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")

	require.NoError(t, b.publish(fs, gen, "a"))
	require.NoError(t, b.publish(fs, gen, "bc"))

	msgs, consumed, err := b.next(fs, gen, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bc"}, msgs)
	assert.Equal(t, uint64(5), consumed)

	require.NoError(t, b.publish(fs, gen, "d"))
	msgs, consumed, err = b.next(fs, gen, consumed)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, msgs)
	assert.Equal(t, uint64(7), consumed)
}

func TestBox_NextWaitsForPublish(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	r, fs := newTestRegistry(t, 2)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")

	got := make(chan []string, 1)
	go func() {
		msgs, _, err := b.next(fs, gen, 0)
		if err == nil {
			got <- msgs
		}
	}()

	g.Consistently(got).WithTimeout(100 * time.Millisecond).ShouldNot(Receive())
	require.NoError(t, b.publish(fs, gen, "wake"))
	g.Eventually(got).WithTimeout(time.Second).Should(Receive(Equal([]string{"wake"})))
}

func TestBox_DeleteEndsWaitingSubscriber(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	r, fs := newTestRegistry(t, 2)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")
	require.NoError(t, b.addSubscriber(gen))

	errs := make(chan error, 1)
	go func() {
		_, _, err := b.next(fs, gen, 0)
		errs <- err
	}()

	g.Consistently(errs).WithTimeout(50 * time.Millisecond).ShouldNot(Receive())
	require.NoError(t, r.DeleteBox("box"), "delete succeeds with an attached subscriber")
	g.Eventually(errs).WithTimeout(time.Second).Should(Receive(MatchError(common.ErrNotFound)))
}

func TestBox_SlotReuseIsolatesOldSessions(t *testing.T) {
	t.Parallel()

	r, fs := newTestRegistry(t, 1)
	require.NoError(t, r.CreateBox("box"))
	old, oldGen := r.attach("box")
	require.NoError(t, old.addPublisher(oldGen))

	require.NoError(t, r.DeleteBox("box"))
	require.NoError(t, r.CreateBox("box"))
	cur, curGen := r.attach("box")
	require.Same(t, old, cur, "single slot is reused")
	require.NotEqual(t, oldGen, curGen)

	assert.ErrorIs(t, old.publish(fs, oldGen, "stale"), common.ErrNotFound)
	assert.ErrorIs(t, old.addSubscriber(oldGen), common.ErrNotFound)

	require.NoError(t, cur.addPublisher(curGen))
	old.removePublisher(oldGen)
	assert.Equal(t, uint64(1), cur.Info().Publishers, "stale release leaves the new box alone")
}

func TestBox_FullRejectsMessage(t *testing.T) {
	t.Parallel()

	params := tfs.DefaultParams()
	params.BlockSize = 88
	fs, err := tfs.New(params)
	require.NoError(t, err)
	r := NewRegistry(fs, 1)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")

	msg := strings.Repeat("m", 9)
	var published int
	for i := 0; i < 20; i++ {
		if err := b.publish(fs, gen, msg); err != nil {
			break
		}
		published++
	}
	assert.Equal(t, 8, published)
	assert.Equal(t, uint64(80), b.Info().Size, "failed append is not counted")

	msgs, _, err := b.next(fs, gen, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 8)
}

func TestBox_ConcurrentPublishOrder(t *testing.T) {
	t.Parallel()

	r, fs := newTestRegistry(t, 1)
	require.NoError(t, r.CreateBox("box"))
	b, gen := r.attach("box")

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.publish(fs, gen, fmt.Sprintf("m%d", i)))
		}()
	}
	wg.Wait()

	msgs, consumed, err := b.next(fs, gen, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
	assert.Equal(t, b.Info().Size, consumed)
}
