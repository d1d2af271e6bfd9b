package tfs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tfsbroker/internal/common"
)

func TestBlockStore_AllocFree(t *testing.T) {
	t.Parallel()
	bs := NewBlockStore(2, 16)

	a, err := bs.Alloc()
	require.NoError(t, err)
	b, err := bs.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = bs.Alloc()
	assert.ErrorIs(t, err, common.ErrNoSpace)

	bs.Free(a)
	c, err := bs.Alloc()
	require.NoError(t, err)
	assert.Equal(t, a, c, "first free block is reused")
}

func TestBlockStore_Get(t *testing.T) {
	t.Parallel()
	bs := NewBlockStore(2, 16)

	assert.Nil(t, bs.Get(0), "free block")
	assert.Nil(t, bs.Get(-1), "negative index")
	assert.Nil(t, bs.Get(2), "out of range")
	assert.Nil(t, bs.Get(NoBlock))

	id, err := bs.Alloc()
	require.NoError(t, err)
	data := bs.Get(id)
	require.Len(t, data, 16)
	copy(data, "dirty")

	bs.Free(id)
	assert.Nil(t, bs.Get(id), "freed block is not reachable")

	id, err = bs.Alloc()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), bs.Get(id), "reallocated block is zeroed")
}

func TestBlockStore_DoubleFreeIgnored(t *testing.T) {
	t.Parallel()
	bs := NewBlockStore(1, 8)
	id, err := bs.Alloc()
	require.NoError(t, err)

	bs.Free(id)
	bs.Free(id)
	bs.Free(BlockID(7))
	assert.Equal(t, 0, bs.InUse())
}

func TestBlockStore_ConcurrentAlloc(t *testing.T) {
	t.Parallel()
	const count = 64
	bs := NewBlockStore(count, 8)

	var mu sync.Mutex
	seen := make(map[BlockID]bool)
	var wg sync.WaitGroup
	for i := 0; i < count*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := bs.Alloc()
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[id], "block %d handed out twice", id)
			seen[id] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, count)
	assert.Equal(t, count, bs.InUse())
}
