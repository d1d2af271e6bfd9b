package tfs

import (
	"sync"

	"tfsbroker/internal/common"
)

// BlockID indexes the block pool. NoBlock marks an inode without data.
type BlockID int

const NoBlock BlockID = -1

// BlockStore is a fixed pool of equally sized blocks with a free bitmap.
type BlockStore struct {
	mu    sync.Mutex
	data  [][]byte
	used  []bool
	size  int
	inUse int
}

// NewBlockStore allocates count blocks of size bytes each.
func NewBlockStore(count, size int) *BlockStore {
	bs := &BlockStore{
		data: make([][]byte, count),
		used: make([]bool, count),
		size: size,
	}
	for i := range bs.data {
		bs.data[i] = make([]byte, size)
	}
	return bs
}

// BlockSize returns the size of every block in bytes.
func (bs *BlockStore) BlockSize() int {
	return bs.size
}

// Alloc claims the first free block and zeroes it.
func (bs *BlockStore) Alloc() (BlockID, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for i, used := range bs.used {
		if !used {
			bs.used[i] = true
			bs.inUse++
			clear(bs.data[i])
			return BlockID(i), nil
		}
	}
	return NoBlock, common.ErrNoSpace
}

// Free returns a block to the pool. Freeing a free or out-of-range block is ignored.
func (bs *BlockStore) Free(id BlockID) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.valid(id) || !bs.used[id] {
		return
	}
	bs.used[id] = false
	bs.inUse--
}

// Get returns the contents of an allocated block, or nil when id is out of
// range or currently free.
func (bs *BlockStore) Get(id BlockID) []byte {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.valid(id) || !bs.used[id] {
		return nil
	}
	return bs.data[id]
}

// InUse returns the number of allocated blocks.
func (bs *BlockStore) InUse() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.inUse
}

func (bs *BlockStore) valid(id BlockID) bool {
	return id >= 0 && int(id) < len(bs.data)
}
