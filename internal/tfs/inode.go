package tfs

import (
	"fmt"
	"sync"

	"tfsbroker/internal/common"
)

// InodeType tags what an inode holds.
type InodeType int

const (
	TypeFile InodeType = iota
	TypeDirectory
	TypeSymlink
)

func (t InodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	}
	return "unknown"
}

// RootInum is the inumber of the root directory.
const RootInum = 0

// dirEntrySize is the on-block footprint of one directory entry: a
// MaxFileName name plus a 4-byte inumber.
const dirEntrySize = common.MaxFileName + 4

// DirEntry is one (name, inumber) slot of a directory. An empty name marks
// a free slot.
type DirEntry struct {
	Name string
	Inum int
}

// Inode is file, directory or symlink metadata. Fields other than mu are
// guarded by mu; allocation state is owned by the InodeTable.
//
// Directories use entries only; files and symlinks use block only.
type Inode struct {
	mu sync.RWMutex

	Type  InodeType
	Size  int
	Links int
	Block BlockID

	entries []DirEntry
}

// Lock takes the inode's exclusive lock.
func (in *Inode) Lock() { in.mu.Lock() }

// Unlock releases the exclusive lock.
func (in *Inode) Unlock() { in.mu.Unlock() }

// RLock takes the inode's shared lock.
func (in *Inode) RLock() { in.mu.RLock() }

// RUnlock releases the shared lock.
func (in *Inode) RUnlock() { in.mu.RUnlock() }

// FindInDir returns the inumber bound to name. Caller holds at least the
// shared lock.
func (in *Inode) FindInDir(name string) (int, error) {
	if in.Type != TypeDirectory || name == "" {
		return -1, common.ErrNotFound
	}
	for _, e := range in.entries {
		if e.Name == name {
			return e.Inum, nil
		}
	}
	return -1, common.ErrNotFound
}

// AddDirEntry binds name to inum in the first free slot. Caller holds the
// exclusive lock.
func (in *Inode) AddDirEntry(name string, inum int) error {
	if in.Type != TypeDirectory {
		return common.ErrNotFound
	}
	if name == "" || len(name) >= common.MaxFileName {
		return common.ErrInvalidPath
	}
	for i := range in.entries {
		if in.entries[i].Name == "" {
			in.entries[i] = DirEntry{Name: name, Inum: inum}
			return nil
		}
	}
	return common.ErrNoSpace
}

// ClearDirEntry frees the slot holding name. Caller holds the exclusive lock.
func (in *Inode) ClearDirEntry(name string) error {
	if in.Type != TypeDirectory || name == "" {
		return common.ErrNotFound
	}
	for i := range in.entries {
		if in.entries[i].Name == name {
			in.entries[i] = DirEntry{Inum: -1}
			return nil
		}
	}
	return common.ErrNotFound
}

// Entries returns the populated directory slots in slot order.
func (in *Inode) Entries() []DirEntry {
	var out []DirEntry
	for _, e := range in.entries {
		if e.Name != "" {
			out = append(out, e)
		}
	}
	return out
}

// InodeTable is a fixed array of inodes with an allocation bitmap.
type InodeTable struct {
	mu         sync.Mutex
	inodes     []*Inode
	used       []bool
	dirEntries int
}

// NewInodeTable creates a table of count free inodes. Directories created
// from it get dirEntries slots.
func NewInodeTable(count, dirEntries int) *InodeTable {
	t := &InodeTable{
		inodes:     make([]*Inode, count),
		used:       make([]bool, count),
		dirEntries: dirEntries,
	}
	for i := range t.inodes {
		t.inodes[i] = &Inode{Block: NoBlock}
	}
	return t
}

// Create claims the first free inode and initializes it as typ with one link.
func (t *InodeTable) Create(typ InodeType) (int, error) {
	t.mu.Lock()
	inum := -1
	for i, used := range t.used {
		if !used {
			t.used[i] = true
			inum = i
			break
		}
	}
	t.mu.Unlock()
	if inum < 0 {
		return -1, common.ErrNoSpace
	}

	in := t.inodes[inum]
	in.Lock()
	in.Type = typ
	in.Size = 0
	in.Links = 1
	in.Block = NoBlock
	in.entries = nil
	if typ == TypeDirectory {
		in.entries = make([]DirEntry, t.dirEntries)
		for i := range in.entries {
			in.entries[i].Inum = -1
		}
	}
	in.Unlock()

	return inum, nil
}

// Get returns the inode for inum, or nil if out of range or free.
func (t *InodeTable) Get(inum int) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inum < 0 || inum >= len(t.inodes) || !t.used[inum] {
		return nil
	}
	return t.inodes[inum]
}

// Delete returns inum to the free pool and hands back its data block, if
// any, for the caller to free. It fails with ErrNotFound when another
// caller already deleted it and ErrInvalidPath for the root directory.
// The inode lock must not be held.
func (t *InodeTable) Delete(inum int) (BlockID, error) {
	if inum == RootInum {
		return NoBlock, fmt.Errorf("%w: root directory cannot be deleted", common.ErrInvalidPath)
	}
	if inum < 0 || inum >= len(t.inodes) {
		return NoBlock, common.ErrNotFound
	}
	in := t.inodes[inum]
	in.Lock()
	defer in.Unlock()
	return t.deleteLocked(inum, in)
}

// deleteLocked is Delete for a caller already holding in's exclusive lock.
func (t *InodeTable) deleteLocked(inum int, in *Inode) (BlockID, error) {
	if inum == RootInum {
		return NoBlock, fmt.Errorf("%w: root directory cannot be deleted", common.ErrInvalidPath)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.used[inum] {
		return NoBlock, common.ErrNotFound
	}
	t.used[inum] = false

	block := in.Block
	in.Block = NoBlock
	in.Size = 0
	in.Links = 0
	in.entries = nil
	return block, nil
}

// InUse returns the number of allocated inodes.
func (t *InodeTable) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, used := range t.used {
		if used {
			n++
		}
	}
	return n
}
