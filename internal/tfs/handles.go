package tfs

import (
	"sync"

	"tfsbroker/internal/common"
)

// Handle identifies one open-file session.
type Handle int

// openFile is one open-file table entry. mu serializes operations issued
// through the same handle and guards offset.
type openFile struct {
	mu     sync.Mutex
	inum   int
	offset int
}

// OpenFileTable is a bounded table of open files. Free slots are nil.
type OpenFileTable struct {
	mu      sync.Mutex
	entries []*openFile
}

// NewOpenFileTable creates a table with room for max handles.
func NewOpenFileTable(max int) *OpenFileTable {
	return &OpenFileTable{entries: make([]*openFile, max)}
}

// Add allocates a handle for inum starting at offset.
func (t *OpenFileTable) Add(inum, offset int) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e == nil {
			t.entries[i] = &openFile{inum: inum, offset: offset}
			return Handle(i), nil
		}
	}
	return -1, common.ErrNoSpace
}

// Get retrieves an entry, or nil if h is not open.
func (t *OpenFileTable) Get(h Handle) *openFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h < 0 || int(h) >= len(t.entries) {
		return nil
	}
	return t.entries[h]
}

// Remove frees a handle.
func (t *OpenFileTable) Remove(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h < 0 || int(h) >= len(t.entries) || t.entries[h] == nil {
		return common.ErrInvalidHandle
	}
	t.entries[h] = nil
	return nil
}

// IsOpen reports whether any handle references inum.
func (t *OpenFileTable) IsOpen(inum int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e != nil && e.inum == inum {
			return true
		}
	}
	return false
}

// Count returns the number of open handles.
func (t *OpenFileTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e != nil {
			n++
		}
	}
	return n
}

// Clear removes all handles, returning the count of handles cleared
func (t *OpenFileTable) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i, e := range t.entries {
		if e != nil {
			n++
			t.entries[i] = nil
		}
	}
	return n
}
