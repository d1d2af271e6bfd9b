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

// Package tfs implements a fixed-capacity, single-level filesystem over an
// in-memory block pool.
//
// Locking order, outermost first: open-file entry, root directory inode,
// any other inode, then the leaf locks of the inode table, block store and
// open-file table. Operations that look up a name and then change the root
// directory hold the root's exclusive lock for the whole sequence.
package tfs

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	log "github.com/sirupsen/logrus"

	"tfsbroker/internal/common"
)

// OpenMode is a bit set of open flags.
type OpenMode int

const (
	OCreate OpenMode = 1 << iota // create if absent
	OTrunc                       // drop existing content
	OAppend                      // start at end of file
)

// FS is one filesystem instance. Instances are independent.
type FS struct {
	params   Params
	blocks   *BlockStore
	inodes   *InodeTable
	files    *OpenFileTable
	external billy.Filesystem
	closed   atomic.Bool
}

// Option configures an FS.
type Option func(*FS)

// WithExternalFS sets the filesystem CopyFromExternal reads from. The
// default is the host filesystem.
func WithExternalFS(ext billy.Filesystem) Option {
	return func(fs *FS) {
		fs.external = ext
	}
}

// Stat describes an inode without following symlinks.
type Stat struct {
	Inum  int
	Type  InodeType
	Size  int
	Links int
}

// New initializes a filesystem sized by params and creates the root
// directory.
func New(params Params, opts ...Option) (*FS, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	fs := &FS{
		params:   params,
		blocks:   NewBlockStore(params.MaxBlockCount, params.BlockSize),
		inodes:   NewInodeTable(params.MaxInodeCount, params.MaxDirEntries()),
		files:    NewOpenFileTable(params.MaxOpenFilesCount),
		external: osfs.New("/"),
	}
	for _, opt := range opts {
		opt(fs)
	}

	root, err := fs.inodes.Create(TypeDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	if root != RootInum {
		return nil, fmt.Errorf("root directory landed at inode %d", root)
	}

	log.Debugf("[FS.New] inodes=%d blocks=%d open_files=%d block_size=%d",
		params.MaxInodeCount, params.MaxBlockCount, params.MaxOpenFilesCount, params.BlockSize)
	return fs, nil
}

// Destroy releases the instance. Every later call fails with ErrClosed.
func (fs *FS) Destroy() error {
	if !fs.closed.CompareAndSwap(false, true) {
		return common.ErrClosed
	}
	if n := fs.files.Clear(); n > 0 {
		log.Debugf("[FS.Destroy] dropped %d open handles", n)
	}
	return nil
}

// Params returns the sizing the instance was created with.
func (fs *FS) Params() Params {
	return fs.params
}

func (fs *FS) root() *Inode {
	return fs.inodes.Get(RootInum)
}

// lookup resolves path in the root directory. Caller holds the root lock.
func (fs *FS) lookup(root *Inode, path string) (int, error) {
	if !common.ValidPathname(path) {
		return -1, common.ErrInvalidPath
	}
	return root.FindInDir(common.EntryName(path))
}

// resolve follows symlinks from inum until it reaches a non-link inode.
// Caller holds the root lock.
func (fs *FS) resolve(root *Inode, inum int) (int, *Inode, error) {
	for hops := 0; hops <= fs.params.MaxInodeCount; hops++ {
		in := fs.inodes.Get(inum)
		if in == nil {
			return -1, nil, common.ErrNotFound
		}

		in.RLock()
		if in.Type != TypeSymlink {
			in.RUnlock()
			return inum, in, nil
		}
		block := fs.blocks.Get(in.Block)
		if block == nil {
			in.RUnlock()
			return -1, nil, common.ErrBlockGone
		}
		target := string(block[:in.Size])
		in.RUnlock()

		next, err := fs.lookup(root, target)
		if err != nil {
			return -1, nil, fmt.Errorf("dangling link to %s: %w", target, common.ErrNotFound)
		}
		inum = next
	}
	return -1, nil, fmt.Errorf("too many levels of links: %w", common.ErrNotFound)
}

// Open opens path and returns a handle. See OpenMode for flags.
func (fs *FS) Open(path string, mode OpenMode) (Handle, error) {
	if fs.closed.Load() {
		return -1, common.ErrClosed
	}
	if !common.ValidPathname(path) {
		return -1, common.ErrInvalidPath
	}

	root := fs.root()
	if mode&OCreate != 0 {
		root.Lock()
		defer root.Unlock()
	} else {
		root.RLock()
		defer root.RUnlock()
	}

	var offset int
	inum, err := fs.lookup(root, path)
	switch {
	case err == nil:
		if mode&OCreate != 0 && fs.typeOf(inum) == TypeSymlink {
			return -1, fmt.Errorf("open %s with create: %w", path, common.ErrIsSymlink)
		}

		var in *Inode
		inum, in, err = fs.resolve(root, inum)
		if err != nil {
			return -1, fmt.Errorf("open %s: %w", path, err)
		}

		in.Lock()
		if mode&OTrunc != 0 && in.Block != NoBlock {
			fs.blocks.Free(in.Block)
			in.Block = NoBlock
			in.Size = 0
		}
		if mode&OAppend != 0 {
			offset = in.Size
		}
		in.Unlock()

	case errors.Is(err, common.ErrNotFound) && mode&OCreate != 0:
		inum, err = fs.inodes.Create(TypeFile)
		if err != nil {
			return -1, fmt.Errorf("create %s: %w", path, err)
		}
		if err := root.AddDirEntry(common.EntryName(path), inum); err != nil {
			if _, derr := fs.inodes.Delete(inum); derr != nil {
				log.Warnf("[FS.Open] rollback of inode %d failed: %v", inum, derr)
			}
			return -1, fmt.Errorf("create %s: %w", path, err)
		}

	default:
		return -1, fmt.Errorf("open %s: %w", path, err)
	}

	// A file created above stays created if the table is full.
	h, err := fs.files.Add(inum, offset)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	return h, nil
}

func (fs *FS) typeOf(inum int) InodeType {
	in := fs.inodes.Get(inum)
	if in == nil {
		return TypeFile
	}
	in.RLock()
	defer in.RUnlock()
	return in.Type
}

// Close releases a handle.
func (fs *FS) Close(h Handle) error {
	if fs.closed.Load() {
		return common.ErrClosed
	}
	return fs.files.Remove(h)
}

// Write writes p at the handle's offset. The write is clamped to the space
// left in the file's single block; writing 0 bytes is not an error.
func (fs *FS) Write(h Handle, p []byte) (int, error) {
	if fs.closed.Load() {
		return -1, common.ErrClosed
	}
	f := fs.files.Get(h)
	if f == nil {
		return -1, common.ErrInvalidHandle
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	in := fs.inodes.Get(f.inum)
	if in == nil {
		return -1, common.ErrNotFound
	}
	in.Lock()
	defer in.Unlock()

	n := len(p)
	if room := fs.params.BlockSize - f.offset; n > room {
		n = max(room, 0)
	}
	if n == 0 {
		return 0, nil
	}

	if in.Block == NoBlock {
		b, err := fs.blocks.Alloc()
		if err != nil {
			return -1, err
		}
		in.Block = b
	}

	block := fs.blocks.Get(in.Block)
	if block == nil {
		return -1, common.ErrBlockGone
	}
	copy(block[f.offset:], p[:n])
	f.offset += n
	if f.offset > in.Size {
		in.Size = f.offset
	}
	return n, nil
}

// Read reads up to len(p) bytes from the handle's offset. 0 means end of
// file.
func (fs *FS) Read(h Handle, p []byte) (int, error) {
	if fs.closed.Load() {
		return -1, common.ErrClosed
	}
	f := fs.files.Get(h)
	if f == nil {
		return -1, common.ErrInvalidHandle
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	in := fs.inodes.Get(f.inum)
	if in == nil {
		return -1, common.ErrNotFound
	}
	in.RLock()
	defer in.RUnlock()

	n := min(in.Size-f.offset, len(p))
	if n <= 0 {
		return 0, nil
	}

	block := fs.blocks.Get(in.Block)
	if block == nil {
		return -1, common.ErrBlockGone
	}
	copy(p, block[f.offset:f.offset+n])
	f.offset += n
	return n, nil
}

// Link adds name as a hard link to target. Symlinks cannot be hard linked.
func (fs *FS) Link(target, name string) error {
	if fs.closed.Load() {
		return common.ErrClosed
	}
	if !common.ValidPathname(target) || !common.ValidPathname(name) {
		return common.ErrInvalidPath
	}

	root := fs.root()
	root.Lock()
	defer root.Unlock()

	inum, err := fs.lookup(root, target)
	if err != nil {
		return fmt.Errorf("link %s: %w", target, err)
	}
	if _, err := fs.lookup(root, name); err == nil {
		return fmt.Errorf("link %s: %w", name, common.ErrExists)
	}

	in := fs.inodes.Get(inum)
	if in == nil {
		return fmt.Errorf("link %s: %w", target, common.ErrNotFound)
	}
	in.Lock()
	defer in.Unlock()

	if in.Type == TypeSymlink {
		return fmt.Errorf("link %s: %w", target, common.ErrIsSymlink)
	}
	if err := root.AddDirEntry(common.EntryName(name), inum); err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}
	in.Links++
	return nil
}

// SymLink creates name as a symbolic link storing the path target, which
// must exist now but may disappear later.
func (fs *FS) SymLink(target, name string) error {
	if fs.closed.Load() {
		return common.ErrClosed
	}
	if !common.ValidPathname(target) || !common.ValidPathname(name) {
		return common.ErrInvalidPath
	}
	if len(target) > fs.params.BlockSize {
		return common.ErrTooLarge
	}

	root := fs.root()
	root.Lock()
	defer root.Unlock()

	if _, err := fs.lookup(root, target); err != nil {
		return fmt.Errorf("symlink to %s: %w", target, err)
	}
	if _, err := fs.lookup(root, name); err == nil {
		return fmt.Errorf("symlink %s: %w", name, common.ErrExists)
	}

	inum, err := fs.inodes.Create(TypeSymlink)
	if err != nil {
		return fmt.Errorf("symlink %s: %w", name, err)
	}
	b, err := fs.blocks.Alloc()
	if err != nil {
		fs.inodes.Delete(inum)
		return fmt.Errorf("symlink %s: %w", name, err)
	}

	in := fs.inodes.Get(inum)
	in.Lock()
	in.Block = b
	in.Size = copy(fs.blocks.Get(b), target)
	in.Unlock()

	if err := root.AddDirEntry(common.EntryName(name), inum); err != nil {
		if block, derr := fs.inodes.Delete(inum); derr == nil {
			fs.blocks.Free(block)
		}
		return fmt.Errorf("symlink %s: %w", name, err)
	}
	return nil
}

// Unlink removes name. The inode is reclaimed with its last link. Open
// files cannot be unlinked; symlinks are never open.
func (fs *FS) Unlink(name string) error {
	if fs.closed.Load() {
		return common.ErrClosed
	}

	root := fs.root()
	root.Lock()
	defer root.Unlock()

	inum, err := fs.lookup(root, name)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", name, err)
	}
	in := fs.inodes.Get(inum)
	if in == nil {
		return fmt.Errorf("unlink %s: %w", name, common.ErrNotFound)
	}
	in.Lock()
	defer in.Unlock()

	if in.Type != TypeSymlink && fs.files.IsOpen(inum) {
		return fmt.Errorf("unlink %s: %w", name, common.ErrIsOpen)
	}
	if err := root.ClearDirEntry(common.EntryName(name)); err != nil {
		return fmt.Errorf("unlink %s: %w", name, err)
	}

	in.Links--
	if in.Links > 0 {
		return nil
	}
	block, err := fs.inodes.deleteLocked(inum, in)
	if err != nil {
		return fmt.Errorf("unlink %s: %w", name, err)
	}
	fs.blocks.Free(block)
	return nil
}

// Stat describes path without following a final symlink.
func (fs *FS) Stat(path string) (Stat, error) {
	if fs.closed.Load() {
		return Stat{}, common.ErrClosed
	}

	root := fs.root()
	root.RLock()
	defer root.RUnlock()

	inum, err := fs.lookup(root, path)
	if err != nil {
		return Stat{}, err
	}
	in := fs.inodes.Get(inum)
	if in == nil {
		return Stat{}, common.ErrNotFound
	}
	in.RLock()
	defer in.RUnlock()
	return Stat{Inum: inum, Type: in.Type, Size: in.Size, Links: in.Links}, nil
}

// CopyFromExternal imports src from the external filesystem into dst,
// creating or truncating it. Sources larger than one block are rejected.
func (fs *FS) CopyFromExternal(src, dst string) error {
	if fs.closed.Load() {
		return common.ErrClosed
	}

	f, err := fs.external.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer f.Close()

	buf := make([]byte, fs.params.BlockSize+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read source %s: %w", src, err)
	}
	if n > fs.params.BlockSize {
		return fmt.Errorf("copy %s: %w", src, common.ErrTooLarge)
	}

	h, err := fs.Open(dst, OCreate|OTrunc)
	if err != nil {
		return err
	}
	if _, err := fs.Write(h, buf[:n]); err != nil {
		fs.Close(h)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return fs.Close(h)
}
