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

package tfs

import "fmt"

// Params bounds every fixed-size table of a filesystem instance.
type Params struct {
	MaxInodeCount     int `yaml:"max_inode_count"`
	MaxBlockCount     int `yaml:"max_block_count"`
	MaxOpenFilesCount int `yaml:"max_open_files_count"`
	BlockSize         int `yaml:"block_size"`
}

// DefaultParams returns {64, 1024, 16, 1024}.
func DefaultParams() Params {
	return Params{
		MaxInodeCount:     64,
		MaxBlockCount:     1024,
		MaxOpenFilesCount: 16,
		BlockSize:         1024,
	}
}

// ApplyDefaults fills zero-value fields with their defaults.
func (p *Params) ApplyDefaults() {
	d := DefaultParams()
	if p.MaxInodeCount == 0 {
		p.MaxInodeCount = d.MaxInodeCount
	}
	if p.MaxBlockCount == 0 {
		p.MaxBlockCount = d.MaxBlockCount
	}
	if p.MaxOpenFilesCount == 0 {
		p.MaxOpenFilesCount = d.MaxOpenFilesCount
	}
	if p.BlockSize == 0 {
		p.BlockSize = d.BlockSize
	}
}

// Validate rejects params that cannot hold a root directory.
func (p Params) Validate() error {
	if p.MaxInodeCount < 1 {
		return fmt.Errorf("max_inode_count must be positive, got %d", p.MaxInodeCount)
	}
	if p.MaxBlockCount < 1 {
		return fmt.Errorf("max_block_count must be positive, got %d", p.MaxBlockCount)
	}
	if p.MaxOpenFilesCount < 1 {
		return fmt.Errorf("max_open_files_count must be positive, got %d", p.MaxOpenFilesCount)
	}
	if p.BlockSize < dirEntrySize {
		return fmt.Errorf("block_size must be at least %d, got %d", dirEntrySize, p.BlockSize)
	}
	return nil
}

// MaxDirEntries is the number of entries that fit in one directory block.
func (p Params) MaxDirEntries() int {
	return p.BlockSize / dirEntrySize
}
