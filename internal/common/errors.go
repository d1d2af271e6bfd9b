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

package common

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrNoSpace       = errors.New("no space left")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrIsOpen        = errors.New("file is open")
	ErrIsSymlink     = errors.New("is a symbolic link")
	ErrTooLarge      = errors.New("file too large")
	ErrBlockGone     = errors.New("data block vanished")
	ErrBoxBusy       = errors.New("box already has a publisher")
	ErrClosed        = errors.New("closed")
)
