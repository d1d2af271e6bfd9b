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

package util

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MakeFifo creates a named pipe at path. An existing FIFO is reused; any
// other file at path is an error.
func MakeFifo(path string, mode uint32) error {
	err := unix.Mkfifo(path, mode)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return &os.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	ok, serr := IsFifo(path)
	if serr != nil {
		return serr
	}
	if !ok {
		return fmt.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}

// IsFifo reports whether path is a named pipe.
func IsFifo(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeNamedPipe != 0, nil
}

// RemoveFifo deletes the named pipe at path. A missing path is not an
// error.
func RemoveFifo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
