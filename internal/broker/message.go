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
	"bytes"
	"fmt"
	"io"

	"tfsbroker/internal/tfs"
)

// Box files hold NUL-terminated messages back to back.

// WriteMessage appends text and its terminator at the handle's offset.
// It returns the bytes written including the terminator. A write that
// does not fit completely is an error; the caller must not count it.
func WriteMessage(fs *tfs.FS, h tfs.Handle, text string) (int, error) {
	if bytes.IndexByte([]byte(text), 0) >= 0 {
		return 0, fmt.Errorf("message contains a NUL byte")
	}
	buf := make([]byte, len(text)+1)
	copy(buf, text)

	n, err := fs.Write(h, buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("box is full: wrote %d of %d bytes", n, len(buf))
	}
	return n, nil
}

// ReadMessage reads one message starting at the handle's offset. It
// returns the text and the bytes consumed including the terminator. At
// end of file it returns io.EOF; a message cut short by the end of file
// is io.ErrUnexpectedEOF.
func ReadMessage(fs *tfs.FS, h tfs.Handle) (string, int, error) {
	var (
		text []byte
		one  = make([]byte, 1)
	)
	for {
		n, err := fs.Read(h, one)
		if err != nil {
			return "", 0, err
		}
		if n == 0 {
			if len(text) == 0 {
				return "", 0, io.EOF
			}
			return "", 0, fmt.Errorf("unterminated message: %w", io.ErrUnexpectedEOF)
		}
		if one[0] == 0 {
			return string(text), len(text) + 1, nil
		}
		text = append(text, one[0])
	}
}
