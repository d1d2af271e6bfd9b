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

// Package protocol defines the fixed-layout records exchanged between the
// broker and its clients over named pipes.
//
// Every record is written with a single write call and is smaller than
// PIPE_BUF, so concurrent writers to one pipe never interleave records.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Field sizes, terminator included.
const (
	PipeNameLength     = 256
	BoxNameLength      = 32
	MessageLength      = 1024
	ErrorMessageLength = 1024
)

// OpCode identifies a record.
type OpCode uint8

const (
	OpRegisterPublisher  OpCode = 1
	OpRegisterSubscriber OpCode = 2
	OpCreateBox          OpCode = 3
	OpCreateBoxReply     OpCode = 4
	OpDeleteBox          OpCode = 5
	OpDeleteBoxReply     OpCode = 6
	OpListBoxes          OpCode = 7
	OpListBoxesReply     OpCode = 8
	OpPublish            OpCode = 9
	OpSubscriberMessage  OpCode = 10
)

func (op OpCode) String() string {
	switch op {
	case OpRegisterPublisher:
		return "register_publisher"
	case OpRegisterSubscriber:
		return "register_subscriber"
	case OpCreateBox:
		return "create_box"
	case OpCreateBoxReply:
		return "create_box_reply"
	case OpDeleteBox:
		return "delete_box"
	case OpDeleteBoxReply:
		return "delete_box_reply"
	case OpListBoxes:
		return "list_boxes"
	case OpListBoxesReply:
		return "list_boxes_reply"
	case OpPublish:
		return "publish"
	case OpSubscriberMessage:
		return "subscriber_message"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// ErrFieldTooLong is returned when a string does not fit its fixed field.
var ErrFieldTooLong = errors.New("field too long")

// ErrUnexpectedOp is returned when a record carries the wrong op code.
var ErrUnexpectedOp = errors.New("unexpected op code")

// Registration asks the broker to start a session.
type Registration struct {
	Op       OpCode
	PipeName string
	BoxName  string
}

type registrationWire struct {
	Op       uint8
	PipeName [PipeNameLength]byte
	BoxName  [BoxNameLength]byte
}

// Message carries one published or delivered message.
type Message struct {
	Op   OpCode
	Text string
}

type messageWire struct {
	Op   uint8
	Text [MessageLength]byte
}

// ManagerReply answers a create or delete request. ReturnCode is 0 on
// success and -1 on failure.
type ManagerReply struct {
	Op         OpCode
	ReturnCode int32
	Error      string
}

type managerReplyWire struct {
	Op         uint8
	ReturnCode int32
	Error      [ErrorMessageLength]byte
}

// ListEntry describes one box in a list reply.
type ListEntry struct {
	Last        bool
	BoxName     string
	Size        uint64
	Publishers  uint64
	Subscribers uint64
}

type listEntryWire struct {
	Op          uint8
	Last        uint8
	BoxName     [BoxNameLength]byte
	Size        uint64
	Publishers  uint64
	Subscribers uint64
}

func putString(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFieldTooLong, len(s), len(dst)-1)
	}
	copy(dst, s)
	return nil
}

func getString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

func writeRecord(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return err
	}
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return err
	}
	if n != buf.Len() {
		return io.ErrShortWrite
	}
	return nil
}

// readRecord fills v from exactly one record. A clean end of stream is
// io.EOF; a truncated record is io.ErrUnexpectedEOF.
func readRecord(r io.Reader, v any) error {
	buf := make([]byte, binary.Size(v))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// WriteRegistration encodes reg to w.
func WriteRegistration(w io.Writer, reg Registration) error {
	wire := registrationWire{Op: uint8(reg.Op)}
	if err := putString(wire.PipeName[:], reg.PipeName); err != nil {
		return fmt.Errorf("pipe name: %w", err)
	}
	if err := putString(wire.BoxName[:], reg.BoxName); err != nil {
		return fmt.Errorf("box name: %w", err)
	}
	return writeRecord(w, &wire)
}

// ReadRegistration decodes one registration record.
func ReadRegistration(r io.Reader) (Registration, error) {
	var wire registrationWire
	if err := readRecord(r, &wire); err != nil {
		return Registration{}, err
	}
	return Registration{
		Op:       OpCode(wire.Op),
		PipeName: getString(wire.PipeName[:]),
		BoxName:  getString(wire.BoxName[:]),
	}, nil
}

// WriteMessage encodes msg to w.
func WriteMessage(w io.Writer, msg Message) error {
	wire := messageWire{Op: uint8(msg.Op)}
	if err := putString(wire.Text[:], msg.Text); err != nil {
		return fmt.Errorf("message: %w", err)
	}
	return writeRecord(w, &wire)
}

// ReadMessage decodes one message record and checks its op code.
func ReadMessage(r io.Reader, want OpCode) (Message, error) {
	var wire messageWire
	if err := readRecord(r, &wire); err != nil {
		return Message{}, err
	}
	if OpCode(wire.Op) != want {
		return Message{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedOp, OpCode(wire.Op), want)
	}
	return Message{Op: want, Text: getString(wire.Text[:])}, nil
}

// WriteManagerReply encodes reply to w. Overlong error text is truncated.
func WriteManagerReply(w io.Writer, reply ManagerReply) error {
	wire := managerReplyWire{Op: uint8(reply.Op), ReturnCode: reply.ReturnCode}
	text := reply.Error
	if len(text) >= ErrorMessageLength {
		text = text[:ErrorMessageLength-1]
	}
	copy(wire.Error[:], text)
	return writeRecord(w, &wire)
}

// ReadManagerReply decodes one manager reply.
func ReadManagerReply(r io.Reader) (ManagerReply, error) {
	var wire managerReplyWire
	if err := readRecord(r, &wire); err != nil {
		return ManagerReply{}, err
	}
	return ManagerReply{
		Op:         OpCode(wire.Op),
		ReturnCode: wire.ReturnCode,
		Error:      getString(wire.Error[:]),
	}, nil
}

// WriteListEntry encodes one list reply record.
func WriteListEntry(w io.Writer, e ListEntry) error {
	wire := listEntryWire{
		Op:          uint8(OpListBoxesReply),
		Size:        e.Size,
		Publishers:  e.Publishers,
		Subscribers: e.Subscribers,
	}
	if e.Last {
		wire.Last = 1
	}
	if err := putString(wire.BoxName[:], e.BoxName); err != nil {
		return fmt.Errorf("box name: %w", err)
	}
	return writeRecord(w, &wire)
}

// ReadListEntry decodes one list reply record.
func ReadListEntry(r io.Reader) (ListEntry, error) {
	var wire listEntryWire
	if err := readRecord(r, &wire); err != nil {
		return ListEntry{}, err
	}
	if OpCode(wire.Op) != OpListBoxesReply {
		return ListEntry{}, fmt.Errorf("%w: got %s", ErrUnexpectedOp, OpCode(wire.Op))
	}
	return ListEntry{
		Last:        wire.Last == 1,
		BoxName:     getString(wire.BoxName[:]),
		Size:        wire.Size,
		Publishers:  wire.Publishers,
		Subscribers: wire.Subscribers,
	}, nil
}
