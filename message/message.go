// This file is part of o2-go, an implementation of the O2 protocol in Golang.
// Copyright (C) 2023-2026 Bernd Fix  >Y<
//
// o2-go is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// o2-go is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package message

import (
	"bytes"
	"errors"
	"fmt"

	"o2/util"
)

// Message-related error codes
var (
	ErrMalformed  = errors.New("malformed message")
	ErrBadAddress = errors.New("bad address")
	ErrBadType    = errors.New("unsupported argument type")
)

// BundleAddr is the literal marker of a bundle (the terminating zero
// makes it exactly 8 bytes on the wire).
const BundleAddr = "#bundle"

//----------------------------------------------------------------------
// Message:
// The in-memory unit of the dispatch path. 'Data' is the flat body in
// the wire layout (padded address, padded type tag with leading ',',
// argument payload) but in HOST byte order; conversion to network
// order happens on encode/decode. For bundles, 'Data' holds the
// "#bundle" marker followed by (length, embedded flat message)
// records. Endian state is implicit in where the message resides.
//----------------------------------------------------------------------

// Message is an O2 message or bundle.
type Message struct {
	Next      *Message  // chaining in scheduler and send queues
	TCP       bool      // prefer reliable stream transport
	Timestamp util.Time // delivery time in global time (0 = immediate)
	Data      []byte    // flat body in host order
}

// Address returns the destination address of the message (or "#bundle").
func (m *Message) Address() string {
	s, _, err := util.ParsePadded(m.Data, 0)
	if err != nil {
		return ""
	}
	return s
}

// IsBundle returns true if the message is a bundle.
func (m *Message) IsBundle() bool {
	return bytes.HasPrefix(m.Data, []byte(BundleAddr)) &&
		len(m.Data) > len(BundleAddr) && m.Data[len(BundleAddr)] == 0
}

// Types returns the type tag of the message without the leading comma.
func (m *Message) Types() string {
	_, pos, err := util.ParsePadded(m.Data, 0)
	if err != nil {
		return ""
	}
	tag, _, err := util.ParsePadded(m.Data, pos)
	if err != nil || len(tag) == 0 || tag[0] != ',' {
		return ""
	}
	return tag[1:]
}

// Payload returns the raw argument bytes after address and type tag.
func (m *Message) Payload() []byte {
	_, pos, err := util.ParsePadded(m.Data, 0)
	if err != nil {
		return nil
	}
	_, pos, err = util.ParsePadded(m.Data, pos)
	if err != nil {
		return nil
	}
	return m.Data[pos:]
}

// Args decodes the message arguments according to its type tag.
func (m *Message) Args() ([]any, error) {
	return DecodeArgs(m.Types(), m.Payload())
}

// Retarget returns a copy of the message with the service part of the
// address replaced (used when fanning out to taps).
func (m *Message) Retarget(service string) (*Message, error) {
	_, rest, ok := util.ServiceOf(m.Address())
	if !ok {
		return nil, ErrBadAddress
	}
	addr := "/" + service
	if len(rest) > 0 {
		addr += "/" + rest
	}
	_, pos, err := util.ParsePadded(m.Data, 0)
	if err != nil {
		return nil, ErrMalformed
	}
	data := util.AppendPadded(nil, addr)
	data = append(data, m.Data[pos:]...)
	c := Alloc(len(data))
	c.TCP = m.TCP
	c.Timestamp = m.Timestamp
	c.Data = append(c.Data, data...)
	return c, nil
}

// Clone returns a deep copy of the message (Next is not copied).
func (m *Message) Clone() *Message {
	c := Alloc(len(m.Data))
	c.TCP = m.TCP
	c.Timestamp = m.Timestamp
	c.Data = append(c.Data, m.Data...)
	return c
}

// String returns the message in human-readable form.
func (m *Message) String() string {
	if m.IsBundle() {
		return fmt.Sprintf("Bundle{t=%s,%d bytes}", m.Timestamp, len(m.Data))
	}
	return fmt.Sprintf("Message{t=%s,%s,%s}", m.Timestamp, m.Address(), m.Types())
}

//----------------------------------------------------------------------
// Bundle traversal
//----------------------------------------------------------------------

// Embedded returns the list of messages contained in a bundle, chained
// through their Next pointers. The embedded timestamps are clamped to
// be no earlier than the bundle's own timestamp.
func (m *Message) Embedded() (head *Message, err error) {
	if !m.IsBundle() {
		return nil, ErrMalformed
	}
	pos := util.PaddedLen(len(BundleAddr))
	var last *Message
	for pos < len(m.Data) {
		if pos+4 > len(m.Data) {
			FreeList(head)
			return nil, ErrMalformed
		}
		size := int(hostOrder.Uint32(m.Data[pos:]))
		pos += 4
		if size < 8 || pos+size > len(m.Data) {
			FreeList(head)
			return nil, ErrMalformed
		}
		var sub *Message
		if sub, err = Unflatten(m.Data[pos : pos+size]); err != nil {
			FreeList(head)
			return nil, err
		}
		sub.TCP = m.TCP
		if sub.Timestamp < m.Timestamp {
			sub.Timestamp = m.Timestamp
		}
		if last == nil {
			head = sub
		} else {
			last.Next = sub
		}
		last = sub
		pos += size
	}
	return
}
