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
	"sync"
)

//----------------------------------------------------------------------
// Message store:
// Messages are pooled to keep the dispatch path allocation-free in
// steady state. Ownership is singular and transfers by enqueue/send;
// whoever drops a message returns it with Free (or FreeList for a
// chain). There is no reference counting.
//----------------------------------------------------------------------

// DefaultReserve is the payload reserve of a pooled message buffer.
const DefaultReserve = 240

var pool = sync.Pool{
	New: func() any {
		return &Message{
			Data: make([]byte, 0, DefaultReserve),
		}
	},
}

// Alloc returns an empty message whose buffer holds at least size
// bytes without growing.
func Alloc(size int) (m *Message) {
	m = pool.Get().(*Message)
	if cap(m.Data) < size {
		m.Data = make([]byte, 0, size)
	}
	return
}

// Free returns a message to the pool. The buffer is retained for
// reuse; links and flags are cleared.
func Free(m *Message) {
	if m == nil {
		return
	}
	m.Next = nil
	m.TCP = false
	m.Timestamp = 0
	m.Data = m.Data[:0]
	pool.Put(m)
}

// FreeList releases a chain of messages linked through Next.
func FreeList(head *Message) {
	for head != nil {
		next := head.Next
		Free(head)
		head = next
	}
}
