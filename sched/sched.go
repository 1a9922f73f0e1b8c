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

package sched

import (
	"container/heap"

	"o2/message"
	"o2/util"
)

//----------------------------------------------------------------------
// Scheduler:
// Holds pending messages ordered by timestamp; ties break by
// insertion order. Two instances exist per process: one keyed to
// global time (network-scheduled delivery) and one keyed to local
// time (internal maintenance like the discovery sweep). Messages are
// not individually cancelable; deleting a service removes its pending
// messages.
//----------------------------------------------------------------------

// item is a pending queue entry.
type item struct {
	msg *message.Message
	t   util.Time
	seq uint64 // insertion order tiebreak
}

// itemHeap implements heap.Interface ordered by (t, seq).
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].t != h[j].t {
		return h[i].t < h[j].t
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a timestamp-ordered release queue.
type Queue struct {
	label string
	h     itemHeap
	seq   uint64
}

// New creates an empty queue; the label shows up in diagnostics.
func New(label string) *Queue {
	return &Queue{
		label: label,
		h:     make(itemHeap, 0, 16),
	}
}

// Label returns the queue label.
func (q *Queue) Label() string {
	return q.label
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	return len(q.h)
}

// Insert adds a message to be released at time t.
func (q *Queue) Insert(t util.Time, msg *message.Message) {
	q.seq++
	heap.Push(&q.h, &item{msg: msg, t: t, seq: q.seq})
}

// NextDue returns the timestamp of the earliest pending message.
func (q *Queue) NextDue() (util.Time, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].t, true
}

// Tick drains all messages due at or before now, in non-decreasing
// timestamp order with insertion-order tiebreak, handing each to the
// deliver function. Ownership of delivered messages transfers to the
// callee.
func (q *Queue) Tick(now util.Time, deliver func(*message.Message)) (n int) {
	for len(q.h) > 0 && q.h[0].t <= now {
		it := heap.Pop(&q.h).(*item)
		deliver(it.msg)
		n++
	}
	return
}

// RemoveService drops all pending messages addressed at the given
// service and returns how many were removed.
func (q *Queue) RemoveService(name string) (n int) {
	keep := make(itemHeap, 0, len(q.h))
	for _, it := range q.h {
		svc, _, ok := util.ServiceOf(it.msg.Address())
		if ok && svc == name {
			message.Free(it.msg)
			n++
			continue
		}
		keep = append(keep, it)
	}
	if n > 0 {
		q.h = keep
		heap.Init(&q.h)
	}
	return
}
