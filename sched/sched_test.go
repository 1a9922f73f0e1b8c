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
	"math"
	"math/rand"
	"testing"

	"o2/message"
	"o2/util"
)

// mkMsg builds a test message for an address with a payload marker.
func mkMsg(t *testing.T, addr string, mark int32) *message.Message {
	m, err := message.NewBuilder().AddInt32(mark).Finish(0, addr, false)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMonotonicity(t *testing.T) {
	q := New("test")
	// random insertion order, some equal timestamps
	times := []util.Time{3, 1, 2, 2, 5, 1, 4, 2}
	for i, ts := range times {
		q.Insert(ts, mkMsg(t, "/s/x", int32(i)))
	}
	var (
		lastT util.Time = -1
		lastI           = map[util.Time]int32{}
	)
	n := q.Tick(util.Time(math.Inf(1)), func(m *message.Message) {
		args, _ := m.Args()
		idx := args[0].(int32)
		if m.Timestamp != 0 {
			t.Fatal("scheduler must not rewrite timestamps")
		}
		// non-decreasing release order was recorded at insert time
		ts := times[idx]
		if ts < lastT {
			t.Fatalf("out of order: %v after %v", ts, lastT)
		}
		// insertion-order tiebreak within equal timestamps
		if prev, ok := lastI[ts]; ok && idx < prev {
			t.Fatalf("tiebreak violated at t=%v", ts)
		}
		lastI[ts] = idx
		lastT = ts
		message.Free(m)
	})
	if n != len(times) {
		t.Fatalf("released %d of %d", n, len(times))
	}
	if q.Len() != 0 {
		t.Fatal("(1)")
	}
}

func TestTickHorizon(t *testing.T) {
	q := New("test")
	q.Insert(1, mkMsg(t, "/s/a", 0))
	q.Insert(2, mkMsg(t, "/s/b", 1))
	q.Insert(3, mkMsg(t, "/s/c", 2))
	var got []string
	q.Tick(2, func(m *message.Message) {
		got = append(got, m.Address())
		message.Free(m)
	})
	if len(got) != 2 || got[0] != "/s/a" || got[1] != "/s/b" {
		t.Fatalf("released %v", got)
	}
	if due, ok := q.NextDue(); !ok || due != 3 {
		t.Fatal("(1)")
	}
}

func TestRemoveService(t *testing.T) {
	q := New("test")
	for i := 0; i < 20; i++ {
		addr := "/keep/x"
		if i%2 == 0 {
			addr = "/gone/x"
		}
		q.Insert(util.Time(rand.Float64()*10), mkMsg(t, addr, int32(i)))
	}
	if n := q.RemoveService("gone"); n != 10 {
		t.Fatalf("removed %d", n)
	}
	if q.Len() != 10 {
		t.Fatal("(1)")
	}
	// only survivors drain
	q.Tick(util.Time(math.Inf(1)), func(m *message.Message) {
		if m.Address() != "/keep/x" {
			t.Fatal("(2)")
		}
		message.Free(m)
	})
}
