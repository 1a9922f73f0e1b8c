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

package clock

import (
	"math"
	"testing"

	"o2/util"
)

func TestUnsyncedSentinel(t *testing.T) {
	c := New()
	if c.Synced() {
		t.Fatal("(1)")
	}
	if got := c.LocalToGlobal(1.0); got != util.TimeUnsynced {
		t.Fatalf("got %v", got)
	}
	if _, err := c.GlobalNow(); err != ErrUnsynced {
		t.Fatalf("got %v", err)
	}
}

func TestMapping(t *testing.T) {
	c := New()
	// "global 100 corresponds to local 2"
	c.SetGlobal(100, 2)
	if !c.Synced() {
		t.Fatal("(1)")
	}
	if got := c.LocalToGlobal(2); got != 100 {
		t.Fatalf("got %v", got)
	}
	// monotone: later local times map to later global times
	if c.LocalToGlobal(3) <= c.LocalToGlobal(2) {
		t.Fatal("(2)")
	}
	g, err := c.GlobalNow()
	if err != nil || g < 98 {
		t.Fatalf("global now %v (%v)", g, err)
	}
}

func TestReference(t *testing.T) {
	c := New()
	c.SetReference()
	if got := c.LocalToGlobal(5); got != 5 {
		t.Fatalf("got %v", got)
	}
}

func TestOscFixedPoint(t *testing.T) {
	c := New()
	// round trip without offset
	for _, v := range []util.Time{0, 0.5, 1.25, 1000.125} {
		raw := c.TimeToOsc(v)
		back := c.TimeFromOsc(raw)
		if math.Abs(float64(back-v)) > 1e-6 {
			t.Fatalf("round trip %v -> %v", v, back)
		}
	}
	// fixed-point layout: integer seconds in the high 32 bits
	if c.TimeToOsc(2.5) != (2<<32)|(1<<31) {
		t.Fatalf("layout: %x", c.TimeToOsc(2.5))
	}
}

func TestOscTimeOffset(t *testing.T) {
	c := New()
	if old := c.OscTimeOffset(1 << 32); old != 0 {
		t.Fatal("(1)")
	}
	if old := c.OscTimeOffset(1 << 32); old != 1<<32 {
		t.Fatal("(2)")
	}
	// offset shifts the wire value, not the internal time
	if c.TimeToOsc(1) != (1<<32)+(1<<32) {
		t.Fatalf("got %x", c.TimeToOsc(1))
	}
	if c.TimeFromOsc((1<<32)+(1<<32)) != 1 {
		t.Fatal("(3)")
	}
}
