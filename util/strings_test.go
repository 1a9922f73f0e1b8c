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

package util

import (
	"bytes"
	"testing"
)

func TestPaddedLen(t *testing.T) {
	// a string always gets a terminator, so the padded size is
	// strictly greater than the length
	cases := [][2]int{
		{0, 4}, {1, 4}, {2, 4}, {3, 4}, {4, 8}, {7, 8}, {8, 12},
	}
	for _, c := range cases {
		if got := PaddedLen(c[0]); got != c[1] {
			t.Fatalf("PaddedLen(%d) = %d, want %d", c[0], got, c[1])
		}
	}
}

func TestPaddedRoundTrip(t *testing.T) {
	for _, s := range []string{"", "x", "abc", "abcd", "#bundle"} {
		buf := AppendPadded(nil, s)
		if len(buf)%4 != 0 {
			t.Fatal("(1)")
		}
		got, next, err := ParsePadded(buf, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got != s || next != len(buf) {
			t.Fatalf("round trip '%s' -> '%s' (%d/%d)", s, got, next, len(buf))
		}
	}
}

func TestParsePaddedUnterminated(t *testing.T) {
	if _, _, err := ParsePadded([]byte("abcd"), 0); err == nil {
		t.Fatal("unterminated string accepted")
	}
}

func TestServiceOf(t *testing.T) {
	svc, rest, ok := ServiceOf("/synth/note")
	if !ok || svc != "synth" || rest != "note" {
		t.Fatal("(1)")
	}
	svc, rest, ok = ServiceOf("/synth")
	if !ok || svc != "synth" || rest != "" {
		t.Fatal("(2)")
	}
	if _, _, ok = ServiceOf("synth/note"); ok {
		t.Fatal("(3)")
	}
	if _, _, ok = ServiceOf("//x"); ok {
		t.Fatal("(4)")
	}
}

func TestCheckServiceName(t *testing.T) {
	if !CheckServiceName("synth") {
		t.Fatal("(1)")
	}
	if CheckServiceName("") {
		t.Fatal("(2)")
	}
	if CheckServiceName("a/b") {
		t.Fatal("(3)")
	}
	if CheckServiceName(string(bytes.Repeat([]byte{'x'}, MaxNodeNameLen+1))) {
		t.Fatal("(4)")
	}
}

func TestProcName(t *testing.T) {
	name := ProcName("192.168.1.10", 55765)
	if name != "192.168.1.10:55765" {
		t.Fatal("(1)")
	}
	ip, port, err := SplitProcName(name)
	if err != nil || ip != "192.168.1.10" || port != 55765 {
		t.Fatal("(2)")
	}
	if _, _, err = SplitProcName("no-port"); err == nil {
		t.Fatal("(3)")
	}
}
