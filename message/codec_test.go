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
	"reflect"
	"testing"

	"o2/util"
)

func TestBuilderRoundTrip(t *testing.T) {
	in := []any{
		int32(60), float32(0.5), int64(1 << 40), 3.14159,
		"hello", Symbol("sym"), []byte{1, 2, 3, 4, 5},
		true, false, nil, util.Time(2.5),
		[]any{int32(1), []any{int32(2)}, "deep"},
	}
	m, err := NewBuilder().Add(in...).Finish(0, "/synth/note", false)
	if err != nil {
		t.Fatal(err)
	}
	if m.Address() != "/synth/note" {
		t.Fatal("(1)")
	}
	if m.Types() != "ifhdsSbBBNt[i[i]s]" {
		t.Fatalf("types: %s", m.Types())
	}
	out, err := m.Args()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("args mismatch:\n in:  %#v\n out: %#v", in, out)
	}
}

func TestWireRoundTrip(t *testing.T) {
	m, err := NewBuilder().
		AddInt32(60).AddFloat(0.5).AddString("note").AddBlob([]byte{9, 8, 7}).
		Finish(1.25, "/synth/play", true)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if back.Timestamp != m.Timestamp {
		t.Fatal("(1)")
	}
	if !bytes.Equal(back.Data, m.Data) {
		t.Fatal("(2)")
	}
}

func TestSwapEndianKnownBytes(t *testing.T) {
	m, err := NewBuilder().AddInt32(0x01020304).Finish(0, "/s/x", false)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// payload is the last 4 bytes: big-endian on the wire
	pay := wire[len(wire)-4:]
	if !bytes.Equal(pay, []byte{1, 2, 3, 4}) {
		t.Fatalf("wire payload %v", pay)
	}
	// address and type tag are padded to 4-byte boundaries
	if !bytes.Equal(wire[8:12], []byte{'/', 's', '/', 'x'}) {
		t.Fatal("(1)")
	}
	if wire[12] != 0 {
		t.Fatal("(2)")
	}
}

func TestSwapEndianMalformed(t *testing.T) {
	// type tag claims an int32 but the payload is empty
	body := util.AppendPadded(nil, "/s/x")
	body = util.AppendPadded(body, ",i")
	flat := make([]byte, 8)
	flat = append(flat, body...)
	if err := SwapEndian(flat, true); err != ErrMalformed {
		t.Fatalf("got %v", err)
	}
}

func TestDecodeArgsMalformed(t *testing.T) {
	if _, err := DecodeArgs("if", []byte{0, 0, 0, 1}); err != ErrMalformed {
		t.Fatalf("got %v", err)
	}
	if _, err := DecodeArgs("i]", []byte{0, 0, 0, 1}); err != ErrMalformed {
		t.Fatalf("got %v", err)
	}
}

func TestBundle(t *testing.T) {
	a, _ := NewBuilder().AddInt32(1).Finish(0, "/remote/a", false)
	b, _ := NewBuilder().AddInt32(2).Finish(0.5, "/remote/b", false)
	lenA := 8 + len(a.Data)
	lenB := 8 + len(b.Data)
	bundle := NewBundle().AddMessage(a).AddMessage(b).Finish(2.0, false)
	if !bundle.IsBundle() {
		t.Fatal("(1)")
	}
	// framing: marker + records with 4-byte length prefixes
	want := util.PaddedLen(len(BundleAddr)) + (4 + lenA) + (4 + lenB)
	if len(bundle.Data) != want {
		t.Fatalf("bundle size %d, want %d", len(bundle.Data), want)
	}
	head, err := bundle.Embedded()
	if err != nil {
		t.Fatal(err)
	}
	if head == nil || head.Next == nil || head.Next.Next != nil {
		t.Fatal("(2)")
	}
	if head.Address() != "/remote/a" || head.Next.Address() != "/remote/b" {
		t.Fatal("(3)")
	}
	// embedded timestamps are clamped to the bundle timestamp
	if head.Timestamp != 2.0 || head.Next.Timestamp != 2.0 {
		t.Fatal("(4)")
	}
}

func TestBundleWireRoundTrip(t *testing.T) {
	a, _ := NewBuilder().AddInt32(1).AddDouble(1.5).Finish(0, "/svc/a", false)
	bundle := NewBundle().AddMessage(a).Finish(3.0, true)
	wire, err := bundle.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if !back.IsBundle() || back.Timestamp != 3.0 {
		t.Fatal("(1)")
	}
	head, err := back.Embedded()
	if err != nil {
		t.Fatal(err)
	}
	args, err := head.Args()
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(int32) != 1 || args[1].(float64) != 1.5 {
		t.Fatal("(2)")
	}
}

func TestRetarget(t *testing.T) {
	m, _ := NewBuilder().AddInt32(7).Finish(0, "/A/x", false)
	c, err := m.Retarget("log")
	if err != nil {
		t.Fatal(err)
	}
	if c.Address() != "/log/x" {
		t.Fatalf("address %s", c.Address())
	}
	args, err := c.Args()
	if err != nil || args[0].(int32) != 7 {
		t.Fatal("(1)")
	}
}

func TestFreeList(t *testing.T) {
	a := Alloc(16)
	b := Alloc(16)
	a.Next = b
	FreeList(a)
	// pooled messages come back empty
	c := Alloc(8)
	if len(c.Data) != 0 || c.Next != nil {
		t.Fatal("(1)")
	}
}
