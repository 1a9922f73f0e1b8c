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

package osc

import (
	"bytes"
	"math"
	"net"
	"testing"
	"time"

	"o2/clock"
	"o2/message"
	"o2/transport"
	"o2/util"

	"github.com/bfix/gospel/data"
)

// oscMsg builds raw OSC wire bytes: padded address, padded type tag,
// big-endian payload.
func oscMsg(addr, tag string, payload []byte) []byte {
	out := util.AppendPadded(nil, addr)
	out = util.AppendPadded(out, tag)
	return append(out, payload...)
}

func newBridge() *Bridge {
	return New(clock.New(), transport.New(1024))
}

func TestInboundMessage(t *testing.T) {
	b := newBridge()
	// "/note if 60 0.5" as it would arrive from an OSC sender
	payload := []byte{0, 0, 0, 60, 0x3f, 0, 0, 0}
	m, err := b.ToO2(oscMsg("/note", ",if", payload), "synth", false)
	if err != nil {
		t.Fatal(err)
	}
	if m.Address() != "/synth/note" {
		t.Fatalf("address %s", m.Address())
	}
	if m.Timestamp != util.TimeImmediate {
		t.Fatal("(1)")
	}
	args, err := m.Args()
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(int32) != 60 || args[1].(float32) != 0.5 {
		t.Fatalf("args %v", args)
	}
}

func TestInboundBundle(t *testing.T) {
	b := newBridge()
	sub := oscMsg("/note", ",i", []byte{0, 0, 0, 7})
	raw := util.AppendPadded(nil, "#bundle")
	bh, _ := data.Marshal(&BundleHead{TimeTag: (2 << 32) | (1 << 31)}) // t = 2.5
	raw = append(raw, bh...)
	rh, _ := data.Marshal(&RecordHead{Size: uint32(len(sub))})
	raw = append(raw, rh...)
	raw = append(raw, sub...)
	m, err := b.ToO2(raw, "synth", false)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsBundle() || m.Timestamp != 2.5 {
		t.Fatalf("bundle t=%v", m.Timestamp)
	}
	head, err := m.Embedded()
	if err != nil {
		t.Fatal(err)
	}
	if head.Address() != "/synth/note" || head.Timestamp != 2.5 {
		t.Fatalf("embedded %s t=%v", head.Address(), head.Timestamp)
	}
}

func TestInboundMalformed(t *testing.T) {
	b := newBridge()
	if _, err := b.ToO2([]byte{1, 2, 3}, "synth", false); err == nil {
		t.Fatal("(1)")
	}
	// tag references more data than provided
	if _, err := b.ToO2(oscMsg("/x", ",i", nil), "synth", false); err != message.ErrMalformed {
		t.Fatalf("got %v", err)
	}
}

func TestOutboundMessage(t *testing.T) {
	b := newBridge()
	m, _ := message.NewBuilder().AddInt32(1).Finish(0, "/remote/a", false)
	wire, err := b.FromO2(m, "remote", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := oscMsg("/a", ",i", []byte{0, 0, 0, 1})
	if !bytes.Equal(wire, want) {
		t.Fatalf("wire %v, want %v", wire, want)
	}
	// wrong service prefix is rejected
	if _, err = b.FromO2(m, "other", 0); err != message.ErrBadAddress {
		t.Fatalf("got %v", err)
	}
}

func TestOutboundBundle(t *testing.T) {
	b := newBridge()
	b.clk.OscTimeOffset(1 << 32)
	a, _ := message.NewBuilder().AddInt32(1).Finish(0, "/remote/a", false)
	c, _ := message.NewBuilder().AddInt32(2).Finish(0, "/remote/b", false)
	bundle := message.NewBundle().AddMessage(a).AddMessage(c).Finish(2.0, false)
	wire, err := b.FromO2(bundle, "remote", 0)
	if err != nil {
		t.Fatal(err)
	}
	// #bundle marker, then the offset-shifted fixed-point time tag
	if !bytes.HasPrefix(wire, util.AppendPadded(nil, "#bundle")) {
		t.Fatal("(1)")
	}
	bh := new(BundleHead)
	if err := data.Unmarshal(bh, wire[8:]); err != nil {
		t.Fatal(err)
	}
	if bh.TimeTag != (2<<32)+(1<<32) {
		t.Fatalf("time tag %x", bh.TimeTag)
	}
	// embedded record lengths frame the bundle exactly:
	// 16 + sum(4 + len_i)
	recA := oscMsg("/a", ",i", []byte{0, 0, 0, 1})
	recB := oscMsg("/b", ",i", []byte{0, 0, 0, 2})
	if len(wire) != 16+(4+len(recA))+(4+len(recB)) {
		t.Fatalf("length %d", len(wire))
	}
	rh := new(RecordHead)
	if err := data.Unmarshal(rh, wire[16:]); err != nil {
		t.Fatal(err)
	}
	if rh.Size != uint32(len(recA)) {
		t.Fatal("(2)")
	}
	if !bytes.Equal(wire[20:20+len(recA)], recA) {
		t.Fatal("(3)")
	}
	if !bytes.Equal(wire[24+len(recA):], recB) {
		t.Fatal("(4)")
	}
}

func TestOutboundBundleClamping(t *testing.T) {
	b := newBridge()
	// embedded timestamps may not be earlier than the enclosing
	// bundle's
	inner, _ := message.NewBuilder().AddInt32(1).Finish(1.0, "/remote/a", false)
	innerBundle := message.NewBundle().AddMessage(inner).Finish(1.0, false)
	outer := message.NewBundle().AddMessage(innerBundle).Finish(4.0, false)
	wire, err := b.FromO2(outer, "remote", 0)
	if err != nil {
		t.Fatal(err)
	}
	oh := new(BundleHead)
	if err := data.Unmarshal(oh, wire[8:]); err != nil {
		t.Fatal(err)
	}
	if util.TimeFromFixed(oh.TimeTag) != 4.0 {
		t.Fatalf("outer tag %v", util.TimeFromFixed(oh.TimeTag))
	}
	// the nested bundle tag was lifted to the outer time
	ih := new(BundleHead)
	if err := data.Unmarshal(ih, wire[20+8:]); err != nil {
		t.Fatal(err)
	}
	if util.TimeFromFixed(ih.TimeTag) != 4.0 {
		t.Fatalf("inner tag %v", util.TimeFromFixed(ih.TimeTag))
	}
}

func TestRoundTripThroughBridge(t *testing.T) {
	b := newBridge()
	// O2 -> OSC -> O2 preserves address tail, tag and args
	m, _ := message.NewBuilder().
		AddInt32(-5).AddFloat(1.5).AddString("x").AddDouble(math.Pi).
		Finish(0, "/fx/gain/set", false)
	wire, err := b.FromO2(m, "fx", 0)
	if err != nil {
		t.Fatal(err)
	}
	back, err := b.ToO2(wire, "fx", false)
	if err != nil {
		t.Fatal(err)
	}
	if back.Address() != "/fx/gain/set" {
		t.Fatalf("address %s", back.Address())
	}
	args, err := back.Args()
	if err != nil {
		t.Fatal(err)
	}
	if args[0].(int32) != -5 || args[1].(float32) != 1.5 ||
		args[2].(string) != "x" || args[3].(float64) != math.Pi {
		t.Fatalf("args %v", args)
	}
}

func TestInboundPort(t *testing.T) {
	trans := transport.New(1024)
	b := New(clock.New(), trans)
	defer b.Close()
	const port = 63996
	if err := b.PortNew("synth", port, false); err != nil {
		t.Fatal(err)
	}
	if err := b.PortNew("synth", port, false); err != ErrPortExists {
		t.Fatalf("got %v", err)
	}
	// a raw OSC datagram shows up as a tagged event
	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", "63996"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	packet := oscMsg("/note", ",i", []byte{0, 0, 0, 60})
	if _, err := conn.Write(packet); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-trans.Events():
		if ev.Kind != transport.EvOSC || ev.Key != "synth" || ev.TCP {
			t.Fatalf("event %d key '%s'", ev.Kind, ev.Key)
		}
		if !bytes.Equal(ev.Data, packet) {
			t.Fatal("(1)")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no OSC event")
	}
	if err := b.PortFree(port); err != nil {
		t.Fatal(err)
	}
	if err := b.PortFree(port); err != ErrNotFound {
		t.Fatalf("got %v", err)
	}
}
