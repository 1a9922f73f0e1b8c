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

package core

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"o2/config"
	"o2/message"
	"o2/service"
	"o2/util"

	"go.uber.org/goleak"
)

// nextPorts hands out disjoint candidate port lists so tests do not
// contend for discovery sockets.
var nextPortBase = 61000

func nextPorts(n int) []int {
	ports := make([]int, n)
	for i := range ports {
		ports[i] = nextPortBase
		nextPortBase++
	}
	return ports
}

// newTestProc starts a process on its own port list.
func newTestProc(t *testing.T, ensemble string, ports []int) *Process {
	t.Helper()
	cfg := config.Default(ensemble)
	cfg.Ports = ports
	p, err := NewProcess(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// pollUntil drives the given processes until cond holds or the
// timeout expires.
func pollUntil(t *testing.T, procs []*Process, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, p := range procs {
			if err := p.Poll(10 * time.Millisecond); err != nil {
				t.Fatal(err)
			}
		}
		if cond() {
			return true
		}
	}
	return cond()
}

//----------------------------------------------------------------------

func TestImmediateLocalDispatch(t *testing.T) {
	p := newTestProc(t, "t-imm", nextPorts(2))
	defer p.Close()

	var calls [][]any
	err := p.ServiceNew("synth", "", func(m *message.Message, args []any) error {
		calls = append(calls, args)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Send("/synth/note", 0, int32(60), float32(0.5)); err != nil {
		t.Fatal(err)
	}
	if err := p.Poll(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Fatalf("%d handler calls", len(calls))
	}
	if calls[0][0].(int32) != 60 || calls[0][1].(float32) != 0.5 {
		t.Fatalf("args %v", calls[0])
	}
}

func TestScheduledDelivery(t *testing.T) {
	p := newTestProc(t, "t-sched", nextPorts(2))
	defer p.Close()
	p.ClockSetReference()

	var calls int
	p.ServiceNew("synth", "", func(m *message.Message, args []any) error {
		calls++
		return nil
	})
	now, err := p.Clock().GlobalNow()
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := p.Send("/synth/note", now+0.15, int32(1)); err != nil {
		t.Fatal(err)
	}
	// not released in the first poll
	if err := p.Poll(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatal("released early")
	}
	if !pollUntil(t, []*Process{p}, 2*time.Second, func() bool { return calls == 1 }) {
		t.Fatal("never released")
	}
	if time.Since(start) < 140*time.Millisecond {
		t.Fatal("released before its timestamp")
	}
}

func TestTapFanout(t *testing.T) {
	p := newTestProc(t, "t-tap", nextPorts(2))
	defer p.Close()

	var primary, tapped []string
	p.ServiceNew("A", "", func(m *message.Message, args []any) error {
		primary = append(primary, m.Address())
		return nil
	})
	p.ServiceNew("log", "", func(m *message.Message, args []any) error {
		tapped = append(tapped, m.Address())
		return nil
	})
	if err := p.TapNew("A", "log"); err != nil {
		t.Fatal(err)
	}
	if err := p.Send("/A/x", 0, int32(1)); err != nil {
		t.Fatal(err)
	}
	// exactly K+1 = 2 invocations, tap address rewritten
	if len(primary) != 1 || len(tapped) != 1 {
		t.Fatalf("primary=%d tapped=%d", len(primary), len(tapped))
	}
	if tapped[0] != "/log/x" {
		t.Fatalf("tap address %s", tapped[0])
	}
	// handler errors do not suppress taps
	p.ServiceFree("A")
	p.ServiceNew("A", "", func(m *message.Message, args []any) error {
		primary = append(primary, m.Address())
		return errors.New("handler failure")
	})
	p.TapNew("A", "log")
	if err := p.Send("/A/y", 0); err != nil {
		t.Fatal(err)
	}
	if len(tapped) != 2 || tapped[1] != "/log/y" {
		t.Fatalf("tapped %v", tapped)
	}
}

func TestTapLazyRemoval(t *testing.T) {
	p := newTestProc(t, "t-lazy", nextPorts(2))
	defer p.Close()

	p.ServiceNew("A", "", func(m *message.Message, args []any) error { return nil })
	p.ServiceNew("log", "", func(m *message.Message, args []any) error { return nil })
	p.TapNew("A", "log")
	p.ServiceFree("log")
	// first dispatch drops the stale tap silently
	if err := p.Send("/A/x", 0); err != nil {
		t.Fatal(err)
	}
	e, ok := p.tbl.Lookup("A")
	if !ok || len(e.Taps()) != 0 {
		t.Fatal("stale tap survived")
	}
}

func TestUnknownService(t *testing.T) {
	p := newTestProc(t, "t-unk", nextPorts(2))
	defer p.Close()
	if err := p.Send("/nobody/x", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if _, err := p.Status("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestStatusSubscription(t *testing.T) {
	p := newTestProc(t, "t-si", nextPorts(2))
	defer p.Close()

	var events []string
	p.OnStatus(func(name string, status service.Status) {
		events = append(events, fmt.Sprintf("%s:%s", name, status))
	})
	p.ServiceNew("synth", "", func(m *message.Message, args []any) error { return nil })
	if len(events) != 1 || events[0] != "synth:local(notime)" {
		t.Fatalf("events %v", events)
	}
	p.ClockSetReference()
	if len(events) != 2 || events[1] != "synth:local" {
		t.Fatalf("events %v", events)
	}
}

func TestLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := newTestProc(t, "t-life", nextPorts(2))
	p.ServiceNew("synth", "", func(m *message.Message, args []any) error { return nil })
	for i := 0; i < 5; i++ {
		if err := p.Poll(5 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Poll(time.Millisecond); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("got %v", err)
	}
	// let lingering socket readers finish before the leak check
	time.Sleep(100 * time.Millisecond)
}

//----------------------------------------------------------------------
// Peer membership
//----------------------------------------------------------------------

func TestConvergenceAndChurn(t *testing.T) {
	ports := nextPorts(4)
	p1 := newTestProc(t, "t-conv", ports)
	defer p1.Close()
	p2 := newTestProc(t, "t-conv", ports)

	p2.ServiceNew("mix", "", func(m *message.Message, args []any) error { return nil })

	// bootstrap via the hub path (works without subnet broadcast)
	hub := fmt.Sprintf("127.0.0.1:%d", ports[p1.discIdx])
	if err := p2.HubSelect(hub); err != nil {
		t.Fatal(err)
	}
	procs := []*Process{p1, p2}
	ok := pollUntil(t, procs, 4*time.Second, func() bool {
		s, err := p1.Status("mix")
		return err == nil && s == service.StatusRemoteNoTime
	})
	if !ok {
		t.Fatal("no convergence on 'mix'")
	}
	// exactly one stream connection exists between the pair
	if len(p1.peers) != 1 || len(p2.peers) != 1 {
		t.Fatalf("peer counts %d/%d", len(p1.peers), len(p2.peers))
	}
	if !p1.peers[p2.name].Connected() || !p2.peers[p1.name].Connected() {
		t.Fatal("stream missing")
	}

	// remote dispatch reaches the provider
	var got []any
	p2.ServiceFree("mix")
	p2.ServiceNew("mix", "", func(m *message.Message, args []any) error {
		got = args
		return nil
	})
	if err := p1.SendCmd("/mix/gain", 0, int32(11)); err != nil {
		t.Fatal(err)
	}
	if !pollUntil(t, procs, 2*time.Second, func() bool { return got != nil }) {
		t.Fatal("remote dispatch lost")
	}
	if got[0].(int32) != 11 {
		t.Fatalf("args %v", got)
	}

	// peer churn: closing p2 withdraws its services within a poll
	p2.Close()
	ok = pollUntil(t, []*Process{p1}, 2*time.Second, func() bool {
		_, err := p1.Status("mix")
		return errors.Is(err, ErrNotFound)
	})
	if !ok {
		t.Fatal("'mix' survived peer teardown")
	}
	if err := p1.Send("/mix/gain", 0, int32(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

//----------------------------------------------------------------------
// OSC bridge end-to-end
//----------------------------------------------------------------------

func TestForeignInbound(t *testing.T) {
	p := newTestProc(t, "t-oscin", nextPorts(2))
	defer p.Close()

	var addr string
	var got []any
	p.ServiceNew("synth", "", func(m *message.Message, args []any) error {
		addr = m.Address()
		got = args
		return nil
	})
	oscPort := nextPorts(1)[0]
	if err := p.OscPortNew("synth", oscPort, false); err != nil {
		t.Fatal(err)
	}
	// raw OSC datagram: "/note if 60 0.5"
	packet := util.AppendPadded(nil, "/note")
	packet = util.AppendPadded(packet, ",if")
	packet = append(packet, 0, 0, 0, 60, 0x3f, 0, 0, 0)
	conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", oscPort))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write(packet); err != nil {
		t.Fatal(err)
	}
	if !pollUntil(t, []*Process{p}, 2*time.Second, func() bool { return got != nil }) {
		t.Fatal("no OSC delivery")
	}
	if addr != "/synth/note" {
		t.Fatalf("address %s", addr)
	}
	if got[0].(int32) != 60 || got[1].(float32) != 0.5 {
		t.Fatalf("args %v", got)
	}
	if err := p.OscPortFree(oscPort); err != nil {
		t.Fatal(err)
	}
	if err := p.OscPortFree(oscPort); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestForeignOutboundBundle(t *testing.T) {
	p := newTestProc(t, "t-oscout", nextPorts(2))
	defer p.Close()

	// foreign receiver
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	port := sink.LocalAddr().(*net.UDPAddr).Port

	if err := p.OscDelegate("remote", "127.0.0.1", port, false); err != nil {
		t.Fatal(err)
	}
	// bundle with two embedded messages
	a, _ := message.NewBuilder().AddInt32(1).Finish(0, "/remote/a", false)
	b, _ := message.NewBuilder().AddInt32(2).Finish(0, "/remote/b", false)
	bundle := message.NewBundle().AddMessage(a).AddMessage(b).Finish(5.0, false)
	if err := p.SendMsg(bundle); err != nil {
		t.Fatal(err)
	}

	sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := sink.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	wire := buf[:n]
	if string(wire[:7]) != "#bundle" {
		t.Fatal("not a bundle")
	}
	// fixed-point time tag of the bundle timestamp
	tag := uint64(0)
	for _, by := range wire[8:16] {
		tag = tag<<8 | uint64(by)
	}
	if util.TimeFromFixed(tag) != 5.0 {
		t.Fatalf("time tag %v", util.TimeFromFixed(tag))
	}
	// embedded addresses lost their service prefix
	recA := util.AppendPadded(nil, "/a")
	if string(wire[20:20+len(recA)]) != string(recA) {
		t.Fatalf("first record %v", wire[20:20+len(recA)])
	}
}
