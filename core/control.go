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
	"o2/config"
	"o2/message"
	"o2/service"
	"o2/util"
)

// controlService is the reserved service of the control surface.
const controlService = "_o2"

// Control addresses of the clock and status surface.
const (
	addrClockSynced = "/_o2/cs/cs" // clock-synchronized notification
	addrClockPing   = "/_o2/cs/rt" // round-trip ping
	addrStatusInfo  = "/_o2/si"    // local status-info subscription
)

//----------------------------------------------------------------------
// Control surface:
// All system messages live under /_o2/. They ride the normal codec
// and dispatch machinery; the service table routes them here instead
// of a user handler. Handlers are keyed by the full address.
//----------------------------------------------------------------------

// installControl registers the control handlers.
func (p *Process) installControl() {
	p.ctrl[addrDiscTick] = func(m *message.Message, args []any) error {
		p.discoveryTick()
		return nil
	}
	p.ctrl[addrServices] = func(m *message.Message, args []any) error {
		return p.handleServices(m)
	}
	p.ctrl[addrClockSynced] = func(m *message.Message, args []any) error {
		return p.handleClockSynced(args)
	}
	p.ctrl[addrClockPing] = func(m *message.Message, args []any) error {
		return p.handleClockPing(args)
	}
	p.ctrl[addrStatusInfo] = func(m *message.Message, args []any) error {
		return p.handleStatusInfo(args)
	}
}

// handleControl demultiplexes a system message by address. The
// message is owned by the caller.
func (p *Process) handleControl(m *message.Message) error {
	addr := m.Address()
	if addr == addrDiscovery {
		// relayed beacon (hub path)
		p.handleDiscovery(m.Clone(), nil)
		return nil
	}
	hdlr, ok := p.ctrl[addr]
	if !ok {
		p.dbg(config.DbgSysRecv, "unknown control address '%s'", addr)
		return ErrNotFound
	}
	args, err := m.Args()
	if err != nil {
		return ErrMalformed
	}
	p.dbg(config.DbgSysRecv, "control %s", m)
	return hdlr(m, args)
}

//----------------------------------------------------------------------
// Clock protocol:
// The synchronization algorithm itself is out of scope; the surface
// consists of the sync notification (flips the per-peer state) and
// the round-trip ping used by the algorithm to sample offsets.
// Service statuses are refreshed when the local clock syncs.
//----------------------------------------------------------------------

// handleClockSynced processes a "process became synchronized"
// notification: args are (proc).
func (p *Process) handleClockSynced(args []any) error {
	if len(args) != 1 {
		return ErrMalformed
	}
	proc, ok := args[0].(string)
	if !ok {
		return ErrMalformed
	}
	p.dbg(config.DbgClock, "%s reports clock sync", proc)
	if peer, found := p.peers[proc]; found {
		peer.synced = true
	}
	return nil
}

// handleClockPing answers a round-trip ping: args are (replyTo,
// serial); the reply carries the serial and our local time.
func (p *Process) handleClockPing(args []any) error {
	if len(args) != 2 {
		return ErrMalformed
	}
	replyTo, ok1 := args[0].(string)
	serial, ok2 := args[1].(int32)
	if !ok1 || !ok2 {
		return ErrMalformed
	}
	p.dbg(config.DbgClock, "ping #%d, replying to %s", serial, replyTo)
	m, err := message.NewBuilder().
		AddInt32(serial).
		AddTime(p.clk.LocalNow()).
		Finish(util.TimeImmediate, replyTo, false)
	if err != nil {
		return err
	}
	return p.deliver(m, true)
}

// ClockSetReference makes this process the ensemble clock reference
// and announces the transition to all connected peers.
func (p *Process) ClockSetReference() {
	locked := p.lock()
	defer p.unlock(locked)
	p.clk.SetReference()
	p.clockBecameSynced()
}

// ClockSynced reports whether the global clock has converged.
func (p *Process) ClockSynced() bool {
	return p.clk.Synced()
}

// clockBecameSynced announces sync to peers and refreshes the status
// of every known service (the *NoTime levels all change).
func (p *Process) clockBecameSynced() {
	m, err := message.NewBuilder().
		AddString(p.name).
		Finish(util.TimeImmediate, addrClockSynced, true)
	if err == nil {
		if wire, err := m.Encode(); err == nil {
			for _, peer := range p.peers {
				if peer.conn != nil {
					peer.conn.Send(wire)
				}
			}
		}
		message.Free(m)
	}
	for _, info := range p.tbl.AllInfo() {
		if active, ok := p.tbl.Active(info.Name); ok {
			p.emitStatus(info.Name, service.StatusOf(active.Prov, true))
		}
	}
}

//----------------------------------------------------------------------
// Status-info subscription
//----------------------------------------------------------------------

// emitStatus publishes a provider-change as a /_o2/si message through
// the regular dispatch path.
func (p *Process) emitStatus(name string, status service.Status) {
	m, err := message.NewBuilder().
		AddString(name).
		AddInt32(int32(status)).
		Finish(util.TimeImmediate, addrStatusInfo, true)
	if err != nil {
		return
	}
	p.dispatch(m)
}

// handleStatusInfo delivers a status-info message to the local
// subscriber.
func (p *Process) handleStatusInfo(args []any) error {
	if len(args) != 2 {
		return ErrMalformed
	}
	name, ok1 := args[0].(string)
	status, ok2 := args[1].(int32)
	if !ok1 || !ok2 {
		return ErrMalformed
	}
	if p.onStatus != nil {
		p.onStatus(name, service.Status(status))
	}
	return nil
}
