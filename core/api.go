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
	"o2/message"
	"o2/service"
	"o2/util"
)

//----------------------------------------------------------------------
// Public operations. Every call returns an error resolvable to
// exactly one of the kinds in errors.go; the process never terminates
// the host on failure.
//----------------------------------------------------------------------

// ServiceNew offers a local service with the given handler and
// property string. The local offer is pinned: it overrides candidates
// from other peers.
func (p *Process) ServiceNew(name, properties string, h service.Handler) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	prov := &service.LocalService{Method: h, Properties: properties}
	if err := p.tbl.AddProvider(name, p.name, prov, true); err != nil {
		return err
	}
	p.pushService(name, true, false, properties)
	return nil
}

// ServiceFree withdraws a local service. Pending scheduled messages
// for the service are dropped when the entry disappears.
func (p *Process) ServiceFree(name string) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	if err := p.tbl.RemoveProvider(name, p.name); err != nil {
		return err
	}
	p.bridge.RemoveDelegate(name)
	p.pushService(name, false, false, "")
	return nil
}

// TapNew copies every message delivered to tappee to the tapper
// service.
func (p *Process) TapNew(tappee, tapper string) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	if err := p.tbl.AddTap(tappee, tapper); err != nil {
		return err
	}
	p.pushService(tappee, true, true, tapper)
	return nil
}

// TapRemove removes a tap subscription.
func (p *Process) TapRemove(tappee, tapper string) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	if err := p.tbl.RemoveTap(tappee, tapper); err != nil {
		return err
	}
	p.pushService(tappee, false, true, tapper)
	return nil
}

// Status returns the current status level of a service.
func (p *Process) Status(name string) (service.Status, error) {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return service.StatusUnknown, ErrNotInitialized
	}
	active, ok := p.tbl.Active(name)
	if !ok {
		return service.StatusUnknown, ErrNotFound
	}
	return service.StatusOf(active.Prov, p.clk.Synced()), nil
}

// OnStatus installs the local /_o2/si subscriber.
func (p *Process) OnStatus(f StatusFunc) {
	locked := p.lock()
	defer p.unlock(locked)
	p.onStatus = f
}

//----------------------------------------------------------------------
// Sending
//----------------------------------------------------------------------

// Send builds and delivers a datagram-preferred message to the given
// address at time t (0 = immediately).
func (p *Process) Send(addr string, t util.Time, args ...any) error {
	return p.send(addr, t, false, args)
}

// SendCmd is Send over the reliable stream.
func (p *Process) SendCmd(addr string, t util.Time, args ...any) error {
	return p.send(addr, t, true, args)
}

// send is the shared builder path.
func (p *Process) send(addr string, t util.Time, tcp bool, args []any) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	m, err := message.NewBuilder().Add(args...).Finish(t, addr, tcp)
	if err != nil {
		return err
	}
	return p.deliver(m, true)
}

// SendMsg delivers a prebuilt message (or bundle). Ownership of the
// message transfers to the process.
func (p *Process) SendMsg(m *message.Message) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		message.Free(m)
		return ErrNotInitialized
	}
	return p.deliver(m, true)
}

//----------------------------------------------------------------------
// OSC bridge operations
//----------------------------------------------------------------------

// OscPortNew opens an inbound OSC port feeding the given service.
func (p *Process) OscPortNew(svc string, port int, tcp bool) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	if !util.CheckServiceName(svc) {
		return ErrBadServiceName
	}
	return p.bridge.PortNew(svc, port, tcp)
}

// OscPortFree closes an inbound OSC port. Returns the actual result:
// ErrNotFound when no such port was open.
func (p *Process) OscPortFree(port int) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	return p.bridge.PortFree(port)
}

// OscDelegate forwards all messages for a service to a foreign OSC
// receiver at host:port.
func (p *Process) OscDelegate(svc, host string, port int, tcp bool) error {
	locked := p.lock()
	defer p.unlock(locked)
	if p.closed {
		return ErrNotInitialized
	}
	if !util.CheckServiceName(svc) {
		return ErrBadServiceName
	}
	prov, err := p.bridge.Delegate(svc, host, port, tcp)
	if err != nil {
		return err
	}
	if err = p.tbl.AddProvider(svc, p.name, prov, true); err != nil {
		p.bridge.RemoveDelegate(svc)
		return err
	}
	p.pushService(svc, true, false, "")
	return nil
}

// OscTimeOffset replaces the offset applied to OSC time tags and
// returns the previous value.
func (p *Process) OscTimeOffset(offset uint64) uint64 {
	return p.clk.OscTimeOffset(offset)
}
