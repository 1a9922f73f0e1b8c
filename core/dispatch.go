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

	"github.com/bfix/gospel/logger"
)

//----------------------------------------------------------------------
// Delivery and dispatch:
// deliver() decides between immediate dispatch and scheduling;
// dispatch() resolves the service and routes to the active provider,
// then fans out to taps. Local, remote-peer and bridged destinations
// are treated symmetrically: the only difference is which send
// primitive the provider variant selects.
//----------------------------------------------------------------------

// deliver schedules or dispatches a message. Ownership of m
// transfers to the callee.
func (p *Process) deliver(m *message.Message, local bool) error {
	// immediate?
	if m.Timestamp <= util.TimeImmediate {
		return p.dispatch(m)
	}
	now, err := p.clk.GlobalNow()
	if err != nil {
		// unsynchronized: locally originated messages dispatch at
		// once, remote ones wait for the clock to converge
		if local {
			return p.dispatch(m)
		}
		p.dbg(config.DbgSchedGlob, "holding %s until clock sync", m)
		p.gtq.Insert(m.Timestamp, m)
		return nil
	}
	if m.Timestamp <= now {
		return p.dispatch(m)
	}
	p.dbg(config.DbgSchedGlob, "scheduling %s", m)
	p.gtq.Insert(m.Timestamp, m)
	return nil
}

// dispatchOwned is the scheduler release hook.
func (p *Process) dispatchOwned(m *message.Message) {
	if err := p.dispatch(m); err != nil {
		p.dbg(config.DbgSchedGlob, "scheduled dispatch: %s", err)
	}
}

// dispatch routes a message to the active provider of its service and
// to every tap. The message is consumed.
func (p *Process) dispatch(m *message.Message) error {
	defer message.Free(m)

	if m.IsBundle() {
		return p.dispatchBundle(m)
	}
	svc, _, ok := util.ServiceOf(m.Address())
	if !ok {
		p.metrics.MsgsDropped.Inc()
		return ErrBadAddress
	}
	// system messages are handled by the control surface
	if svc == controlService {
		return p.handleControl(m)
	}
	entry, found := p.tbl.Lookup(svc)
	if !found || entry.Active() == nil {
		p.dbg(config.DbgSend, "no provider for '%s', dropping %s", svc, m)
		p.metrics.MsgsDropped.Inc()
		return ErrNotFound
	}
	err := p.routeTo(entry.Active(), svc, m)

	// fan out to taps in registration order; a missing tapper is
	// removed lazily on its first failed lookup
	for _, tap := range entry.Taps() {
		if _, ok := p.tbl.Active(tap.Tapper); !ok {
			p.dbg(config.DbgTaps, "tapper '%s' gone, removing tap", tap.Tapper)
			p.tbl.RemoveTap(svc, tap.Tapper)
			continue
		}
		cp, cerr := m.Retarget(tap.Tapper)
		if cerr != nil {
			continue
		}
		p.dbg(config.DbgTaps, "tap copy %s -> '%s'", m, tap.Tapper)
		p.dispatch(cp)
	}
	return err
}

// dispatchBundle routes a bundle. When every embedded message
// targets the same bridged service, the bundle crosses the bridge
// whole (its time tag must survive on the foreign wire); otherwise
// the embedded messages are unpacked and delivered individually.
func (p *Process) dispatchBundle(m *message.Message) error {
	head, err := m.Embedded()
	if err != nil {
		return err
	}
	svc := ""
	uniform := true
	for sub := head; sub != nil; sub = sub.Next {
		s, _, ok := util.ServiceOf(sub.Address())
		if !ok {
			uniform = false
			break
		}
		if svc == "" {
			svc = s
		} else if s != svc {
			uniform = false
			break
		}
	}
	if uniform && len(svc) > 0 {
		if active, ok := p.tbl.Active(svc); ok {
			if _, isOsc := active.Prov.(*service.OSCService); isOsc {
				p.dbg(config.DbgOscOut, "bridge out bundle as '%s'", svc)
				p.metrics.MsgsSent.Inc()
				err := p.bridge.Send(svc, m)
				// taps still see the embedded messages
				if entry, ok := p.tbl.Lookup(svc); ok {
					for _, tap := range entry.Taps() {
						if _, ok := p.tbl.Active(tap.Tapper); !ok {
							p.tbl.RemoveTap(svc, tap.Tapper)
							continue
						}
						for sub := head; sub != nil; sub = sub.Next {
							if cp, cerr := sub.Retarget(tap.Tapper); cerr == nil {
								p.dispatch(cp)
							}
						}
					}
				}
				message.FreeList(head)
				return err
			}
		}
	}
	for head != nil {
		next := head.Next
		head.Next = nil
		p.deliver(head, true)
		head = next
	}
	return nil
}

// routeTo invokes the provider-specific delivery primitive.
func (p *Process) routeTo(c *service.Candidate, svc string, m *message.Message) error {
	switch prov := c.Prov.(type) {
	case *service.LocalService:
		args, err := m.Args()
		if err != nil {
			p.metrics.MsgsDropped.Inc()
			return ErrMalformed
		}
		// handler errors are recorded but never abort tap fan-out
		if err = prov.Method(m, args); err != nil {
			p.dbg(config.DbgSend, "handler '%s' failed: %s", svc, err)
		}
		p.metrics.MsgsLocal.Inc()
		return nil

	case *service.RemoteService:
		peer, ok := p.peers[prov.Peer]
		if !ok || peer.conn == nil {
			p.metrics.MsgsDropped.Inc()
			return ErrNotFound
		}
		wire, err := m.Encode()
		if err != nil {
			return err
		}
		p.metrics.MsgsSent.Inc()
		// oversize datagrams are forced onto the stream
		if !m.TCP && len(wire) <= p.trans.MaxDatagram() {
			if addr := peer.DatagramAddr(p.cfg.Ports); addr != nil {
				p.dbg(config.DbgSend, "datagram %s -> %s", m, peer.key)
				if err := p.trans.SendDatagram(addr, wire); err == nil {
					return nil
				}
			}
		}
		p.dbg(config.DbgSend, "stream %s -> %s", m, peer.key)
		if err := peer.conn.Send(wire); err != nil {
			// send errors mark the peer for teardown
			logger.Printf(logger.WARN, "[core] send to %s failed: %s", peer.key, err.Error())
			p.trans.Drop(peer.conn)
			return ErrSendFail
		}
		return nil

	case *service.OSCService:
		p.dbg(config.DbgOscOut, "bridge out %s as '%s'", m, svc)
		p.metrics.MsgsSent.Inc()
		return p.bridge.Send(svc, m)
	}
	return ErrNotFound
}

//----------------------------------------------------------------------
// Table change propagation
//----------------------------------------------------------------------

// serviceChanged is the table notifier: status info goes to the local
// subscription and, for vanished services, pending scheduled messages
// are dropped.
func (p *Process) serviceChanged(name string, active *service.Candidate) {
	if active == nil {
		n := p.gtq.RemoveService(name) + p.ltq.RemoveService(name)
		if n > 0 {
			p.dbg(config.DbgSchedGlob, "dropped %d pending messages for '%s'", n, name)
		}
	}
	status := service.StatusUnknown
	if active != nil {
		status = service.StatusOf(active.Prov, p.clk.Synced())
	}
	p.emitStatus(name, status)
}

// removePeer handles the teardown cascade after a stream loss.
func (p *Process) removePeer(key string, reason error) {
	peer, ok := p.peers[key]
	if !ok {
		return
	}
	if reason != nil {
		logger.Printf(logger.WARN, "[core] peer %s lost: %s", key, reason.Error())
	}
	p.dbg(config.DbgConn, "removing peer %s", key)
	delete(p.peers, key)
	if peer.conn != nil {
		p.trans.Drop(peer.conn)
	}
	// withdraw everything the peer contributed
	p.tbl.RemoveProc(key)
	p.metrics.Peers.Set(float64(len(p.peers)))
}
