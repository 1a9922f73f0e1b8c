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
	"net"

	"o2/config"
	"o2/message"
	"o2/osc"
	"o2/service"
	"o2/transport"
	"o2/util"

	"github.com/bfix/gospel/logger"
)

// Control addresses used by discovery and membership.
const (
	addrDiscovery = "/_o2/dy" // discovery beacon
	addrDiscTick  = "/_o2/ds" // internal: run a sweep
	addrServices  = "/_o2/sv" // service vector record
)

//----------------------------------------------------------------------
// Discovery:
// The process periodically broadcasts a beacon to every candidate
// discovery port on the subnet. When two processes of the same
// ensemble see each other, the one with the lexicographically greater
// name initiates the stream connection; the first frame on a new
// stream is the same beacon, naming the caller. After the stream is
// up both sides exchange their service vectors. The sweep interval
// starts small and backs off exponentially to the configured period.
//----------------------------------------------------------------------

// scheduleDiscovery arms the next sweep on the local-time scheduler.
func (p *Process) scheduleDiscovery(at util.Time) {
	m, err := message.NewBuilder().Finish(at, addrDiscTick, false)
	if err != nil {
		return
	}
	p.ltq.Insert(at, m)
}

// discoveryTick broadcasts a beacon to all candidate ports and
// reschedules itself with backoff.
func (p *Process) discoveryTick() {
	wire, err := p.beacon(HubNone).Encode()
	if err == nil {
		for _, port := range p.cfg.Ports {
			if err := p.trans.Broadcast(port, wire); err != nil {
				p.dbg(config.DbgDiscovery, "broadcast to :%d failed: %s", port, err)
			}
		}
		p.dbg(config.DbgDiscovery, "beacon sweep over %d ports", len(p.cfg.Ports))
	}
	// exponential backoff up to the configured period
	p.discWait *= 2
	if max := util.Time(p.cfg.DiscoveryPeriod); p.discWait > max {
		p.discWait = max
	}
	p.scheduleDiscovery(p.clk.LocalNow() + p.discWait)
}

// beacon builds a discovery message with the given hub flag.
func (p *Process) beacon(hubFlag int) *message.Message {
	m, _ := message.NewBuilder().
		AddString(p.cfg.Ensemble).
		AddString(p.ip).
		AddInt32(int32(p.tcpPort)).
		AddInt32(int32(p.discIdx)).
		AddInt32(int32(hubFlag)).
		Finish(util.TimeImmediate, addrDiscovery, false)
	return m
}

// handleDiscovery processes a beacon (broadcast, unicast or relayed
// over a stream; from is nil for stream beacons). The message is
// consumed.
func (p *Process) handleDiscovery(m *message.Message, from *net.UDPAddr) {
	defer message.Free(m)
	ensemble, ip, tcpPort, discIdx, hubFlag, ok := parseBeacon(m)
	if !ok || ensemble != p.cfg.Ensemble {
		return
	}
	key := util.ProcName(ip, tcpPort)
	if key == p.name {
		return
	}
	p.dbg(config.DbgDiscovery, "beacon from %s (hub=%d)", key, hubFlag)

	peer, known := p.peers[key]
	if !known {
		peer = newPeer(ip, tcpPort, discIdx)
		p.peers[key] = peer
		p.metrics.Peers.Set(float64(len(p.peers)))
	}
	switch hubFlag {
	case HubIAm, HubRemote:
		peer.hub = true
		p.dbg(config.DbgHub, "peer %s acts as hub", key)
	case HubBeMine:
		peer.client = true
	}

	if !peer.Connected() {
		if p.name > key {
			// tie-break: the greater name initiates
			p.connectPeer(peer, peer.client)
		} else if from != nil || hubFlag != HubNone {
			// make sure the greater side learns about us
			reply := HubNone
			if hubFlag == HubBeMine {
				reply = HubIAm
			}
			p.sendBeacon(peer, reply)
		}
		return
	}
	if hubFlag == HubBeMine {
		p.relayMembership(peer)
	}
	if hubFlag == HubCallMeBack {
		// hub drops the connection; the client will call back
		p.dbg(config.DbgHub, "call-me-back from %s", key)
		p.trans.Drop(peer.conn)
	}
}

// parseBeacon extracts the discovery arguments.
func parseBeacon(m *message.Message) (ensemble, ip string, tcpPort, discIdx, hubFlag int, ok bool) {
	args, err := m.Args()
	if err != nil || len(args) != 5 {
		return
	}
	e, ok1 := args[0].(string)
	a, ok2 := args[1].(string)
	tp, ok3 := args[2].(int32)
	di, ok4 := args[3].(int32)
	hf, ok5 := args[4].(int32)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return
	}
	return e, a, int(tp), int(di), int(hf), true
}

// sendBeacon sends a unicast beacon to the peer's discovery port.
func (p *Process) sendBeacon(peer *Peer, hubFlag int) {
	addr := peer.DatagramAddr(p.cfg.Ports)
	if addr == nil {
		return
	}
	wire, err := p.beacon(hubFlag).Encode()
	if err == nil {
		if err := p.trans.SendDatagram(addr, wire); err != nil {
			p.dbg(config.DbgDiscovery, "unicast beacon to %s failed: %s", peer.key, err)
		}
	}
}

// connectPeer establishes the stream to a peer, announces ourselves
// and pushes the service vector.
func (p *Process) connectPeer(peer *Peer, hubClient bool) {
	conn, err := p.trans.Connect(peer.key, peer.StreamAddr())
	if err != nil {
		logger.Printf(logger.WARN, "[core] connect to %s failed: %s", peer.key, err.Error())
		delete(p.peers, peer.key)
		p.metrics.Peers.Set(float64(len(p.peers)))
		return
	}
	p.dbg(config.DbgConn, "connected to %s", peer.key)
	peer.conn = conn
	flag := HubNone
	if peer.hub {
		flag = HubRemote
	}
	if wire, err := p.beacon(flag).Encode(); err == nil {
		conn.Send(wire)
	}
	p.sendServices(conn)
	if hubClient {
		p.relayMembership(peer)
	}
}

// handleInit processes the first frame of an inbound stream: the
// beacon naming the caller. The message is consumed.
func (p *Process) handleInit(m *message.Message, conn *transport.Conn) {
	ensemble, ip, tcpPort, discIdx, hubFlag, ok := parseBeacon(m)
	message.Free(m)
	if !ok || ensemble != p.cfg.Ensemble {
		p.trans.Drop(conn)
		return
	}
	key := util.ProcName(ip, tcpPort)
	peer, known := p.peers[key]
	if !known {
		peer = newPeer(ip, tcpPort, discIdx)
		p.peers[key] = peer
		p.metrics.Peers.Set(float64(len(p.peers)))
	}
	conn.SetKey(key)
	peer.conn = conn
	if hubFlag == HubIAm || hubFlag == HubRemote {
		peer.hub = true
	}
	if hubFlag == HubBeMine {
		peer.client = true
	}
	p.dbg(config.DbgConn, "stream from %s established", key)
	p.sendServices(conn)
	if peer.client {
		p.relayMembership(peer)
	}
}

//----------------------------------------------------------------------
// Service vector exchange
//----------------------------------------------------------------------

// svRecord builds one /_o2/sv record.
func (p *Process) svRecord(proc, name string, added, isTap bool, info string) *message.Message {
	bAdded, bTap := int32(0), int32(0)
	if added {
		bAdded = 1
	}
	if isTap {
		bTap = 1
	}
	m, _ := message.NewBuilder().
		AddString(proc).
		AddString(name).
		AddInt32(bAdded).
		AddInt32(bTap).
		AddString(info).
		Finish(util.TimeImmediate, addrServices, true)
	return m
}

// sendServices pushes the full local service vector over a stream.
func (p *Process) sendServices(conn *transport.Conn) {
	for _, info := range p.tbl.LocalInfo() {
		var rec *message.Message
		if len(info.Tapper) > 0 {
			rec = p.svRecord(p.name, info.Name, true, true, info.Tapper)
		} else {
			rec = p.svRecord(p.name, info.Name, true, false, info.Properties)
		}
		if wire, err := rec.Encode(); err == nil {
			conn.Send(wire)
		}
		message.Free(rec)
	}
	p.dbg(config.DbgDiscovery, "service vector sent")
}

// pushService announces an incremental service change to every
// connected peer.
func (p *Process) pushService(name string, added, isTap bool, info string) {
	rec := p.svRecord(p.name, name, added, isTap, info)
	wire, err := rec.Encode()
	message.Free(rec)
	if err != nil {
		return
	}
	for _, peer := range p.peers {
		if peer.conn != nil {
			peer.conn.Send(wire)
		}
	}
}

// handleServices processes one /_o2/sv record.
func (p *Process) handleServices(m *message.Message) error {
	args, err := m.Args()
	if err != nil || len(args) != 5 {
		return ErrMalformed
	}
	proc, ok1 := args[0].(string)
	name, ok2 := args[1].(string)
	added, ok3 := args[2].(int32)
	isTap, ok4 := args[3].(int32)
	info, ok5 := args[4].(string)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return ErrMalformed
	}
	p.dbg(config.DbgDiscovery, "sv: %s '%s' added=%d tap=%d", proc, name, added, isTap)
	switch {
	case isTap != 0 && added != 0:
		return p.tbl.AddTap(name, info)
	case isTap != 0:
		return p.tbl.RemoveTap(name, info)
	case added != 0:
		return p.tbl.AddProvider(name, proc, &service.RemoteService{Peer: proc}, false)
	default:
		return p.tbl.RemoveProvider(name, proc)
	}
}

//----------------------------------------------------------------------
// Hub support
//----------------------------------------------------------------------

// HubSelect contacts a hub process ("host:port" of its discovery
// endpoint) to bootstrap membership when broadcast is unavailable.
func (p *Process) HubSelect(spec string) error {
	host, port, err := util.SplitProcName(spec)
	if err != nil {
		return ErrBadAddress
	}
	ip, err := osc.ResolveHost(host)
	if err != nil {
		return err
	}
	wire, err := p.beacon(HubBeMine).Encode()
	if err != nil {
		return err
	}
	p.dbg(config.DbgHub, "contacting hub %s:%d", ip, port)
	return p.trans.SendDatagram(&net.UDPAddr{IP: ip, Port: port}, wire)
}

// relayMembership forwards the membership view to a hub client: one
// beacon per known connected peer.
func (p *Process) relayMembership(to *Peer) {
	if to.conn == nil {
		return
	}
	p.dbg(config.DbgHub, "relaying %d peers to %s", len(p.peers)-1, to.key)
	for _, q := range p.peers {
		if q.key == to.key || !q.Connected() {
			continue
		}
		m, err := message.NewBuilder().
			AddString(p.cfg.Ensemble).
			AddString(q.ip).
			AddInt32(int32(q.tcpPort)).
			AddInt32(int32(q.discIdx)).
			AddInt32(int32(HubRemote)).
			Finish(util.TimeImmediate, addrDiscovery, true)
		if err != nil {
			continue
		}
		if wire, err := m.Encode(); err == nil {
			to.conn.Send(wire)
		}
		message.Free(m)
	}
}
