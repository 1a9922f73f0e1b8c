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

	"o2/transport"
	"o2/util"
)

//----------------------------------------------------------------------
// Peer records:
// A peer is another process of the same ensemble, keyed by its
// canonical "ip:port" name. Peers come into existence when the
// discovery handshake completes and disappear when their stream
// closes; removal withdraws every service provider the peer
// contributed. Cross-references between peers and services use the
// stable key, never pointers.
//----------------------------------------------------------------------

// Hub flag values carried in discovery messages.
const (
	HubNone       = 0 // ordinary broadcast
	HubBeMine     = 1 // receiver must accept the sender as hub client
	HubCallMeBack = 2 // hub must close and reconnect to the sender
	HubIAm        = 3 // sender is the hub
	HubRemote     = 4 // remote is marked as hub
)

// Peer is a remote process of the ensemble.
type Peer struct {
	key      string          // canonical "ip:port" name
	ip       string          // peer IP address
	tcpPort  int             // peer stream listener port
	discIdx  int             // peer discovery port index
	conn     *transport.Conn // stream connection (nil until up)
	hub      bool            // remote acts as our hub
	client   bool            // remote asked us to be its hub
	codecBad int             // consecutive codec failures
	synced   bool            // peer reported clock sync
}

// newPeer creates a record from discovery data.
func newPeer(ip string, tcpPort, discIdx int) *Peer {
	return &Peer{
		key:     util.ProcName(ip, tcpPort),
		ip:      ip,
		tcpPort: tcpPort,
		discIdx: discIdx,
	}
}

// Key returns the canonical peer name.
func (p *Peer) Key() string {
	return p.key
}

// Connected returns true once the stream is up.
func (p *Peer) Connected() bool {
	return p.conn != nil
}

// StreamAddr returns the peer's stream endpoint address.
func (p *Peer) StreamAddr() string {
	return util.ProcName(p.ip, p.tcpPort)
}

// DatagramAddr returns the peer's datagram endpoint (its discovery
// port), given the candidate port table.
func (p *Peer) DatagramAddr(ports []int) *net.UDPAddr {
	if p.discIdx < 0 || p.discIdx >= len(ports) {
		return nil
	}
	return &net.UDPAddr{
		IP:   net.ParseIP(p.ip),
		Port: ports[p.discIdx],
	}
}

// codecFailure counts a codec error on the peer stream; returns true
// when the three-strike limit is reached and the peer must go.
func (p *Peer) codecFailure() bool {
	p.codecBad++
	return p.codecBad >= 3
}

// codecSuccess resets the consecutive failure count.
func (p *Peer) codecSuccess() {
	p.codecBad = 0
}
