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

package transport

import (
	"net"
)

//----------------------------------------------------------------------
// Transport events:
// Socket readers translate network activity into events on a single
// channel. The poll loop is the only consumer; handlers therefore all
// run on the polling thread, regardless of which socket produced the
// input.
//----------------------------------------------------------------------

// Event kinds
const (
	EvFrame     = iota // complete frame on a peer stream
	EvAccept           // new inbound stream connection
	EvClosed           // stream connection terminated
	EvDiscovery        // datagram on the discovery port
	EvOSC              // packet on an OSC bridge port
)

// Event is the unit delivered from the sockets to the poll loop.
type Event struct {
	Kind int          // event kind (Ev*)
	Key  string       // peer key or OSC service name (kind-dependent)
	Conn *Conn        // stream connection (EvFrame/EvAccept/EvClosed)
	Data []byte       // frame or datagram payload
	From *net.UDPAddr // sender address (datagram kinds)
	TCP  bool         // EvOSC: packet arrived on a stream port
	Err  error        // EvClosed: reason (nil on regular shutdown)
}
