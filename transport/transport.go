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
	"errors"
	"fmt"
	"net"
	"time"

	"o2/util"
)

// Transport layer error codes
var (
	ErrConnectFail     = errors.New("tcp connect failed")
	ErrSendFail        = errors.New("send failed")
	ErrNoDiscoveryPort = errors.New("no discovery port available")
	ErrClosed          = errors.New("transport closed")
)

// connectTimeout bounds outbound stream connection attempts.
const connectTimeout = 5 * time.Second

//----------------------------------------------------------------------
// Transport:
// Owns the process sockets: the stream listener for peer connections,
// the discovery socket bound to one of the candidate ports (also the
// datagram receiver), and one unbound socket for datagram sends and
// broadcasts. All inbound traffic
// is funneled into one event channel consumed by the poll loop.
//----------------------------------------------------------------------

// Transport bundles the process sockets.
type Transport struct {
	events chan Event
	maxMsg int

	listener net.Listener
	udp      *net.UDPConn
	disc     *net.UDPConn
	conns    *util.Map[int, *Conn]
	closed   bool
}

// New creates a transport with the given datagram size limit.
func New(maxMsg int) *Transport {
	return &Transport{
		events: make(chan Event, 256),
		maxMsg: maxMsg,
		conns:  util.NewMap[int, *Conn](),
	}
}

// Events returns the inbound event channel.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Inject places an externally produced event into the poll stream
// (used by the OSC bridge ports).
func (t *Transport) Inject(ev Event) {
	t.events <- ev
}

//----------------------------------------------------------------------
// Stream endpoint
//----------------------------------------------------------------------

// ListenStream starts the peer stream listener on an ephemeral port
// and returns the bound port number.
func (t *Transport) ListenStream() (port int, err error) {
	if t.listener, err = net.Listen("tcp4", ":0"); err != nil {
		return
	}
	port = t.listener.Addr().(*net.TCPAddr).Port
	go func() {
		for {
			nc, err := t.listener.Accept()
			if err != nil {
				return
			}
			c := t.track(newConn(nc, t.events))
			t.events <- Event{
				Kind: EvAccept,
				Conn: c,
			}
		}
	}()
	return
}

// Connect establishes the outbound stream to a peer at addr
// ("ip:port").
func (t *Transport) Connect(key, addr string) (*Conn, error) {
	nc, err := net.DialTimeout("tcp4", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectFail, err.Error())
	}
	c := t.track(newConn(nc, t.events))
	c.SetKey(key)
	return c, nil
}

// track registers a connection for shutdown bookkeeping.
func (t *Transport) track(c *Conn) *Conn {
	t.conns.Put(c.id, c)
	return c
}

// Drop closes a tracked connection.
func (t *Transport) Drop(c *Conn) {
	t.conns.Delete(c.id)
	c.Close()
}

//----------------------------------------------------------------------
// Datagram endpoints
//----------------------------------------------------------------------

// openSender creates the unbound datagram socket used for sends and
// broadcasts (inbound datagrams arrive on the discovery socket).
func (t *Transport) openSender() (err error) {
	if t.udp != nil {
		return
	}
	t.udp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	return
}

// BindDiscovery binds the first available port from the candidate
// list (in order) and returns its index. The discovery socket doubles
// as the process datagram receiver: peers address datagrams at it.
func (t *Transport) BindDiscovery(ports []int) (idx int, err error) {
	for i, p := range ports {
		addr := &net.UDPAddr{IP: net.IPv4zero, Port: p}
		var conn *net.UDPConn
		if conn, err = net.ListenUDP("udp4", addr); err == nil {
			t.disc = conn
			go t.datagramReader(conn, EvDiscovery)
			return i, nil
		}
	}
	return -1, ErrNoDiscoveryPort
}

// datagramReader pumps packets of one socket into the event channel.
func (t *Transport) datagramReader(conn *net.UDPConn, kind int) {
	buf := make([]byte, t.maxMsg)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.events <- Event{
			Kind: kind,
			Data: data,
			From: from,
		}
	}
}

// SendDatagram transmits one codec message as a single datagram.
func (t *Transport) SendDatagram(to *net.UDPAddr, payload []byte) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.openSender(); err != nil {
		return fmt.Errorf("%w: %s", ErrSendFail, err.Error())
	}
	if len(payload) > t.maxMsg {
		return fmt.Errorf("%w: oversize datagram", ErrSendFail)
	}
	if _, err := t.udp.WriteToUDP(payload, to); err != nil {
		return fmt.Errorf("%w: %s", ErrSendFail, err.Error())
	}
	return nil
}

// MaxDatagram returns the datagram size limit.
func (t *Transport) MaxDatagram() int {
	return t.maxMsg
}

// Broadcast sends a payload to the given port on the local subnet.
func (t *Transport) Broadcast(port int, payload []byte) error {
	return t.SendDatagram(&net.UDPAddr{IP: util.BroadcastIP(), Port: port}, payload)
}

//----------------------------------------------------------------------
// Shutdown
//----------------------------------------------------------------------

// Close tears down all sockets and connections.
func (t *Transport) Close() {
	if t.closed {
		return
	}
	t.closed = true
	if t.listener != nil {
		t.listener.Close()
	}
	if t.udp != nil {
		t.udp.Close()
	}
	if t.disc != nil {
		t.disc.Close()
	}
	var list []*Conn
	_ = t.conns.ProcessRange(func(_ int, c *Conn) error {
		list = append(list, c)
		return nil
	})
	for _, c := range list {
		t.conns.Delete(c.id)
		c.Close()
	}
}
