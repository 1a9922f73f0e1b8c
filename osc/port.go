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
	"net"
	"sync"

	"o2/transport"

	"github.com/bfix/gospel/logger"
)

//----------------------------------------------------------------------
// Inbound OSC ports:
// A port is opened for a service; every packet received on it is
// injected into the poll stream tagged with that service name. The
// service itself need not exist: if it is unknown when a packet
// arrives, the message is dropped by the dispatcher.
//----------------------------------------------------------------------

// inPort is one listening OSC endpoint.
type inPort struct {
	service string
	port    int
	tcp     bool
	trans   *transport.Transport

	udp *net.UDPConn
	lst net.Listener

	mtx   sync.Mutex
	conns []net.Conn
	done  bool
}

// PortNew opens a listening socket for OSC messages directed to the
// given service.
func (b *Bridge) PortNew(service string, port int, tcp bool) error {
	if _, ok := b.ports.Get(port); ok {
		return ErrPortExists
	}
	p := &inPort{
		service: service,
		port:    port,
		tcp:     tcp,
		trans:   b.trans,
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	if tcp {
		lst, err := net.Listen("tcp4", addr.String())
		if err != nil {
			return err
		}
		p.lst = lst
		go p.acceptor()
	} else {
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			return err
		}
		p.udp = conn
		go p.datagramReader()
	}
	b.ports.Put(port, p)
	logger.Printf(logger.INFO, "[osc] port %d open for service '%s'", port, service)
	return nil
}

// PortFree closes the OSC port(s) with the given port number. Fails
// with ErrNotFound when no such port is open.
func (b *Bridge) PortFree(port int) error {
	p, ok := b.ports.Get(port)
	if !ok {
		return ErrNotFound
	}
	b.ports.Delete(port)
	p.close()
	logger.Printf(logger.INFO, "[osc] port %d closed", port)
	return nil
}

// close shuts the port sockets down.
func (p *inPort) close() {
	p.mtx.Lock()
	p.done = true
	conns := p.conns
	p.conns = nil
	p.mtx.Unlock()
	if p.udp != nil {
		p.udp.Close()
	}
	if p.lst != nil {
		p.lst.Close()
	}
	for _, c := range conns {
		c.Close()
	}
}

// datagramReader injects one event per received datagram.
func (p *inPort) datagramReader() {
	buf := make([]byte, 65536)
	for {
		n, _, err := p.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		p.trans.Inject(transport.Event{
			Kind: transport.EvOSC,
			Key:  p.service,
			Data: data,
		})
	}
}

// acceptor handles inbound OSC stream connections.
func (p *inPort) acceptor() {
	for {
		nc, err := p.lst.Accept()
		if err != nil {
			return
		}
		p.mtx.Lock()
		if p.done {
			p.mtx.Unlock()
			nc.Close()
			return
		}
		p.conns = append(p.conns, nc)
		p.mtx.Unlock()
		go p.streamReader(nc)
	}
}

// streamReader reassembles length-prefixed OSC frames.
func (p *inPort) streamReader(nc net.Conn) {
	defer nc.Close()
	hdr := make([]byte, transport.FrameHeaderSize)
	for {
		if !readFull(nc, hdr) {
			return
		}
		size, err := transport.ParseFrameHeader(hdr)
		if err != nil {
			logger.Printf(logger.WARN, "[osc] bad frame on port %d: %s", p.port, err.Error())
			return
		}
		body := make([]byte, size)
		if !readFull(nc, body) {
			return
		}
		p.trans.Inject(transport.Event{
			Kind: transport.EvOSC,
			Key:  p.service,
			Data: body,
			TCP:  true,
		})
	}
}

// readFull fills buf completely or reports failure.
func readFull(nc net.Conn, buf []byte) bool {
	pos := 0
	for pos < len(buf) {
		n, err := nc.Read(buf[pos:])
		if err != nil {
			return false
		}
		pos += n
	}
	return true
}
