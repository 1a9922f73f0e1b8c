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
	"sync"

	"o2/util"

	"github.com/bfix/gospel/concurrent"
)

//----------------------------------------------------------------------
// Peer stream connection:
// Each peer pair shares exactly one reliable stream. Outbound frames
// are queued and drained FIFO by a writer; partial writes are handled
// inside the channel write loop, so a slow receiver backs up the
// queue instead of blocking the caller. Inbound bytes are reassembled
// into frames and emitted as events.
//----------------------------------------------------------------------

// Conn is one reliable stream to a peer.
type Conn struct {
	id     int
	ch     *Channel
	sig    *concurrent.Signaller
	events chan<- Event

	mtx    sync.Mutex
	key    string // peer key ("" until the handshake names it)
	queue  [][]byte
	kick   chan struct{}
	closed bool
}

// newConn wraps an established stream and starts its reader/writer.
func newConn(nc net.Conn, events chan<- Event) (c *Conn) {
	c = &Conn{
		id:     util.NextID(),
		ch:     NewChannel(nc),
		sig:    concurrent.NewSignaller(),
		events: events,
		kick:   make(chan struct{}, 1),
	}
	go c.reader()
	go c.writer()
	return
}

// ID returns the connection identifier.
func (c *Conn) ID() int {
	return c.id
}

// Key returns the peer key of the connection ("" while unnamed).
func (c *Conn) Key() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.key
}

// SetKey names the connection after the discovery handshake.
func (c *Conn) SetKey(key string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.key = key
}

// RemoteAddr returns the peer network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ch.RemoteAddr()
}

// Send queues one codec message as a length-prefixed frame. The call
// never blocks on the network.
func (c *Conn) Send(payload []byte) error {
	frame, err := NewFrame(payload)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return ErrSendFail
	}
	c.queue = append(c.queue, frame)
	c.mtx.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued outbound frames.
func (c *Conn) Pending() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.queue)
}

// Close tears the connection down; reader and writer terminate and a
// single EvClosed event is emitted.
func (c *Conn) Close() {
	c.mtx.Lock()
	if c.closed {
		c.mtx.Unlock()
		return
	}
	c.closed = true
	c.mtx.Unlock()
	// closing the conn unblocks reader and writer
	c.ch.Close()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// reader reassembles length-prefixed frames and emits them as events.
func (c *Conn) reader() {
	hdr := make([]byte, FrameHeaderSize)
	var rdErr error
	for {
		if rdErr = c.readFull(hdr); rdErr != nil {
			break
		}
		size, err := ParseFrameHeader(hdr)
		if err != nil {
			rdErr = err
			break
		}
		body := make([]byte, size)
		if rdErr = c.readFull(body); rdErr != nil {
			break
		}
		c.events <- Event{
			Kind: EvFrame,
			Key:  c.Key(),
			Conn: c,
			Data: body,
		}
	}
	// reader termination implies connection teardown
	c.mtx.Lock()
	closing := c.closed
	c.closed = true
	c.mtx.Unlock()
	if closing {
		rdErr = nil
	} else {
		c.ch.Close()
	}
	c.events <- Event{
		Kind: EvClosed,
		Key:  c.Key(),
		Conn: c,
		Err:  rdErr,
	}
}

// readFull fills buf completely or fails.
func (c *Conn) readFull(buf []byte) error {
	pos := 0
	for pos < len(buf) {
		n, err := c.ch.Read(buf[pos:], c.sig)
		if err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// writer drains the outbound queue in FIFO order.
func (c *Conn) writer() {
	for range c.kick {
		for {
			c.mtx.Lock()
			if c.closed || len(c.queue) == 0 {
				done := c.closed
				c.mtx.Unlock()
				if done {
					return
				}
				break
			}
			frame := c.queue[0]
			c.queue = c.queue[1:]
			c.mtx.Unlock()
			if _, err := c.ch.Write(frame, c.sig); err != nil {
				return
			}
		}
	}
}
