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
	"net"

	"github.com/bfix/gospel/concurrent"
)

// Channel error codes
var (
	ErrChannelNotOpened   = errors.New("channel not opened")
	ErrChannelInterrupted = errors.New("channel interrupted")
)

// ChannelResult for read/write operations on channels.
type ChannelResult struct {
	count int   // number of bytes read/written
	err   error // error (or nil)
}

// Values returns the attributes of a result instance (for passing up
// the call stack).
func (cr *ChannelResult) Values() (int, error) {
	return cr.count, cr.err
}

//----------------------------------------------------------------------
// Channel:
// Wraps a stream connection with interruptible blocking I/O. A read
// or write can be aborted by sending 'true' on the signaller; the
// connection is closed after such an interruption. Socket I/O itself
// stays in goroutines so a teardown never waits on the network.
//----------------------------------------------------------------------

// Channel is an interruptible stream connection.
type Channel struct {
	conn net.Conn
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{
		conn: conn,
	}
}

// IsOpen returns true if the channel is usable.
func (c *Channel) IsOpen() bool {
	return c.conn != nil
}

// Close the underlying connection.
func (c *Channel) Close() error {
	if c.conn == nil {
		return ErrChannelNotOpened
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// RemoteAddr returns the address of the connected peer.
func (c *Channel) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// Read bytes from the channel into buf. The read can be aborted by
// sending 'true' on the signaller.
func (c *Channel) Read(buf []byte, sig *concurrent.Signaller) (int, error) {
	conn := c.conn
	if conn == nil {
		return 0, ErrChannelNotOpened
	}
	result := make(chan *ChannelResult, 1)
	go func() {
		n, err := conn.Read(buf)
		result <- &ChannelResult{count: n, err: err}
	}()

	listener, err := sig.Listener()
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	for {
		select {
		case x := <-listener.Signal():
			if val, ok := x.(bool); ok && val {
				c.Close()
				return 0, ErrChannelInterrupted
			}
		case res := <-result:
			return res.Values()
		}
	}
}

// Write buf to the channel, looping over partial writes. The write
// can be aborted by sending 'true' on the signaller.
func (c *Channel) Write(buf []byte, sig *concurrent.Signaller) (int, error) {
	conn := c.conn
	if conn == nil {
		return 0, ErrChannelNotOpened
	}
	result := make(chan *ChannelResult, 1)
	go func() {
		total := 0
		for total < len(buf) {
			n, err := conn.Write(buf[total:])
			total += n
			if err != nil {
				result <- &ChannelResult{count: total, err: err}
				return
			}
		}
		result <- &ChannelResult{count: total, err: nil}
	}()

	listener, err := sig.Listener()
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	for {
		select {
		case x := <-listener.Signal():
			if val, ok := x.(bool); ok && val {
				c.Close()
				return 0, ErrChannelInterrupted
			}
		case res := <-result:
			return res.Values()
		}
	}
}
