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
	"fmt"
	"net"
	"sync"

	"o2/message"
	"o2/service"
	"o2/transport"
	"o2/util"

	"github.com/bfix/gospel/logger"
)

//----------------------------------------------------------------------
// Outbound delegation:
// A delegate forwards all messages for one service to a foreign OSC
// receiver. Datagram delegates cache the resolved remote address;
// stream delegates keep a connection with a FIFO write queue drained
// by a writer goroutine, which loops over partial writes — never a
// spin-wait on the caller's thread.
//----------------------------------------------------------------------

// Delegate is one outbound OSC forwarding endpoint.
type Delegate struct {
	service string
	tcp     bool
	addr    *net.UDPAddr // cached remote address (datagram)
	udp     *net.UDPConn // connected datagram socket

	conn net.Conn // stream connection
	mtx  sync.Mutex
	out  [][]byte
	kick chan struct{}
	done bool
}

// Delegate installs an outbound OSC endpoint for a service and
// returns the provider record to be inserted into the service table.
func (b *Bridge) Delegate(svc, host string, port int, tcp bool) (*service.OSCService, error) {
	if _, ok := b.delegates.Get(svc); ok {
		return nil, ErrPortExists
	}
	ip, err := ResolveHost(host)
	if err != nil {
		return nil, err
	}
	d := &Delegate{
		service: svc,
		tcp:     tcp,
		addr:    &net.UDPAddr{IP: ip, Port: port},
	}
	if tcp {
		nc, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", ip.String(), port), connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", transport.ErrConnectFail, err.Error())
		}
		d.conn = nc
		d.kick = make(chan struct{}, 1)
		go d.writer()
	} else {
		conn, err := net.DialUDP("udp4", nil, d.addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", transport.ErrSendFail, err.Error())
		}
		d.udp = conn
	}
	b.delegates.Put(svc, d)
	logger.Printf(logger.INFO, "[osc] delegate '%s' -> %s:%d (tcp=%v)", svc, ip, port, tcp)
	return &service.OSCService{Host: ip.String(), Port: port, TCP: tcp}, nil
}

// RemoveDelegate closes the outbound endpoint of a service.
func (b *Bridge) RemoveDelegate(svc string) error {
	d, ok := b.delegates.Get(svc)
	if !ok {
		return ErrNotFound
	}
	b.delegates.Delete(svc)
	d.close()
	return nil
}

// Send translates a message handed over by the dispatcher and emits
// it on the foreign wire. The message stays owned by the caller.
func (b *Bridge) Send(svc string, m *message.Message) error {
	d, ok := b.delegates.Get(svc)
	if !ok {
		return ErrNotFound
	}
	wire, err := b.FromO2(m, svc, util.TimeImmediate)
	if err != nil {
		return err
	}
	logger.Printf(logger.DBG, "[osc] send %d bytes for '%s'", len(wire), svc)
	return d.send(wire)
}

// send emits one OSC packet.
func (d *Delegate) send(wire []byte) error {
	if d.tcp {
		frame, err := transport.NewFrame(wire)
		if err != nil {
			return err
		}
		d.mtx.Lock()
		if d.done {
			d.mtx.Unlock()
			return transport.ErrSendFail
		}
		d.out = append(d.out, frame)
		d.mtx.Unlock()
		select {
		case d.kick <- struct{}{}:
		default:
		}
		return nil
	}
	if _, err := d.udp.Write(wire); err != nil {
		return fmt.Errorf("%w: %s", transport.ErrSendFail, err.Error())
	}
	return nil
}

// writer drains the stream queue, looping over partial writes.
func (d *Delegate) writer() {
	for range d.kick {
		for {
			d.mtx.Lock()
			if d.done || len(d.out) == 0 {
				done := d.done
				d.mtx.Unlock()
				if done {
					return
				}
				break
			}
			frame := d.out[0]
			d.out = d.out[1:]
			d.mtx.Unlock()
			pos := 0
			for pos < len(frame) {
				n, err := d.conn.Write(frame[pos:])
				if err != nil {
					logger.Printf(logger.WARN, "[osc] stream send '%s': %s", d.service, err.Error())
					return
				}
				pos += n
			}
		}
	}
}

// close shuts the delegate down.
func (d *Delegate) close() {
	d.mtx.Lock()
	closing := d.done
	d.done = true
	d.mtx.Unlock()
	if closing {
		return
	}
	if d.udp != nil {
		d.udp.Close()
	}
	if d.conn != nil {
		d.conn.Close()
		select {
		case d.kick <- struct{}{}:
		default:
		}
	}
}
