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
	"net/http"
	"sync"
	"time"

	"o2/clock"
	"o2/config"
	"o2/message"
	"o2/osc"
	"o2/sched"
	"o2/service"
	"o2/transport"
	"o2/util"

	"github.com/bfix/gospel/logger"
)

//----------------------------------------------------------------------
// Process:
// The per-ensemble context, threaded explicitly through all
// entrypoints. Poll is the sole progress point: all handlers,
// scheduler ticks and socket callbacks run on the calling goroutine.
// The sockets feed one event channel; the mutex serializes the poll
// loop, public API calls and the read-only status/RPC surface.
//----------------------------------------------------------------------

// StatusFunc is notified on service status changes (the /_o2/si
// subscription).
type StatusFunc func(name string, status service.Status)

// Process is a local O2 process within an ensemble.
type Process struct {
	mtx       sync.Mutex
	inProcess bool // lock held by the dispatching thread
	cfg       *config.Config
	flags     config.DebugFlags

	name    string // canonical "ip:port" process key
	ip      string
	tcpPort int
	discIdx int

	clk    *clock.Clock
	ltq    *sched.Queue // local-time scheduler (maintenance)
	gtq    *sched.Queue // global-time scheduler (delivery)
	tbl    *service.Table
	trans  *transport.Transport
	bridge *osc.Bridge

	peers map[string]*Peer           // by peer key
	pends map[int]*transport.Conn    // accepted, not yet named
	ctrl  map[string]service.Handler // /_o2/ path handlers

	onStatus StatusFunc
	discWait util.Time // current discovery backoff interval
	closed   bool

	metrics *Metrics
	rpcSrv  *http.Server
}

// NewProcess creates and starts a process for the configured
// ensemble: sockets are bound, control handlers installed and the
// discovery sweep scheduled. Progress happens only via Poll.
func NewProcess(cfg *config.Config) (p *Process, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	p = &Process{
		cfg:   cfg,
		flags: config.ParseDebugFlags(cfg.Debug),
		ip:    util.LocalIP(),
		clk:   clock.New(),
		ltq:   sched.New("lt"),
		gtq:   sched.New("gt"),
		trans: transport.New(cfg.MaxMessageSize),
		peers: make(map[string]*Peer),
		pends: make(map[int]*transport.Conn),
		ctrl:  make(map[string]service.Handler),
	}
	p.metrics = NewMetrics()

	// bind sockets
	if p.tcpPort, err = p.trans.ListenStream(); err != nil {
		return nil, err
	}
	if p.discIdx, err = p.trans.BindDiscovery(cfg.Ports); err != nil {
		p.trans.Close()
		return nil, err
	}
	p.name = util.ProcName(p.ip, p.tcpPort)
	logger.Printf(logger.INFO, "[core] process %s up (ensemble '%s', discovery port %d)",
		p.name, cfg.Ensemble, cfg.Ports[p.discIdx])

	// service table with status notification
	p.tbl = service.NewTable(p.name)
	p.tbl.OnChange(p.serviceChanged)

	// OSC bridge
	p.bridge = osc.New(p.clk, p.trans)

	// internal control handlers
	p.installControl()

	// kick off the discovery sweep (and hub contact, if configured)
	p.discWait = util.Time(cfg.DiscoveryPeriod / 16)
	p.scheduleDiscovery(util.TimeImmediate)
	if len(cfg.Hub) > 0 {
		if err = p.HubSelect(cfg.Hub); err != nil {
			p.trans.Close()
			return nil, err
		}
	}

	// optional status JSON-RPC endpoint
	if len(cfg.RPCEndpoint) > 0 {
		p.startRPC(cfg.RPCEndpoint)
	}
	return p, nil
}

// Name returns the canonical process key.
func (p *Process) Name() string {
	return p.name
}

// Ensemble returns the configured ensemble name.
func (p *Process) Ensemble() string {
	return p.cfg.Ensemble
}

// Clock returns the process clock bridge.
func (p *Process) Clock() *clock.Clock {
	return p.clk
}

//----------------------------------------------------------------------
// Locking:
// Handlers run on the polling thread while the process lock is held;
// API calls from within a handler skip the lock (the same pattern the
// map type uses for its process functions). Poll and Close must not
// be called from handlers.
//----------------------------------------------------------------------

// lock acquires the process lock unless the dispatching thread
// already holds it.
func (p *Process) lock() bool {
	if p.inProcess {
		return false
	}
	p.mtx.Lock()
	p.inProcess = true
	return true
}

// unlock releases the lock if this call acquired it.
func (p *Process) unlock(locked bool) {
	if locked {
		p.inProcess = false
		p.mtx.Unlock()
	}
}

//----------------------------------------------------------------------
// Poll loop
//----------------------------------------------------------------------

// Poll advances the process: it waits for socket activity for at most
// 'timeout' (or until the next scheduled message is due, whichever is
// sooner), processes all pending events and releases due scheduler
// entries. Handlers run on the calling goroutine.
func (p *Process) Poll(timeout time.Duration) error {
	p.mtx.Lock()
	p.inProcess = true
	defer func() {
		p.inProcess = false
		p.mtx.Unlock()
	}()
	if p.closed {
		return ErrNotInitialized
	}

	// bound the wait by the next scheduled release
	wait := timeout
	if due, ok := p.ltq.NextDue(); ok {
		if d := (due - p.clk.LocalNow()).Duration(); d < wait {
			wait = d
		}
	}
	if now, err := p.clk.GlobalNow(); err == nil {
		if due, ok := p.gtq.NextDue(); ok {
			if d := (due - now).Duration(); d < wait {
				wait = d
			}
		}
	}

	// wait for the first event, then drain without blocking
	if wait > 0 {
		timer := time.NewTimer(wait)
		p.inProcess = false
		p.mtx.Unlock()
		var ev *transport.Event
		select {
		case e := <-p.trans.Events():
			ev = &e
		case <-timer.C:
		}
		p.mtx.Lock()
		p.inProcess = true
		timer.Stop()
		if p.closed {
			return ErrNotInitialized
		}
		if ev != nil {
			p.handle(*ev)
		}
	}
	for {
		select {
		case ev := <-p.trans.Events():
			p.handle(ev)
		default:
			// release due messages
			p.ltq.Tick(p.clk.LocalNow(), p.dispatchOwned)
			if now, err := p.clk.GlobalNow(); err == nil {
				p.gtq.Tick(now, p.dispatchOwned)
			}
			p.metrics.SchedDepth.Set(float64(p.ltq.Len() + p.gtq.Len()))
			return nil
		}
	}
}

// handle processes one transport event on the poll thread.
func (p *Process) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EvDiscovery:
		p.handleDatagram(ev)
	case transport.EvAccept:
		// remember the connection until its init frame names it
		p.pends[ev.Conn.ID()] = ev.Conn
		p.dbg(config.DbgConn, "inbound connection from %v", ev.Conn.RemoteAddr())
	case transport.EvFrame:
		p.handleFrame(ev)
	case transport.EvClosed:
		delete(p.pends, ev.Conn.ID())
		if key := ev.Conn.Key(); len(key) > 0 {
			p.removePeer(key, ev.Err)
		}
	case transport.EvOSC:
		p.handleOSC(ev)
	}
}

// handleDatagram decodes a packet from the discovery socket: either
// a discovery beacon or a regular datagram message.
func (p *Process) handleDatagram(ev transport.Event) {
	m, err := message.Decode(ev.Data)
	if err != nil {
		p.dbg(config.DbgRecv, "dropping malformed datagram from %v: %s", ev.From, err)
		p.metrics.MsgsDropped.Inc()
		return
	}
	p.metrics.MsgsRecv.Inc()
	if m.Address() == addrDiscovery {
		p.handleDiscovery(m, ev.From)
		return
	}
	p.dbg(config.DbgRecv, "datagram %s from %v", m, ev.From)
	p.deliver(m, false)
}

// handleFrame decodes a message frame from a peer stream.
func (p *Process) handleFrame(ev transport.Event) {
	m, err := message.Decode(ev.Data)
	key := ev.Conn.Key()
	if err != nil {
		p.metrics.MsgsDropped.Inc()
		p.dbg(config.DbgRecv, "dropping malformed frame from '%s': %s", key, err)
		// three consecutive codec errors tear the peer down
		if peer, ok := p.peers[key]; ok && peer.codecFailure() {
			logger.Printf(logger.WARN, "[core] peer %s: repeated codec errors, closing", key)
			p.trans.Drop(ev.Conn)
		}
		return
	}
	p.metrics.MsgsRecv.Inc()
	if len(key) == 0 {
		// first frame on an inbound connection must be the init
		// beacon naming the sender
		if m.Address() != addrDiscovery {
			p.dbg(config.DbgConn, "spurious frame on unnamed connection")
			p.trans.Drop(ev.Conn)
			message.Free(m)
			return
		}
		delete(p.pends, ev.Conn.ID())
		p.handleInit(m, ev.Conn)
		return
	}
	if peer, ok := p.peers[key]; ok {
		peer.codecSuccess()
	}
	if m.Address() == addrDiscovery {
		p.handleDiscovery(m, nil)
		return
	}
	p.dbg(config.DbgRecv, "frame %s from '%s'", m, key)
	p.deliver(m, false)
}

// handleOSC translates a packet from an inbound OSC port and hands
// it to normal delivery.
func (p *Process) handleOSC(ev transport.Event) {
	m, err := p.bridge.ToO2(ev.Data, ev.Key, ev.TCP)
	if err != nil {
		p.dbg(config.DbgOscIn, "dropping bad OSC packet for '%s': %s", ev.Key, err)
		p.metrics.MsgsDropped.Inc()
		return
	}
	p.dbg(config.DbgOscIn, "OSC packet for '%s': %s", ev.Key, m)
	p.deliver(m, false)
}

//----------------------------------------------------------------------
// Shutdown
//----------------------------------------------------------------------

// Close tears the process down: sockets, bridge ports and the RPC
// endpoint. Pending outbound queues drain best-effort.
func (p *Process) Close() error {
	p.mtx.Lock()
	if p.closed {
		p.mtx.Unlock()
		return ErrNotInitialized
	}
	p.closed = true
	p.mtx.Unlock()

	// give per-peer send queues a short drain deadline
	deadline := time.Now().Add(250 * time.Millisecond)
	for busy := true; busy && time.Now().Before(deadline); {
		busy = false
		for _, peer := range p.peers {
			if peer.conn != nil && peer.conn.Pending() > 0 {
				busy = true
			}
		}
		if busy {
			time.Sleep(10 * time.Millisecond)
		}
	}

	if p.rpcSrv != nil {
		p.rpcSrv.Close()
	}
	p.bridge.Close()
	p.trans.Close()

	// drain the event channel so connection readers can finish
	timeout := time.After(250 * time.Millisecond)
	for {
		select {
		case <-p.trans.Events():
		case <-timeout:
			logger.Printf(logger.INFO, "[core] process %s down", p.name)
			return nil
		}
	}
}
