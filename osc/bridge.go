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
	"errors"

	"o2/clock"
	"o2/message"
	"o2/service"
	"o2/transport"
	"o2/util"

	"github.com/bfix/gospel/data"
)

// Bridge error codes
var (
	ErrHostname   = errors.New("hostname resolution failed")
	ErrPortExists = errors.New("osc port already open")
	ErrNotFound   = service.ErrNotFound
)

//----------------------------------------------------------------------
// Fixed-layout pieces of the OSC bundle framing.
//----------------------------------------------------------------------

// BundleHead follows the "#bundle" marker: the 64-bit fixed-point
// time tag.
type BundleHead struct {
	TimeTag uint64 `order:"big"`
}

// RecordHead prefixes every embedded message of a bundle.
type RecordHead struct {
	Size uint32 `order:"big"`
}

// bundleHeadSize and recordHeadSize are the serialized lengths.
const (
	bundleHeadSize = 8
	recordHeadSize = 4
)

//----------------------------------------------------------------------
// External-protocol bridge:
// Translates between internal messages and the OSC wire format in
// both directions. Inbound ports tag received packets with a service
// name and inject them into the poll stream; translation and dispatch
// happen on the polling thread. Outbound delegates convert messages
// handed over by the dispatcher and emit them on their own sockets.
//----------------------------------------------------------------------

// Bridge holds the OSC endpoints of a process.
type Bridge struct {
	clk       *clock.Clock
	trans     *transport.Transport
	ports     *util.Map[int, *inPort]
	delegates *util.Map[string, *Delegate]
}

// New creates an empty bridge.
func New(clk *clock.Clock, trans *transport.Transport) *Bridge {
	return &Bridge{
		clk:       clk,
		trans:     trans,
		ports:     util.NewMap[int, *inPort](),
		delegates: util.NewMap[string, *Delegate](),
	}
}

// Close shuts down all bridge sockets.
func (b *Bridge) Close() {
	var pl []*inPort
	_ = b.ports.ProcessRange(func(_ int, p *inPort) error {
		pl = append(pl, p)
		return nil
	})
	for _, p := range pl {
		b.ports.Delete(p.port)
		p.close()
	}
	var dl []*Delegate
	_ = b.delegates.ProcessRange(func(_ string, d *Delegate) error {
		dl = append(dl, d)
		return nil
	})
	for _, d := range dl {
		b.delegates.Delete(d.service)
		d.close()
	}
}

//----------------------------------------------------------------------
// Inbound translation (OSC -> O2)
//----------------------------------------------------------------------

// ToO2 converts a received OSC packet into an internal message for
// the given service: the address is prefixed with "/service", the
// type tag and payload are copied after re-alignment with scalars
// normalized to host order. A bundle recurses over its embedded
// messages, carrying the bundle time tag converted through the clock
// bridge; a plain message gets timestamp 0 (immediate).
func (b *Bridge) ToO2(raw []byte, service string, tcp bool) (*message.Message, error) {
	m, err := b.oscToO2(raw, service)
	if err != nil {
		return nil, err
	}
	m.TCP = tcp
	return m, nil
}

// oscToO2 is the recursive packet translation.
func (b *Bridge) oscToO2(raw []byte, service string) (*message.Message, error) {
	addr, pos, err := util.ParsePadded(raw, 0)
	if err != nil {
		return nil, message.ErrMalformed
	}
	if addr == message.BundleAddr {
		return b.oscBundleToO2(raw, service)
	}
	// plain message: /service prefix + OSC address, then tag + payload
	tag, end, err := util.ParsePadded(raw, pos)
	if err != nil || len(tag) == 0 || tag[0] != ',' {
		return nil, message.ErrMalformed
	}
	newAddr := "/" + service + addr
	body := util.AppendPadded(nil, newAddr)
	body = util.AppendPadded(body, tag)
	body = append(body, raw[end:]...)
	// scalars arrive big-endian; normalize to host order
	if err = message.SwapBody(body, false); err != nil {
		return nil, err
	}
	m := message.Alloc(len(body))
	m.Timestamp = util.TimeImmediate
	m.Data = append(m.Data, body...)
	return m, nil
}

// oscBundleToO2 translates a bundle: "#bundle", the bundle head, then
// (length, message) records.
func (b *Bridge) oscBundleToO2(raw []byte, service string) (*message.Message, error) {
	head := util.PaddedLen(len(message.BundleAddr))
	if len(raw) < head+bundleHeadSize {
		return nil, message.ErrMalformed
	}
	bh := new(BundleHead)
	if err := data.Unmarshal(bh, raw[head:]); err != nil {
		return nil, message.ErrMalformed
	}
	ts := b.clk.TimeFromOsc(bh.TimeTag)
	bundle := message.NewBundle()
	pos := head + bundleHeadSize
	for pos < len(raw) {
		if pos+recordHeadSize > len(raw) {
			return nil, message.ErrMalformed
		}
		rh := new(RecordHead)
		if err := data.Unmarshal(rh, raw[pos:]); err != nil {
			return nil, message.ErrMalformed
		}
		size := int(rh.Size)
		pos += recordHeadSize
		if size <= 0 || pos+size > len(raw) {
			return nil, message.ErrMalformed
		}
		sub, err := b.oscToO2(raw[pos:pos+size], service)
		if err != nil {
			return nil, err
		}
		// nested bundles keep their (later) time tag
		if sub.Timestamp < ts {
			sub.Timestamp = ts
		}
		bundle.AddMessage(sub)
		pos += size
	}
	return bundle.Finish(ts, false), nil
}

//----------------------------------------------------------------------
// Outbound translation (O2 -> OSC)
//----------------------------------------------------------------------

// FromO2 converts an internal message into OSC wire bytes: the
// leading "/service" is stripped from the address and scalars are
// converted to network order. Bundles recurse; embedded time tags are
// clamped to be no earlier than the enclosing bundle's (strict
// foreign implementations reject out-of-order nesting).
func (b *Bridge) FromO2(m *message.Message, service string, minTime util.Time) ([]byte, error) {
	if m.IsBundle() {
		mt := minTime
		if m.Timestamp > mt {
			mt = m.Timestamp
		}
		out := util.AppendPadded(nil, message.BundleAddr)
		bh, err := data.Marshal(&BundleHead{TimeTag: b.clk.TimeToOsc(mt)})
		if err != nil {
			return nil, err
		}
		out = append(out, bh...)
		head, err := m.Embedded()
		if err != nil {
			return nil, err
		}
		defer message.FreeList(head)
		for sub := head; sub != nil; sub = sub.Next {
			enc, err := b.FromO2(sub, service, mt)
			if err != nil {
				return nil, err
			}
			rh, err := data.Marshal(&RecordHead{Size: uint32(len(enc))})
			if err != nil {
				return nil, err
			}
			out = append(out, rh...)
			out = append(out, enc...)
		}
		return out, nil
	}
	// strip the service prefix from the address
	svc, rest, ok := util.ServiceOf(m.Address())
	if !ok || svc != service {
		return nil, message.ErrBadAddress
	}
	types := m.Types()
	out := util.AppendPadded(nil, "/"+rest)
	out = util.AppendPadded(out, ","+types)
	plen := len(out)
	out = append(out, m.Payload()...)
	if err := message.SwapArgs(types, out[plen:], true); err != nil {
		return nil, err
	}
	return out, nil
}
