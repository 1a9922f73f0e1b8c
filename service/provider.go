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

package service

import (
	"fmt"

	"o2/message"
)

//----------------------------------------------------------------------
// Providers:
// The concrete implementer of a service in one process is one of
// three variants: a local handler, a reference to a remote peer, or
// an OSC bridge endpoint. Cross-references use stable identifiers
// (peer keys, service names) instead of ownership edges; the tables
// involved are walked by identifier on removal.
//----------------------------------------------------------------------

// Handler is a typed dispatch function for local services. Arguments
// arrive decoded according to the message type tag. A non-nil return
// is recorded but never aborts dispatch of taps.
type Handler func(msg *message.Message, args []any) error

// Provider is the sum type of service implementers.
type Provider interface {
	fmt.Stringer
	provider() // marker
}

// LocalService dispatches to a handler in this process.
type LocalService struct {
	Method     Handler
	Properties string
}

func (s *LocalService) provider() {}

func (s *LocalService) String() string {
	return "local"
}

// RemoteService refers to a peer process by its stable key.
type RemoteService struct {
	Peer string // peer key "ip:port"
}

func (s *RemoteService) provider() {}

func (s *RemoteService) String() string {
	return "remote:" + s.Peer
}

// OSCService is an external-protocol bridge endpoint.
type OSCService struct {
	Host string
	Port int
	TCP  bool
}

func (s *OSCService) provider() {}

func (s *OSCService) String() string {
	proto := "udp"
	if s.TCP {
		proto = "tcp"
	}
	return fmt.Sprintf("osc:%s:%s:%d", proto, s.Host, s.Port)
}

//----------------------------------------------------------------------
// Status levels
//----------------------------------------------------------------------

// Status of a service as seen by the local process.
type Status int

// Status values; the *NoTime variants apply while the global clock
// has not synchronized yet.
const (
	StatusUnknown Status = iota
	StatusLocalNoTime
	StatusLocal
	StatusRemoteNoTime
	StatusRemote
	StatusOscNoTime
	StatusOsc
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusLocalNoTime:
		return "local(notime)"
	case StatusLocal:
		return "local"
	case StatusRemoteNoTime:
		return "remote(notime)"
	case StatusRemote:
		return "remote"
	case StatusOscNoTime:
		return "osc(notime)"
	case StatusOsc:
		return "osc"
	}
	return "unknown"
}

// StatusOf derives the status level from the active provider variant
// and the clock synchronization state.
func StatusOf(p Provider, synced bool) Status {
	switch p.(type) {
	case *LocalService:
		if synced {
			return StatusLocal
		}
		return StatusLocalNoTime
	case *RemoteService:
		if synced {
			return StatusRemote
		}
		return StatusRemoteNoTime
	case *OSCService:
		if synced {
			return StatusOsc
		}
		return StatusOscNoTime
	}
	return StatusUnknown
}
