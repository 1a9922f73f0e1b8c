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
	"time"

	"o2/service"

	"github.com/bfix/gospel/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JSON-RPC status interface to monitor a running process, served
// together with the Prometheus metrics when an endpoint is
// configured.

// StatusAPI exposes read-only process state.
type StatusAPI struct {
	p *Process
}

// NoArgs is the empty request.
type NoArgs struct{}

// ServicesReply lists known services with their active provider.
type ServicesReply struct {
	Services []ServiceStatus `json:"services"`
}

// ServiceStatus is one service row.
type ServiceStatus struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Status     string `json:"status"`
	Properties string `json:"properties,omitempty"`
}

// Services returns the service table snapshot.
func (s *StatusAPI) Services(r *http.Request, args *NoArgs, reply *ServicesReply) error {
	s.p.mtx.Lock()
	defer s.p.mtx.Unlock()
	synced := s.p.clk.Synced()
	for _, info := range s.p.tbl.AllInfo() {
		active, ok := s.p.tbl.Active(info.Name)
		if !ok {
			continue
		}
		reply.Services = append(reply.Services, ServiceStatus{
			Name:       info.Name,
			Provider:   active.Prov.String(),
			Status:     service.StatusOf(active.Prov, synced).String(),
			Properties: info.Properties,
		})
	}
	return nil
}

// PeersReply lists the known peer processes.
type PeersReply struct {
	Peers []PeerStatus `json:"peers"`
}

// PeerStatus is one peer row.
type PeerStatus struct {
	Key       string `json:"key"`
	Connected bool   `json:"connected"`
	Hub       bool   `json:"hub"`
	Synced    bool   `json:"synced"`
}

// Peers returns the peer set snapshot.
func (s *StatusAPI) Peers(r *http.Request, args *NoArgs, reply *PeersReply) error {
	s.p.mtx.Lock()
	defer s.p.mtx.Unlock()
	for _, peer := range s.p.peers {
		reply.Peers = append(reply.Peers, PeerStatus{
			Key:       peer.key,
			Connected: peer.Connected(),
			Hub:       peer.hub,
			Synced:    peer.synced,
		})
	}
	return nil
}

// ClockReply describes the clock bridge state.
type ClockReply struct {
	Local  float64 `json:"local"`
	Global float64 `json:"global"`
	Synced bool    `json:"synced"`
}

// Clock returns the clock bridge state.
func (s *StatusAPI) Clock(r *http.Request, args *NoArgs, reply *ClockReply) error {
	reply.Local = s.p.clk.LocalNow().Seconds()
	reply.Synced = s.p.clk.Synced()
	if g, err := s.p.clk.GlobalNow(); err == nil {
		reply.Global = g.Seconds()
	} else {
		reply.Global = -1
	}
	return nil
}

// startRPC runs the status server on the configured endpoint.
func (p *Process) startRPC(endpoint string) {
	rpcs := rpc.NewServer()
	rpcs.RegisterCodec(json.NewCodec(), "application/json")
	if err := rpcs.RegisterService(&StatusAPI{p: p}, "Status"); err != nil {
		logger.Printf(logger.ERROR, "[rpc] register failed: %s", err.Error())
		return
	}
	router := mux.NewRouter()
	router.Handle("/rpc", rpcs)
	router.Handle("/metrics", promhttp.HandlerFor(p.metrics.Registry(),
		promhttp.HandlerOpts{}))
	p.rpcSrv = &http.Server{
		Handler:      router,
		Addr:         endpoint,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go func() {
		if err := p.rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf(logger.WARN, "[rpc] server listen failed: %s", err.Error())
		}
	}()
	logger.Printf(logger.INFO, "[rpc] status endpoint on %s", endpoint)
}
