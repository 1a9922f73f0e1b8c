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
	"github.com/prometheus/client_golang/prometheus"
)

//----------------------------------------------------------------------
// Process metrics. Each process carries its own registry so multiple
// ensembles in one program do not collide; the RPC module serves it
// at /metrics.
//----------------------------------------------------------------------

// Metrics holds the per-process instrumentation.
type Metrics struct {
	reg *prometheus.Registry

	MsgsSent    prometheus.Counter // messages sent to peers or bridges
	MsgsRecv    prometheus.Counter // messages decoded from the network
	MsgsLocal   prometheus.Counter // local handler invocations
	MsgsDropped prometheus.Counter // dropped (malformed or unroutable)
	Peers       prometheus.Gauge   // known peer count (connected or not)
	SchedDepth  prometheus.Gauge   // pending scheduler entries
}

// NewMetrics creates and registers the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		MsgsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2_messages_sent_total",
			Help: "Messages sent to remote peers or bridge endpoints.",
		}),
		MsgsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2_messages_received_total",
			Help: "Messages decoded from the network.",
		}),
		MsgsLocal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2_messages_local_total",
			Help: "Local handler invocations.",
		}),
		MsgsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "o2_messages_dropped_total",
			Help: "Messages dropped (malformed or no provider).",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "o2_peers",
			Help: "Known peer processes.",
		}),
		SchedDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "o2_scheduler_depth",
			Help: "Pending messages across both schedulers.",
		}),
	}
	m.reg.MustRegister(m.MsgsSent, m.MsgsRecv, m.MsgsLocal,
		m.MsgsDropped, m.Peers, m.SchedDepth)
	return m
}

// Registry returns the process metric registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}
