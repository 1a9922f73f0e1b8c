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
	"time"

	"github.com/miekg/dns"
)

// connectTimeout bounds outbound OSC stream connection attempts.
const connectTimeout = 5 * time.Second

// resolvConf is the system resolver configuration.
const resolvConf = "/etc/resolv.conf"

//----------------------------------------------------------------------
// Hostname resolution:
// Delegation targets and the hub address may be given as hostnames.
// Literal IPs bypass the query; everything else is resolved with one
// A-record lookup against the system resolver. An empty name means
// the local host (matching the delegate API of the original wire
// peers).
//----------------------------------------------------------------------

// ResolveHost maps a host specification to an IPv4 address.
func ResolveHost(host string) (net.IP, error) {
	if host == "" || host == "localhost" {
		return net.IPv4(127, 0, 0, 1), nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%w: not an IPv4 address '%s'", ErrHostname, host)
	}
	// query the system resolver for an A record
	cfg, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%w: no resolver", ErrHostname)
	}
	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	r, _, err := c.Exchange(m, net.JoinHostPort(cfg.Servers[0], cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHostname, err.Error())
	}
	for _, rr := range r.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.To4(), nil
		}
	}
	return nil, fmt.Errorf("%w: no A record for '%s'", ErrHostname, host)
}
