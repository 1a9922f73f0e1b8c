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

package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

//----------------------------------------------------------------------
// Peer naming:
// A process is identified by its IP address and TCP port, written as
// the canonical string key "ip:port". Keys sort lexicographically;
// the ordering decides both service-provider election and which side
// of a peer pair initiates the stream connection.
//----------------------------------------------------------------------

// ProcName returns the canonical process key for an (ip, port) pair.
func ProcName(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// SplitProcName decomposes a process key into ip and port.
func SplitProcName(name string) (ip string, port int, err error) {
	idx := strings.LastIndexByte(name, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid process name '%s'", name)
	}
	ip = name[:idx]
	port, err = strconv.Atoi(name[idx+1:])
	return
}

// LocalIP determines the primary IPv4 address of this host on the local
// network. Falls back to the loopback address if no interface is up.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() {
				continue
			}
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// BroadcastIP returns the IPv4 limited broadcast address used for the
// discovery sweep on the local subnet.
func BroadcastIP() net.IP {
	return net.IPv4bcast
}
