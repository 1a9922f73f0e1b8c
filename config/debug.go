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

package config

//----------------------------------------------------------------------
// Debug flags:
// A bitmap of diagnostic categories, specified as a string of
// single-letter category codes. 'a' enables everything except the
// malloc category, 'A' additionally excludes the two scheduler
// categories.
//----------------------------------------------------------------------

// DebugFlags is a bitmap of diagnostic categories.
type DebugFlags uint32

// Debug categories
const (
	DbgConn      DebugFlags = 1 << iota // 'c' connection setup/teardown
	DbgRecv                             // 'r' raw receive
	DbgSend                             // 's' raw send
	DbgSysRecv                          // 'R' system message receive
	DbgSysSend                          // 'S' system message send
	DbgClock                            // 'k' clock sync
	DbgDiscovery                        // 'd' discovery
	DbgHub                              // 'h' hub protocol
	DbgSchedLocal                       // 't' local scheduler
	DbgSchedGlob                        // 'T' global scheduler
	DbgMalloc                           // 'm' message allocation
	DbgOscIn                            // 'o' OSC inbound
	DbgOscOut                           // 'O' OSC outbound
	DbgTaps                             // 'p' tap fan-out

	dbgAll = DbgTaps<<1 - 1
)

// Aggregate aliases
const (
	// DbgNet covers all raw network traffic.
	DbgNet = DbgRecv | DbgSysRecv | DbgSend | DbgSysSend
	// DbgMost is everything except malloc ('a').
	DbgMost = dbgAll &^ DbgMalloc
	// DbgQuiet is everything except malloc and the schedulers ('A').
	DbgQuiet = DbgMost &^ (DbgSchedLocal | DbgSchedGlob)
	// DbgGeneral ('g') matches every category: general diagnostics
	// print whenever any other debugging is enabled.
	DbgGeneral = dbgAll
)

// flagCodes maps category letters to bits.
var flagCodes = map[rune]DebugFlags{
	'c': DbgConn,
	'r': DbgRecv,
	's': DbgSend,
	'R': DbgSysRecv,
	'S': DbgSysSend,
	'k': DbgClock,
	'd': DbgDiscovery,
	'h': DbgHub,
	't': DbgSchedLocal,
	'T': DbgSchedGlob,
	'm': DbgMalloc,
	'o': DbgOscIn,
	'O': DbgOscOut,
	'p': DbgTaps,
	'n': DbgNet,
	'g': DbgGeneral,
	'a': DbgMost,
	'A': DbgQuiet,
}

// ParseDebugFlags converts a category string into a bitmap. Unknown
// letters are ignored.
func ParseDebugFlags(s string) (f DebugFlags) {
	for _, ch := range s {
		f |= flagCodes[ch]
	}
	return
}

// Has returns true if any of the given categories is enabled.
func (f DebugFlags) Has(x DebugFlags) bool {
	return f&x != 0
}
