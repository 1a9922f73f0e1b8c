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
	"bytes"
	"fmt"
	"strings"
)

// Error variables
var (
	ErrStringUnterminated = fmt.Errorf("unterminated padded string")
)

//----------------------------------------------------------------------
// Padded strings:
// All strings on the O2 wire (addresses, type tags, string and symbol
// arguments) are zero-terminated and zero-padded to a 4-byte boundary.
// A string whose length is a multiple of 4 still gets a terminator, so
// the padded size is always strictly greater than the string length.
//----------------------------------------------------------------------

// PaddedLen returns the wire size of a string of length n.
func PaddedLen(n int) int {
	return (n + 4) &^ 3
}

// StrSize returns the wire size of string s.
func StrSize(s string) int {
	return PaddedLen(len(s))
}

// AppendPadded appends the zero-terminated, zero-padded form of s.
func AppendPadded(buf []byte, s string) []byte {
	buf = append(buf, s...)
	for i := len(s); i < PaddedLen(len(s)); i++ {
		buf = append(buf, 0)
	}
	return buf
}

// ParsePadded reads a padded string starting at data[pos]. It returns
// the string and the position of the first byte after the padding.
func ParsePadded(data []byte, pos int) (s string, next int, err error) {
	if pos < 0 || pos >= len(data) {
		return "", 0, ErrStringUnterminated
	}
	idx := bytes.IndexByte(data[pos:], 0)
	if idx < 0 {
		return "", 0, ErrStringUnterminated
	}
	s = string(data[pos : pos+idx])
	next = pos + PaddedLen(idx)
	if next > len(data) {
		return "", 0, ErrStringUnterminated
	}
	return
}

//----------------------------------------------------------------------
// Address helpers
//----------------------------------------------------------------------

// ServiceOf splits an O2 address "/service/rest..." into the service
// name and the remainder (without the separating slash). An address
// consisting only of "/service" has an empty remainder.
func ServiceOf(address string) (service, rest string, ok bool) {
	if len(address) < 2 || address[0] != '/' {
		return "", "", false
	}
	body := address[1:]
	if idx := strings.IndexByte(body, '/'); idx >= 0 {
		return body[:idx], body[idx+1:], len(body[:idx]) > 0
	}
	return body, "", true
}

// CheckServiceName verifies that a name is usable as a service name:
// non-empty, no '/' and within the node name limit.
func CheckServiceName(name string) bool {
	return len(name) > 0 && len(name) <= MaxNodeNameLen &&
		!strings.ContainsRune(name, '/')
}

// MaxNodeNameLen is the maximum length of address node names.
const MaxNodeNameLen = 1020
