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

package transport

import (
	"errors"

	"github.com/bfix/gospel/data"
)

// Framing error codes
var (
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// FrameMaxSize bounds a single stream frame (a frame carries exactly
// one codec message; datagrams are limited separately by the
// configured maximum message size).
const FrameMaxSize = 1 << 24

//----------------------------------------------------------------------
// Stream framing: a 4-byte big-endian length, then that many bytes of
// codec output.
//----------------------------------------------------------------------

// FrameHeader prefixes every stream frame.
type FrameHeader struct {
	Size uint32 `order:"big"`
}

// FrameHeaderSize is the serialized header length.
const FrameHeaderSize = 4

// NewFrame wraps payload bytes into a framed stream chunk.
func NewFrame(payload []byte) ([]byte, error) {
	if len(payload) > FrameMaxSize {
		return nil, ErrFrameTooLarge
	}
	hdr, err := data.Marshal(&FrameHeader{Size: uint32(len(payload))})
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// ParseFrameHeader reads a frame header from its serialized form.
func ParseFrameHeader(b []byte) (size int, err error) {
	hdr := new(FrameHeader)
	if err = data.Unmarshal(hdr, b); err != nil {
		return
	}
	if hdr.Size > FrameMaxSize {
		return 0, ErrFrameTooLarge
	}
	return int(hdr.Size), nil
}
