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

package message

import (
	"encoding/binary"
	"math"

	"o2/util"
)

//----------------------------------------------------------------------
// Typed arguments:
// A message payload is a sequence of 4-byte aligned fields described
// by the type tag. On the wire all scalars are big-endian; in memory
// they are in host order. Supported platforms are little-endian, so
// host order is fixed here (the same assumption the wire format makes
// about the receive path).
//----------------------------------------------------------------------

// hostOrder is the in-memory byte order of payload scalars.
var hostOrder = binary.LittleEndian

// netOrder is the wire byte order.
var netOrder = binary.BigEndian

// Argument type codes as used in type tags.
const (
	TypeInt32      = 'i'
	TypeFloat      = 'f'
	TypeString     = 's'
	TypeSymbol     = 'S'
	TypeBlob       = 'b'
	TypeInt64      = 'h'
	TypeDouble     = 'd'
	TypeTime       = 't'
	TypeTrue       = 'T'
	TypeFalse      = 'F'
	TypeBool       = 'B'
	TypeNil        = 'N'
	TypeArrayOpen  = '['
	TypeArrayClose = ']'
)

// Symbol is a string argument transmitted with type code 'S'.
type Symbol string

//----------------------------------------------------------------------
// Argument decoding
//----------------------------------------------------------------------

// DecodeArgs unpacks the payload of a message according to the type
// tag (without leading comma). Nested arrays in the tag produce nested
// []any values. Fails with ErrMalformed if the tag references more
// data than the payload provides.
func DecodeArgs(types string, payload []byte) ([]any, error) {
	args, pos, end, err := decodeSeq(types, 0, payload, 0)
	if err != nil {
		return nil, err
	}
	if end != len(types) {
		// unbalanced ']' in tag
		return nil, ErrMalformed
	}
	_ = pos
	return args, nil
}

// decodeSeq decodes arguments until the tag ends or an array close is
// found. Returns the decoded values, the payload position and the tag
// position after the processed segment.
func decodeSeq(types string, ti int, payload []byte, pos int) (args []any, next int, tagEnd int, err error) {
	args = make([]any, 0, len(types))
	need := func(n int) bool {
		return pos+n <= len(payload)
	}
	for ti < len(types) {
		switch types[ti] {
		case TypeInt32:
			if !need(4) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, int32(hostOrder.Uint32(payload[pos:])))
			pos += 4
		case TypeFloat:
			if !need(4) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, math.Float32frombits(hostOrder.Uint32(payload[pos:])))
			pos += 4
		case TypeInt64:
			if !need(8) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, int64(hostOrder.Uint64(payload[pos:])))
			pos += 8
		case TypeDouble:
			if !need(8) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, math.Float64frombits(hostOrder.Uint64(payload[pos:])))
			pos += 8
		case TypeTime:
			if !need(8) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, util.Time(math.Float64frombits(hostOrder.Uint64(payload[pos:]))))
			pos += 8
		case TypeString, TypeSymbol:
			var s string
			if s, pos, err = util.ParsePadded(payload, pos); err != nil {
				return nil, 0, 0, ErrMalformed
			}
			if types[ti] == TypeSymbol {
				args = append(args, Symbol(s))
			} else {
				args = append(args, s)
			}
		case TypeBlob:
			if !need(4) {
				return nil, 0, 0, ErrMalformed
			}
			size := int(hostOrder.Uint32(payload[pos:]))
			pos += 4
			if size < 0 || !need(size) {
				return nil, 0, 0, ErrMalformed
			}
			blob := make([]byte, size)
			copy(blob, payload[pos:])
			args = append(args, blob)
			pos += (size + 3) &^ 3
		case TypeTrue:
			args = append(args, true)
		case TypeFalse:
			args = append(args, false)
		case TypeBool:
			if !need(4) {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, hostOrder.Uint32(payload[pos:]) != 0)
			pos += 4
		case TypeNil:
			args = append(args, nil)
		case TypeArrayOpen:
			var sub []any
			if sub, pos, ti, err = decodeSeq(types, ti+1, payload, pos); err != nil {
				return nil, 0, 0, err
			}
			if ti >= len(types) || types[ti] != TypeArrayClose {
				return nil, 0, 0, ErrMalformed
			}
			args = append(args, sub)
		case TypeArrayClose:
			return args, pos, ti, nil
		default:
			return nil, 0, 0, ErrBadType
		}
		ti++
	}
	return args, pos, ti, nil
}

//----------------------------------------------------------------------
// Flat form and wire conversion:
// The flat form of a message is an 8-byte timestamp (float64 bits)
// followed by the body. It is the unit of peer transport frames and
// of bundle embedding.
//----------------------------------------------------------------------

// Flatten returns the flat (host order) form of a message.
func (m *Message) Flatten() []byte {
	buf := make([]byte, 8, 8+len(m.Data))
	hostOrder.PutUint64(buf, math.Float64bits(float64(m.Timestamp)))
	return append(buf, m.Data...)
}

// Unflatten rebuilds a message from its flat (host order) form.
func Unflatten(flat []byte) (*Message, error) {
	if len(flat) < 8 {
		return nil, ErrMalformed
	}
	m := Alloc(len(flat) - 8)
	m.Timestamp = util.Time(math.Float64frombits(hostOrder.Uint64(flat)))
	m.Data = append(m.Data, flat[8:]...)
	if _, _, err := util.ParsePadded(m.Data, 0); err != nil {
		Free(m)
		return nil, ErrMalformed
	}
	return m, nil
}

// Encode serializes a message for the wire (big-endian scalars).
func (m *Message) Encode() ([]byte, error) {
	wire := m.Flatten()
	if err := SwapEndian(wire, true); err != nil {
		return nil, err
	}
	return wire, nil
}

// Decode rebuilds a message from wire bytes, normalizing scalars to
// host order.
func Decode(wire []byte) (*Message, error) {
	flat := make([]byte, len(wire))
	copy(flat, wire)
	if err := SwapEndian(flat, false); err != nil {
		return nil, err
	}
	return Unflatten(flat)
}

//----------------------------------------------------------------------
// Endian normalization
//----------------------------------------------------------------------

// SwapEndian rewrites integer and float fields of a flat message
// between host and network order, per the type tag. toNetwork selects
// the direction; length fields are read in the pre-swap order. Fails
// with ErrMalformed if the type tag references more data than the
// message provides.
func SwapEndian(flat []byte, toNetwork bool) error {
	if len(flat) < 8 {
		return ErrMalformed
	}
	swap64(flat, 0) // timestamp
	return SwapBody(flat[8:], toNetwork)
}

// SwapBody rewrites the scalar fields of a message body (padded
// address, padded type tag, payload) between host and network order.
func SwapBody(body []byte, toNetwork bool) error {
	// current byte order of multi-byte fields
	cur := binary.ByteOrder(netOrder)
	if toNetwork {
		cur = hostOrder
	}

	// bundle: swap each embedded record recursively
	addr, pos, err := util.ParsePadded(body, 0)
	if err != nil {
		return ErrMalformed
	}
	if addr == BundleAddr {
		for pos < len(body) {
			if pos+4 > len(body) {
				return ErrMalformed
			}
			size := int(cur.Uint32(body[pos:]))
			swap32(body, pos)
			pos += 4
			if size < 8 || pos+size > len(body) {
				return ErrMalformed
			}
			if err := SwapEndian(body[pos:pos+size], toNetwork); err != nil {
				return err
			}
			pos += size
		}
		return nil
	}

	// atomic message: walk the type tag
	tag, pos, err := util.ParsePadded(body, pos)
	if err != nil || len(tag) == 0 || tag[0] != ',' {
		return ErrMalformed
	}
	return SwapArgs(tag[1:], body[pos:], toNetwork)
}

// SwapArgs rewrites the scalar fields of an argument payload between
// host and network order, driven by the type tag (without comma).
func SwapArgs(types string, body []byte, toNetwork bool) error {
	cur := binary.ByteOrder(netOrder)
	if toNetwork {
		cur = hostOrder
	}
	pos := 0
	var err error
	for _, t := range []byte(types) {
		switch t {
		case TypeInt32, TypeFloat, TypeBool:
			if pos+4 > len(body) {
				return ErrMalformed
			}
			swap32(body, pos)
			pos += 4
		case TypeInt64, TypeDouble, TypeTime:
			if pos+8 > len(body) {
				return ErrMalformed
			}
			swap64(body, pos)
			pos += 8
		case TypeString, TypeSymbol:
			if _, pos, err = util.ParsePadded(body, pos); err != nil {
				return ErrMalformed
			}
		case TypeBlob:
			if pos+4 > len(body) {
				return ErrMalformed
			}
			size := int(cur.Uint32(body[pos:]))
			swap32(body, pos)
			pos += 4
			if size < 0 || pos+size > len(body) {
				return ErrMalformed
			}
			pos += (size + 3) &^ 3
		case TypeTrue, TypeFalse, TypeNil, TypeArrayOpen, TypeArrayClose:
			// no payload data
		default:
			return ErrBadType
		}
	}
	return nil
}

// swap32 reverses a 4-byte field in place.
func swap32(b []byte, off int) {
	b[off], b[off+3] = b[off+3], b[off]
	b[off+1], b[off+2] = b[off+2], b[off+1]
}

// swap64 reverses an 8-byte field in place.
func swap64(b []byte, off int) {
	for i := 0; i < 4; i++ {
		b[off+i], b[off+7-i] = b[off+7-i], b[off+i]
	}
}
