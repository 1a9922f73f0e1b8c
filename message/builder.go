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
	"math"

	"o2/util"
)

//----------------------------------------------------------------------
// Message builder:
// Arguments are appended incrementally; Finish assembles the flat
// body (padded address, type tag, payload) in host order. The first
// error sticks and is reported by Finish.
//----------------------------------------------------------------------

// Builder assembles the type tag and payload of a message.
type Builder struct {
	types []byte // type tag including leading ','
	data  []byte // payload (host order)
	depth int    // open array nesting
	err   error
}

// NewBuilder starts a new (empty) argument list.
func NewBuilder() *Builder {
	return &Builder{
		types: append(make([]byte, 0, 8), ','),
		data:  make([]byte, 0, 64),
	}
}

// AddInt32 appends a 32-bit integer argument.
func (b *Builder) AddInt32(v int32) *Builder {
	b.types = append(b.types, TypeInt32)
	b.data = hostOrder.AppendUint32(b.data, uint32(v))
	return b
}

// AddInt64 appends a 64-bit integer argument.
func (b *Builder) AddInt64(v int64) *Builder {
	b.types = append(b.types, TypeInt64)
	b.data = hostOrder.AppendUint64(b.data, uint64(v))
	return b
}

// AddFloat appends a 32-bit float argument.
func (b *Builder) AddFloat(v float32) *Builder {
	b.types = append(b.types, TypeFloat)
	b.data = hostOrder.AppendUint32(b.data, math.Float32bits(v))
	return b
}

// AddDouble appends a 64-bit float argument.
func (b *Builder) AddDouble(v float64) *Builder {
	b.types = append(b.types, TypeDouble)
	b.data = hostOrder.AppendUint64(b.data, math.Float64bits(v))
	return b
}

// AddTime appends a timestamp argument.
func (b *Builder) AddTime(v util.Time) *Builder {
	b.types = append(b.types, TypeTime)
	b.data = hostOrder.AppendUint64(b.data, math.Float64bits(float64(v)))
	return b
}

// AddString appends a string argument.
func (b *Builder) AddString(v string) *Builder {
	b.types = append(b.types, TypeString)
	b.data = util.AppendPadded(b.data, v)
	return b
}

// AddSymbol appends a symbol argument.
func (b *Builder) AddSymbol(v Symbol) *Builder {
	b.types = append(b.types, TypeSymbol)
	b.data = util.AppendPadded(b.data, string(v))
	return b
}

// AddBlob appends a length-prefixed binary argument.
func (b *Builder) AddBlob(v []byte) *Builder {
	b.types = append(b.types, TypeBlob)
	b.data = hostOrder.AppendUint32(b.data, uint32(len(v)))
	b.data = append(b.data, v...)
	for i := len(v); i%4 != 0; i++ {
		b.data = append(b.data, 0)
	}
	return b
}

// AddBool appends a boolean argument (type code 'B', 4-byte field).
func (b *Builder) AddBool(v bool) *Builder {
	b.types = append(b.types, TypeBool)
	var x uint32
	if v {
		x = 1
	}
	b.data = hostOrder.AppendUint32(b.data, x)
	return b
}

// AddTrue appends a data-less 'T' argument.
func (b *Builder) AddTrue() *Builder {
	b.types = append(b.types, TypeTrue)
	return b
}

// AddFalse appends a data-less 'F' argument.
func (b *Builder) AddFalse() *Builder {
	b.types = append(b.types, TypeFalse)
	return b
}

// AddNil appends a data-less 'N' argument.
func (b *Builder) AddNil() *Builder {
	b.types = append(b.types, TypeNil)
	return b
}

// OpenArray starts a nested array argument.
func (b *Builder) OpenArray() *Builder {
	b.types = append(b.types, TypeArrayOpen)
	b.depth++
	return b
}

// CloseArray terminates the innermost open array.
func (b *Builder) CloseArray() *Builder {
	if b.depth == 0 {
		b.fail(ErrMalformed)
		return b
	}
	b.types = append(b.types, TypeArrayClose)
	b.depth--
	return b
}

// Add appends arguments by dynamic type. Accepted values: int32, int,
// int64, float32, float64, util.Time, string, Symbol, []byte, bool,
// nil and []any (nested array).
func (b *Builder) Add(vals ...any) *Builder {
	for _, v := range vals {
		switch x := v.(type) {
		case int32:
			b.AddInt32(x)
		case int:
			b.AddInt32(int32(x))
		case int64:
			b.AddInt64(x)
		case float32:
			b.AddFloat(x)
		case float64:
			b.AddDouble(x)
		case util.Time:
			b.AddTime(x)
		case string:
			b.AddString(x)
		case Symbol:
			b.AddSymbol(x)
		case []byte:
			b.AddBlob(x)
		case bool:
			b.AddBool(x)
		case nil:
			b.AddNil()
		case []any:
			b.OpenArray()
			b.Add(x...)
			b.CloseArray()
		default:
			b.fail(ErrBadType)
		}
	}
	return b
}

// Finish assembles the message for the given address and delivery time.
func (b *Builder) Finish(t util.Time, address string, tcp bool) (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.depth != 0 {
		return nil, ErrMalformed
	}
	if _, _, ok := util.ServiceOf(address); !ok {
		return nil, ErrBadAddress
	}
	size := util.StrSize(address) + util.PaddedLen(len(b.types)) + len(b.data)
	m := Alloc(size)
	m.Timestamp = t
	m.TCP = tcp
	m.Data = util.AppendPadded(m.Data, address)
	m.Data = util.AppendPadded(m.Data, string(b.types))
	m.Data = append(m.Data, b.data...)
	return m, nil
}

// fail records the first build error.
func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

//----------------------------------------------------------------------
// Bundle builder
//----------------------------------------------------------------------

// BundleBuilder collects messages into a bundle.
type BundleBuilder struct {
	data []byte
}

// NewBundle starts an empty bundle.
func NewBundle() *BundleBuilder {
	return &BundleBuilder{
		data: util.AppendPadded(nil, BundleAddr),
	}
}

// AddMessage appends a message as an embedded (length, flat) record.
// The message is consumed (ownership transfers to the bundle).
func (bb *BundleBuilder) AddMessage(m *Message) *BundleBuilder {
	flat := m.Flatten()
	bb.data = hostOrder.AppendUint32(bb.data, uint32(len(flat)))
	bb.data = append(bb.data, flat...)
	Free(m)
	return bb
}

// Finish assembles the bundle with the given delivery time.
func (bb *BundleBuilder) Finish(t util.Time, tcp bool) *Message {
	m := Alloc(len(bb.data))
	m.Timestamp = t
	m.TCP = tcp
	m.Data = append(m.Data, bb.data...)
	return m
}
