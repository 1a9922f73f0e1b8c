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
	"time"
)

//----------------------------------------------------------------------
// O2 time:
// Timestamps are double-precision seconds. Local time starts at 0 when
// a process comes up; global time is the ensemble-wide synchronized
// time base. A timestamp of 0 means "deliver immediately"; negative
// values are the "clock not synchronized" sentinel.
//----------------------------------------------------------------------

// Time is a point in (local or global) O2 time, in seconds.
type Time float64

// Time constants
const (
	TimeImmediate Time = 0  // deliver immediately
	TimeUnsynced  Time = -1 // sentinel before clock sync converged
)

// two32 is 2^32 as a float (fixed-point scale of OSC time tags).
const two32 = 4294967296.0

// Seconds returns the timestamp as a duration since the time base origin.
func (t Time) Seconds() float64 {
	return float64(t)
}

// Duration converts a time difference into a time.Duration.
func (t Time) Duration() time.Duration {
	return time.Duration(float64(t) * float64(time.Second))
}

// String returns a human-readable notation of a timestamp.
func (t Time) String() string {
	if t < 0 {
		return "unsynced"
	}
	return fmt.Sprintf("%.6f", float64(t))
}

// TimeFromDuration converts an elapsed duration into a timestamp.
func TimeFromDuration(d time.Duration) Time {
	return Time(d.Seconds())
}

//----------------------------------------------------------------------
// OSC fixed-point conversion (without offset handling; the configurable
// offset lives in the clock bridge).
//----------------------------------------------------------------------

// TimeToFixed converts a timestamp into the 64-bit fixed-point form used
// by OSC time tags: integer seconds in the high 32 bits, fraction in the
// low 32 bits.
func TimeToFixed(t Time) uint64 {
	return uint64(float64(t) * two32)
}

// TimeFromFixed converts a 64-bit fixed-point time tag into a timestamp.
func TimeFromFixed(v uint64) Time {
	return Time(float64(v) / two32)
}
