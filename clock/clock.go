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

package clock

import (
	"errors"
	"sync"
	"time"

	"o2/util"
)

// Clock-related error codes
var (
	ErrUnsynced = errors.New("clock not synchronized")
)

//----------------------------------------------------------------------
// Clock bridge:
// Maps the local monotonic clock (seconds since process start) to the
// ensemble-wide global time base. The synchronization algorithm proper
// is an external collaborator; it feeds the bridge through SetGlobal
// (round-trip results) and Synced notifications. Before convergence,
// LocalToGlobal returns the negative sentinel and schedulers treat
// such timestamps as "immediate".
//
// A second mapping converts between global time and the 64-bit
// fixed-point representation of OSC time tags, with a configurable
// offset (OSC time tags count from 1900, O2 time from process group
// start; hosts pick the offset that fits their setup).
//----------------------------------------------------------------------

// Clock is the per-process time bridge.
type Clock struct {
	mtx       sync.RWMutex
	start     time.Time // origin of local time (process start)
	synced    bool      // global mapping converged
	offset    util.Time // global = local + offset
	oscOffset uint64    // fixed-point offset for OSC time tags
}

// New creates a clock bridge with local time starting now.
func New() *Clock {
	return &Clock{
		start: time.Now(),
	}
}

// LocalNow returns the current local time.
func (c *Clock) LocalNow() util.Time {
	return util.TimeFromDuration(time.Since(c.start))
}

// Synced returns true once the global mapping has converged.
func (c *Clock) Synced() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.synced
}

// LocalToGlobal maps a local timestamp into global time. It is
// monotone and continuous after synchronization; before that it
// returns the negative sentinel.
func (c *Clock) LocalToGlobal(t util.Time) util.Time {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if !c.synced {
		return util.TimeUnsynced
	}
	return t + c.offset
}

// GlobalNow returns the current global time, or an error before the
// clock has synchronized.
func (c *Clock) GlobalNow() (util.Time, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if !c.synced {
		return util.TimeUnsynced, ErrUnsynced
	}
	return util.TimeFromDuration(time.Since(c.start)) + c.offset, nil
}

// SetGlobal installs the mapping "global time g corresponds to local
// time l" and marks the clock synchronized. Called by the clock-sync
// collaborator when a round-trip estimate is accepted.
func (c *Clock) SetGlobal(g, l util.Time) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.offset = g - l
	c.synced = true
}

// SetReference makes this process the clock reference: global time
// equals local time from now on.
func (c *Clock) SetReference() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.offset = 0
	c.synced = true
}

//----------------------------------------------------------------------
// OSC time tags
//----------------------------------------------------------------------

// OscTimeOffset replaces the fixed-point offset applied to OSC time
// tags and returns the previous value.
func (c *Clock) OscTimeOffset(offset uint64) (old uint64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	old = c.oscOffset
	c.oscOffset = offset
	return
}

// TimeFromOsc converts a (host order) fixed-point OSC time tag into
// global time, applying the configured offset.
func (c *Clock) TimeFromOsc(raw uint64) util.Time {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return util.TimeFromFixed(raw - c.oscOffset)
}

// TimeToOsc converts a global timestamp into a fixed-point OSC time
// tag, applying the configured offset.
func (c *Clock) TimeToOsc(t util.Time) uint64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return util.TimeToFixed(t) + c.oscOffset
}
