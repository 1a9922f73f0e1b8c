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

package service

import (
	"errors"

	"o2/util"
)

// Service-table error codes
var (
	ErrBadServiceName = errors.New("bad service name")
	ErrServiceExists  = errors.New("service already exists")
	ErrNotFound       = errors.New("not found")
)

//----------------------------------------------------------------------
// Service table:
// Per-process mapping from service name to an ordered candidate list
// whose head is the active provider; the tail holds shadow candidates
// from other peers. Election is a deterministic function of the
// candidate set: the provider from the process with the greatest key
// wins, unless a candidate is explicitly pinned. Each entry also
// carries the taps installed on the service.
//----------------------------------------------------------------------

// Candidate is one provider offer for a service.
type Candidate struct {
	Proc string   // key of the offering process
	Prov Provider // provider variant
}

// Tap mirrors messages for a service to another service.
type Tap struct {
	Tapper string // destination service name
}

// Entry is the per-service record.
type Entry struct {
	name       string
	candidates *util.Seq[*Candidate] // head = active provider
	taps       *util.Seq[Tap]
	pinned     string // proc key overriding election ("" = none)
}

// Name returns the service name of the entry.
func (e *Entry) Name() string {
	return e.name
}

// Taps returns a snapshot of the taps in registration order.
func (e *Entry) Taps() []Tap {
	return e.taps.Clone()
}

// Active returns the elected provider candidate (nil if none).
func (e *Entry) Active() *Candidate {
	if e.candidates.Len() == 0 {
		return nil
	}
	return e.candidates.Get(0)
}

// elect reorders the candidate list deterministically: the pinned
// candidate wins outright, otherwise the one with the greatest
// process key.
func (e *Entry) elect() {
	n := e.candidates.Len()
	if n == 0 {
		return
	}
	best := 0
	for i := 1; i < n; i++ {
		c := e.candidates.Get(i)
		if c.Proc == e.pinned {
			best = i
			break
		}
		b := e.candidates.Get(best)
		if b.Proc != e.pinned && c.Proc > b.Proc {
			best = i
		}
	}
	if best != 0 {
		c := e.candidates.Get(best)
		e.candidates.Remove(best)
		e.candidates.Insert(0, c)
	}
}

//----------------------------------------------------------------------

// Info describes one service for advertisement and status reporting.
type Info struct {
	Name       string // service name
	Proc       string // key of offering process
	Properties string // local provider properties ("" otherwise)
	Tapper     string // set on tap records instead of Proc/Properties
}

// ChangeFunc is notified when the active provider of a service
// changes; active is nil when the service disappeared.
type ChangeFunc func(name string, active *Candidate)

// Table is the per-process service registry.
type Table struct {
	local    string // key of the local process
	entries  map[string]*Entry
	onChange ChangeFunc
}

// NewTable creates an empty service table for a process.
func NewTable(local string) *Table {
	return &Table{
		local:   local,
		entries: make(map[string]*Entry),
	}
}

// OnChange installs the provider-change notifier.
func (t *Table) OnChange(f ChangeFunc) {
	t.onChange = f
}

// Lookup returns the entry for a service name.
func (t *Table) Lookup(name string) (*Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Active returns the elected provider for a service.
func (t *Table) Active(name string) (*Candidate, bool) {
	e, ok := t.entries[name]
	if !ok {
		return nil, false
	}
	c := e.Active()
	return c, c != nil
}

// entry returns (or creates) the record for a service name.
func (t *Table) entry(name string) *Entry {
	e, ok := t.entries[name]
	if !ok {
		e = &Entry{
			name:       name,
			candidates: util.NewSeq[*Candidate](),
			taps:       util.NewSeq[Tap](),
		}
		t.entries[name] = e
	}
	return e
}

// AddProvider inserts a provider offer for a service and re-elects
// the active provider. With override set, the offer is pinned and
// wins the election regardless of key order. Fails with
// ErrServiceExists when the same process already offers the service.
func (t *Table) AddProvider(name, proc string, p Provider, override bool) error {
	if !util.CheckServiceName(name) {
		return ErrBadServiceName
	}
	e := t.entry(name)
	for _, c := range e.candidates.Values() {
		if c.Proc == proc {
			return ErrServiceExists
		}
	}
	prev := e.Active()
	e.candidates.Add(&Candidate{Proc: proc, Prov: p})
	if override {
		e.pinned = proc
	}
	t.reelect(e, prev)
	return nil
}

// RemoveProvider withdraws the offer of a process for a service. The
// entry disappears when no candidates and no taps remain.
func (t *Table) RemoveProvider(name, proc string) error {
	e, ok := t.entries[name]
	if !ok {
		return ErrNotFound
	}
	prev := e.Active()
	found := false
	for i, c := range e.candidates.Values() {
		if c.Proc == proc {
			e.candidates.Remove(i)
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	if e.pinned == proc {
		e.pinned = ""
	}
	t.reelect(e, prev)
	return nil
}

// RemoveProc withdraws every provider offer of a process (peer
// teardown path). Returns the names of services whose entry was
// touched.
func (t *Table) RemoveProc(proc string) (touched []string) {
	for name, e := range t.entries {
		for i, c := range e.candidates.Values() {
			if c.Proc == proc {
				prev := e.Active()
				e.candidates.Remove(i)
				if e.pinned == proc {
					e.pinned = ""
				}
				touched = append(touched, name)
				t.reelect(e, prev)
				break
			}
		}
	}
	return
}

// reelect runs the election on an entry, fires the change notifier
// when the active provider differs from prev, and collects empty
// entries.
func (t *Table) reelect(e *Entry, prev *Candidate) {
	e.elect()
	active := e.Active()
	if active == nil && e.taps.Len() == 0 {
		delete(t.entries, e.name)
	}
	if active != prev && t.onChange != nil {
		t.onChange(e.name, active)
	}
}

//----------------------------------------------------------------------
// Taps
//----------------------------------------------------------------------

// AddTap installs a tap: every message delivered to tappee is copied
// to tapper. The tappee entry is created if it does not exist yet.
func (t *Table) AddTap(tappee, tapper string) error {
	if !util.CheckServiceName(tappee) || !util.CheckServiceName(tapper) {
		return ErrBadServiceName
	}
	e := t.entry(tappee)
	for _, tp := range e.taps.Values() {
		if tp.Tapper == tapper {
			return ErrServiceExists
		}
	}
	e.taps.Add(Tap{Tapper: tapper})
	return nil
}

// RemoveTap removes a tap subscription. Entries left without
// candidates and taps are collected.
func (t *Table) RemoveTap(tappee, tapper string) error {
	e, ok := t.entries[tappee]
	if !ok {
		return ErrNotFound
	}
	for i, tp := range e.taps.Values() {
		if tp.Tapper == tapper {
			e.taps.Remove(i)
			if e.candidates.Len() == 0 && e.taps.Len() == 0 {
				delete(t.entries, tappee)
			}
			return nil
		}
	}
	return ErrNotFound
}

//----------------------------------------------------------------------
// Enumeration
//----------------------------------------------------------------------

// LocalInfo lists the services offered by the local process and every
// tap in the table (taps do not record which process installed them),
// for the /_o2/sv advertisement exchange.
func (t *Table) LocalInfo() (list []Info) {
	for name, e := range t.entries {
		for _, c := range e.candidates.Values() {
			if c.Proc != t.local {
				continue
			}
			props := ""
			if ls, ok := c.Prov.(*LocalService); ok {
				props = ls.Properties
			}
			list = append(list, Info{Name: name, Proc: c.Proc, Properties: props})
		}
		for _, tp := range e.taps.Values() {
			list = append(list, Info{Name: name, Tapper: tp.Tapper})
		}
	}
	return
}

// AllInfo lists every known service with its active provider (status
// reporting surface).
func (t *Table) AllInfo() (list []Info) {
	for name, e := range t.entries {
		c := e.Active()
		if c == nil {
			continue
		}
		props := ""
		if ls, ok := c.Prov.(*LocalService); ok {
			props = ls.Properties
		}
		list = append(list, Info{Name: name, Proc: c.Proc, Properties: props})
	}
	return
}

// Size returns the number of service entries.
func (t *Table) Size() int {
	return len(t.entries)
}
