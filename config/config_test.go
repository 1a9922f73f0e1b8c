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

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default("studio")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.DiscoveryPeriod != DefDiscoveryPeriod {
		t.Fatal("(1)")
	}
	if cfg.MaxMessageSize != DefMaxMessageSize {
		t.Fatal("(2)")
	}
	if len(cfg.Ports) != MaxDiscoveryPorts {
		t.Fatal("(3)")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default("")
	if err := cfg.Validate(); err != ErrNoEnsemble {
		t.Fatalf("got %v", err)
	}
	cfg = Default("a/b")
	if err := cfg.Validate(); err != ErrBadEnsemble {
		t.Fatalf("got %v", err)
	}
	cfg = Default("ok")
	cfg.Ports = []int{80, -1}
	if err := cfg.Validate(); err != ErrBadPorts {
		t.Fatalf("got %v", err)
	}
	cfg.Ports = make([]int, MaxDiscoveryPorts+1)
	if err := cfg.Validate(); err != ErrBadPorts {
		t.Fatalf("got %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	spec := `{
		"environ": { "HOME_NET": "studio" },
		"ensemble": "${HOME_NET}-main",
		"discoveryPeriod": 2.5,
		"debug": "cd",
		"hub": "192.168.1.1:64541"
	}`
	fname := filepath.Join(t.TempDir(), "o2.json")
	if err := os.WriteFile(fname, []byte(spec), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := ParseConfig(fname)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ensemble != "studio-main" {
		t.Fatalf("ensemble '%s'", cfg.Ensemble)
	}
	if cfg.DiscoveryPeriod != 2.5 {
		t.Fatal("(1)")
	}
	// unset options take defaults
	if cfg.MaxMessageSize != DefMaxMessageSize || len(cfg.Ports) == 0 {
		t.Fatal("(2)")
	}
}

func TestDebugFlags(t *testing.T) {
	f := ParseDebugFlags("cd")
	if !f.Has(DbgConn) || !f.Has(DbgDiscovery) || f.Has(DbgRecv) {
		t.Fatal("(1)")
	}
	// 'a' is everything except malloc
	f = ParseDebugFlags("a")
	if f.Has(DbgMalloc) || !f.Has(DbgSchedLocal) || !f.Has(DbgOscOut) {
		t.Fatal("(2)")
	}
	// 'A' additionally excludes the schedulers
	f = ParseDebugFlags("A")
	if f.Has(DbgMalloc) || f.Has(DbgSchedLocal) || f.Has(DbgSchedGlob) || !f.Has(DbgConn) {
		t.Fatal("(3)")
	}
	// 'g' covers every category, malloc included
	f = ParseDebugFlags("g")
	if !f.Has(DbgMalloc) || !f.Has(DbgSchedLocal) || !f.Has(DbgConn) || !f.Has(DbgOscOut) {
		t.Fatal("(4)")
	}
	if ParseDebugFlags("g") != DbgGeneral || ParseDebugFlags("am") != DbgGeneral {
		t.Fatal("(5)")
	}
	// unknown letters are ignored
	if ParseDebugFlags("zq!") != 0 {
		t.Fatal("(6)")
	}
}
