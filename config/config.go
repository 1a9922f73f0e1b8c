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
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"regexp"
	"strings"

	"o2/util"

	"github.com/bfix/gospel/logger"
)

// Configuration error codes
var (
	ErrNoEnsemble  = errors.New("ensemble name missing")
	ErrBadEnsemble = errors.New("invalid ensemble name")
	ErrBadPorts    = errors.New("invalid discovery port list")
)

// Defaults
const (
	DefDiscoveryPeriod = 4.0   // seconds between discovery sweeps
	DefMaxMessageSize  = 32768 // maximum datagram message size
	MaxDiscoveryPorts  = 16    // bounded broadcast port sweep
)

// DefPorts is the default candidate discovery port list. Every
// process tries the ports in this order; the first successful bind
// decides the process's discovery port index.
var DefPorts = []int{
	64541, 60238, 57143, 55764, 56975, 62711,
	57571, 53472, 51779, 63714, 53304, 61696,
	50665, 49404, 64828, 54859,
}

//----------------------------------------------------------------------
// Process configuration
//----------------------------------------------------------------------

// Environment settings
type Environ map[string]string

// Config is the aggregated configuration of an O2 process.
type Config struct {
	Env             Environ `json:"environ"`         // ${VAR} substitutions
	Ensemble        string  `json:"ensemble"`        // application scope (required)
	DiscoveryPeriod float64 `json:"discoveryPeriod"` // sweep period in seconds
	Debug           string  `json:"debug"`           // debug flag string
	MaxMessageSize  int     `json:"maxMessageSize"`  // datagram size limit
	Hub             string  `json:"hub"`             // hub "host:port" (optional)
	RPCEndpoint     string  `json:"rpcEndpoint"`     // status JSON-RPC listen address
	Ports           []int   `json:"ports"`           // discovery port candidates
}

// Default returns a configuration with standard settings for the
// given ensemble name.
func Default(ensemble string) *Config {
	return &Config{
		Ensemble:        ensemble,
		DiscoveryPeriod: DefDiscoveryPeriod,
		MaxMessageSize:  DefMaxMessageSize,
		Ports:           DefPorts,
	}
}

// ParseConfig reads a JSON-encoded configuration file.
func ParseConfig(fileName string) (cfg *Config, err error) {
	var file []byte
	if file, err = os.ReadFile(fileName); err != nil {
		return
	}
	cfg = new(Config)
	if err = json.Unmarshal(file, cfg); err != nil {
		return
	}
	// process all string-based config settings and apply
	// string substitutions.
	applySubstitutions(cfg, cfg.Env)
	cfg.fillDefaults()
	err = cfg.Validate()
	return
}

// fillDefaults completes unset optional values.
func (c *Config) fillDefaults() {
	if c.DiscoveryPeriod == 0 {
		c.DiscoveryPeriod = DefDiscoveryPeriod
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefMaxMessageSize
	}
	if len(c.Ports) == 0 {
		c.Ports = DefPorts
	}
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if len(c.Ensemble) == 0 {
		return ErrNoEnsemble
	}
	if len(c.Ensemble) > util.MaxNodeNameLen || strings.ContainsRune(c.Ensemble, '/') {
		return ErrBadEnsemble
	}
	if len(c.Ports) == 0 || len(c.Ports) > MaxDiscoveryPorts {
		return ErrBadPorts
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return ErrBadPorts
		}
	}
	return nil
}

//----------------------------------------------------------------------
// String substitution
//----------------------------------------------------------------------

var rx = regexp.MustCompile(`\$\{([^\}]*)\}`)

// substString is a helper function to substitute environment variables
// with actual values.
func substString(s string, env map[string]string) string {
	matches := rx.FindAllStringSubmatch(s, -1)
	for _, m := range matches {
		if len(m[1]) != 0 {
			subst, ok := env[m[1]]
			if !ok {
				continue
			}
			s = strings.Replace(s, "${"+m[1]+"}", subst, -1)
		}
	}
	return s
}

// applySubstitutions rewrites every string option of the (flat)
// configuration until no further replacement applies.
func applySubstitutions(cfg *Config, env map[string]string) {
	v := reflect.ValueOf(cfg).Elem()
	for i := 0; i < v.NumField(); i++ {
		fld := v.Field(i)
		if fld.Kind() != reflect.String || !fld.CanSet() {
			continue
		}
		s := fld.Interface().(string)
		for {
			s1 := substString(s, env)
			if s1 == s {
				break
			}
			logger.Printf(logger.DBG, "[config] %s --> %s\n", s, s1)
			fld.SetString(s1)
			s = s1
		}
	}
}
