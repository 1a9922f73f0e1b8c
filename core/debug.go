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

package core

import (
	"o2/config"

	"github.com/bfix/gospel/logger"
)

// dbg emits a diagnostic line if any of the given categories is
// enabled in the process debug flags.
func (p *Process) dbg(flag config.DebugFlags, format string, args ...any) {
	if p.flags.Has(flag) {
		logger.Printf(logger.DBG, "[o2:"+p.name+"] "+format, args...)
	}
}
