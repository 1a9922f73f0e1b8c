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
	"errors"

	"o2/clock"
	"o2/message"
	"o2/osc"
	"o2/service"
	"o2/transport"
)

// Error kinds of the public API surface. Kinds raised by lower layers
// are re-exported here so callers can match every failure of a public
// operation with errors.Is against one list.
var (
	ErrNotInitialized = errors.New("process not initialized")
	ErrNotFound       = service.ErrNotFound

	ErrBadServiceName = service.ErrBadServiceName
	ErrServiceExists  = service.ErrServiceExists
	ErrPortExists     = osc.ErrPortExists
	ErrBadAddress     = message.ErrBadAddress
	ErrMalformed      = message.ErrMalformed
	ErrTCPConnect     = transport.ErrConnectFail
	ErrSendFail       = transport.ErrSendFail
	ErrNoPort         = transport.ErrNoDiscoveryPort
	ErrHostname       = osc.ErrHostname
	ErrUnsynced       = clock.ErrUnsynced
)
