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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"o2/config"
	"o2/core"
	"o2/message"
	"o2/service"

	"github.com/bfix/gospel/logger"
)

// o2probe joins an ensemble, optionally offers an echo service and
// periodically reports what it sees. Useful to watch discovery and
// dispatch on a live network.
func main() {
	var (
		cfgFile  string
		ensemble string
		debug    string
		svcName  string
		target   string
		rpcAddr  string
		hub      string
	)
	flag.StringVar(&cfgFile, "c", "", "configuration file (JSON)")
	flag.StringVar(&ensemble, "e", "default", "ensemble name")
	flag.StringVar(&debug, "d", "", "debug flag string")
	flag.StringVar(&svcName, "s", "", "offer an echo service with this name")
	flag.StringVar(&target, "m", "", "send a test message to this address each second")
	flag.StringVar(&rpcAddr, "rpc", "", "status JSON-RPC endpoint (host:port)")
	flag.StringVar(&hub, "hub", "", "hub address (host:port) if broadcast is blocked")
	flag.Parse()

	// assemble configuration
	var (
		cfg *config.Config
		err error
	)
	if len(cfgFile) > 0 {
		if cfg, err = config.ParseConfig(cfgFile); err != nil {
			fmt.Println("config failed: " + err.Error())
			return
		}
	} else {
		cfg = config.Default(ensemble)
		cfg.Debug = debug
		cfg.RPCEndpoint = rpcAddr
		cfg.Hub = hub
	}

	proc, err := core.NewProcess(cfg)
	if err != nil {
		fmt.Println("process failed: " + err.Error())
		return
	}
	defer proc.Close()

	fmt.Println("======================================================================")
	fmt.Println("O2 probe                                    (c) 2023-2026 by Bernd Fix")
	fmt.Printf("    Process  '%s'\n", proc.Name())
	fmt.Printf("    Ensemble '%s'\n", proc.Ensemble())
	fmt.Println("======================================================================")

	// offer echo service
	if len(svcName) > 0 {
		err = proc.ServiceNew(svcName, "", func(msg *message.Message, args []any) error {
			fmt.Printf("<== %s %v\n", msg.Address(), args)
			return nil
		})
		if err != nil {
			fmt.Println("service failed: " + err.Error())
			return
		}
	}
	proc.OnStatus(func(name string, status service.Status) {
		fmt.Printf("  * service '%s' is now %s\n", name, status)
	})

	// handle OS signals
	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh)

	last := time.Now()
	counter := int32(0)
loop:
	for {
		if err := proc.Poll(100 * time.Millisecond); err != nil {
			logger.Printf(logger.ERROR, "[probe] poll: %s", err.Error())
			break
		}
		if len(target) > 0 && time.Since(last) > time.Second {
			last = time.Now()
			counter++
			if err := proc.Send(target, 0, counter); err != nil {
				fmt.Printf("send failed: %s\n", err.Error())
			}
		}
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGKILL, syscall.SIGINT, syscall.SIGTERM:
				break loop
			}
		default:
		}
	}
	fmt.Println("probe terminating...")
}
