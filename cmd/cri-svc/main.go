// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cri-svc starts a TDAQ server controlling one CRI board.
//
// Usage: cri-svc [tdaq flags] <bar-resource-file> [conddb-name]
package main // import "github.com/go-daq/cri/cmd/cri-svc"

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/go-daq/cri"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) < 1 {
		log.Fatalf("missing BAR resource file argument")
	}

	var (
		devpath = cmd.Args[0]
		dbname  = ""
		ivl     = uint32(1000)
	)
	if len(cmd.Args) > 1 {
		dbname = cmd.Args[1]
	}
	if len(cmd.Args) > 2 {
		v, err := strconv.ParseUint(cmd.Args[2], 10, 32)
		if err != nil {
			log.Fatalf("invalid perf interval %q: %+v", cmd.Args[2], err)
		}
		ivl = uint32(v)
	}

	dev := cri.NewServer(devpath, dbname, ivl)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/perf", dev.Perf)

	srv.RunHandle(dev.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
