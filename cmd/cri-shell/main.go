// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cri-shell provides an interactive shell to poke at a CRI
// board: data source selection, pattern generator setup, readout
// enable and performance counters.
package main // import "github.com/go-daq/cri/cmd/cri-shell"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/go-daq/cri"
	"github.com/peterh/liner"
)

func main() {
	var (
		devpath = flag.String("dev", "/sys/bus/pci/devices/0000:03:00.0/resource0", "BAR resource file of the CRI board")
	)

	log.SetPrefix("cri-shell: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*devpath)
	if err != nil {
		log.Fatalf("could not run cri-shell: %+v", err)
	}
}

var commands = []string{
	"info", "check",
	"source", "readout", "pgen", "interval", "perf", "raw", "test",
	"help", "quit", "exit",
}

func run(devpath string) error {
	dev, err := cri.NewDevice(devpath)
	if err != nil {
		return fmt.Errorf("could not open CRI board %q: %w", devpath, err)
	}
	defer dev.Close()

	fmt.Printf("CRI board %q: version=0x%x, links=%d\n",
		devpath, dev.HardwareVersion(), dev.NumLinks(),
	)

	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) (o []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				o = append(o, cmd)
			}
		}
		return o
	})

	sh := shell{dev: dev}
	for {
		line, err := term.Prompt("cri> ")
		switch err {
		case nil:
			// ok
		case io.EOF, liner.ErrPromptAborted:
			fmt.Printf("\n")
			return nil
		default:
			return fmt.Errorf("could not read line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		if line == "quit" || line == "exit" {
			return nil
		}

		err = sh.dispatch(strings.Fields(line))
		if err != nil {
			fmt.Printf("error: %+v\n", err)
		}
	}
}

type shell struct {
	dev *cri.Device
}

func (sh *shell) dispatch(args []string) error {
	switch args[0] {
	case "help":
		fmt.Printf(`commands:
  info                          board version and link count
  check                         run the scratch register read/write check
  source <link> [name]          get or set the data source (disable|user|pgen)
  readout <link> on|off         enable or disable readout
  pgen <link> id <v>            set the pattern generator equipment id
  pgen <link> rate <frac>       set the pattern generator rate in [0,1]
  pgen <link> reset             reset the pattern generator pending latch
  pgen <link> pending           show the number of pending pgen events
  interval <link> <ms>          set the perf measurement interval
  perf <link>                   show the performance snapshot
  raw <link>                    dump the raw performance registers
  test <link> dma|data [v]      get or set a scratch register
  quit
`)
		return nil

	case "info":
		fmt.Printf("version=0x%x links=%d\n",
			sh.dev.HardwareVersion(), sh.dev.NumLinks(),
		)
		return nil

	case "check":
		err := sh.dev.CheckRW()
		if err != nil {
			return err
		}
		fmt.Printf("ok\n")
		return nil

	case "source":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			fmt.Printf("%v\n", lnk.DataSource())
			return nil
		}
		src, err := cri.ParseDataSource(args[2])
		if err != nil {
			return err
		}
		lnk.SetDataSource(src)
		return nil

	case "readout":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("missing on|off argument")
		}
		switch args[2] {
		case "on":
			lnk.EnableReadout()
		case "off":
			lnk.DisableReadout()
		default:
			return fmt.Errorf("invalid argument %q (want on|off)", args[2])
		}
		return nil

	case "pgen":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("missing pgen sub-command")
		}
		switch args[2] {
		case "id":
			if len(args) < 4 {
				return fmt.Errorf("missing id value")
			}
			v, err := strconv.ParseUint(args[3], 0, 16)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[3], err)
			}
			lnk.SetPgenID(uint16(v))
			return nil
		case "rate":
			if len(args) < 4 {
				return fmt.Errorf("missing rate value")
			}
			v, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", args[3], err)
			}
			return lnk.SetPgenRate(v)
		case "reset":
			lnk.ResetPgenMCPending()
			return nil
		case "pending":
			fmt.Printf("%d\n", lnk.PgenMCPending())
			return nil
		}
		return fmt.Errorf("unknown pgen sub-command %q", args[2])

	case "interval":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			fmt.Printf("%d cycles\n", lnk.PerfIntervalCyclesPkt())
			return nil
		}
		ms, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", args[2], err)
		}
		lnk.SetPerfInterval(uint32(ms))
		return nil

	case "perf":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		perf := lnk.Perf()
		fmt.Printf("rate=%.1f Hz events=%d dma-stall=%d data-stall=%d desc-stall=%d\n",
			lnk.EventRate(), perf.Events,
			perf.DMAStall, perf.DataBufStall, perf.DescBufStall,
		)
		return nil

	case "raw":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		fmt.Printf("%s", lnk.PerfRaw())
		return nil

	case "test":
		lnk, err := sh.link(args)
		if err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("missing dma|data argument")
		}
		if len(args) < 4 {
			switch args[2] {
			case "dma":
				fmt.Printf("0x%08x\n", lnk.TestRegDMA())
			case "data":
				fmt.Printf("0x%08x\n", lnk.TestRegData())
			default:
				return fmt.Errorf("invalid scratch register %q (want dma|data)", args[2])
			}
			return nil
		}
		v, err := strconv.ParseUint(args[3], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[3], err)
		}
		switch args[2] {
		case "dma":
			lnk.SetTestRegDMA(uint32(v))
		case "data":
			lnk.SetTestRegData(uint32(v))
		default:
			return fmt.Errorf("invalid scratch register %q (want dma|data)", args[2])
		}
		return nil
	}

	return fmt.Errorf("unknown command %q (try 'help')", args[0])
}

func (sh *shell) link(args []string) (*cri.Link, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("missing link index")
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid link index %q: %w", args[1], err)
	}
	if idx < 0 || idx >= sh.dev.NumLinks() {
		return nil, fmt.Errorf("link index %d out of range [0,%d)", idx, sh.dev.NumLinks())
	}
	return sh.dev.Link(idx), nil
}
