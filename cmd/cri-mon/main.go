// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cri-mon watches the performance counters of a CRI board and
// prints the per-link event rates and stall counters. Rates can also
// be pushed to an InfluxDB instance.
package main // import "github.com/go-daq/cri/cmd/cri-mon"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-daq/cri"
	"github.com/go-daq/cri/monitoring"
	"go-hep.org/x/hep/hbook"
)

func main() {
	var (
		devpath = flag.String("dev", "/sys/bus/pci/devices/0000:03:00.0/resource0", "BAR resource file of the CRI board")
		ivl     = flag.Uint("perf-ms", 1000, "performance counter interval in ms")
		n       = flag.Int("n", 0, "number of measurements to take (0: until ctrl-c)")
		raw     = flag.Bool("raw", false, "dump the raw performance registers")
		monEP   = flag.String("mon", "", "influx monitoring endpoint host:[port]:[bucket]:[token]")
		maxRate = flag.Float64("max-rate", 1e6, "upper edge of the event rate histograms, in Hz")
	)

	log.SetPrefix("cri-mon: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*devpath, uint32(*ivl), *n, *raw, *monEP, *maxRate)
	if err != nil {
		log.Fatalf("could not run cri-mon: %+v", err)
	}
}

func run(devpath string, ivl uint32, n int, raw bool, monEP string, maxRate float64) error {
	dev, err := cri.NewDevice(devpath)
	if err != nil {
		return fmt.Errorf("could not open CRI board %q: %w", devpath, err)
	}
	defer dev.Close()

	log.Printf("CRI board %q: version=0x%x, links=%d",
		devpath, dev.HardwareVersion(), dev.NumLinks(),
	)

	var monitor *monitoring.Monitor
	if monEP != "" {
		influx, err := monitoring.NewInfluxSink(monEP)
		if err != nil {
			return fmt.Errorf("could not create influx sink: %w", err)
		}
		monitor = monitoring.NewMonitor(time.Duration(ivl)*time.Millisecond, influx)
		defer monitor.Close()
	}

	for _, lnk := range dev.Links() {
		lnk.SetPerfInterval(ivl)
	}

	hs := make([]*hbook.H1D, dev.NumLinks())
	for i := range hs {
		hs[i] = hbook.NewH1D(100, 0, maxRate)
	}
	defer summary(hs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tick := time.NewTicker(time.Duration(ivl) * time.Millisecond)
	defer tick.Stop()

	for i := 0; n <= 0 || i < n; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			for _, lnk := range dev.Links() {
				if raw {
					fmt.Printf("== link %d ==\n%s", lnk.ID(), lnk.PerfRaw())
					continue
				}
				perf := lnk.Perf()
				rate := lnk.EventRate()
				hs[lnk.ID()].Fill(rate, 1)
				fmt.Printf("link %d: rate=%10.1f Hz events=%10d dma-stall=%10d data-stall=%10d desc-stall=%10d\n",
					lnk.ID(), rate, perf.Events,
					perf.DMAStall, perf.DataBufStall, perf.DescBufStall,
				)
				if monitor != nil {
					monitor.QueueMetric("link_perf",
						map[string]string{"link": strconv.Itoa(lnk.ID())},
						map[string]interface{}{
							"dma_stall":      perf.DMAStall,
							"data_buf_stall": perf.DataBufStall,
							"desc_buf_stall": perf.DescBufStall,
							"events":         perf.Events,
							"rate":           rate,
						},
					)
				}
			}
		}
	}
	return nil
}

func summary(hs []*hbook.H1D) {
	for i, h := range hs {
		if h.Entries() == 0 {
			continue
		}
		log.Printf("link %d: rate mean=%.1f Hz rms=%.1f Hz (%d samples)",
			i, h.XMean(), h.XRMS(), h.Entries(),
		)
	}
}
