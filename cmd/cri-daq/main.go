// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cri-daq drives a CRI board in stand-alone mode: it
// configures the links, attaches DMA ring buffers, enables readout
// and periodically harvests the performance counters.
package main // import "github.com/go-daq/cri/cmd/cri-daq"

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
	"github.com/go-daq/cri/conddb"
	"github.com/go-daq/cri/monitoring"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		devpath = flag.String("dev", "/sys/bus/pci/devices/0000:03:00.0/resource0", "BAR resource file of the CRI board")
		dbname  = flag.String("db", "", "conditions database name (empty: use -source/-pgen-rate for all links)")
		source  = flag.String("source", "pgen", "data source for all links (disable|user|pgen)")
		rate    = flag.Float64("pgen-rate", 1.0, "pattern generator rate, fraction of maximum in [0,1]")
		eqid    = flag.Int("eq-id", 0xe000, "equipment identifier of link 0 (link i gets eq-id+i)")
		ivl     = flag.Uint("perf-ms", 1000, "performance counter interval in ms")

		dataAddr = flag.String("data-addr", "", "bus address (hex) of the data ring buffer of link 0")
		dataLog  = flag.Uint("data-log", 27, "log2 size of the data ring buffers")
		descAddr = flag.String("desc-addr", "", "bus address (hex) of the descriptor ring buffer of link 0")
		descLog  = flag.Uint("desc-log", 23, "log2 size of the descriptor ring buffers")

		mon = flag.String("mon", "", "influx monitoring endpoint host:[port]:[bucket]:[token] (empty: log only)")
	)

	log.SetPrefix("cri-daq: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*devpath, *dbname, *source, *rate, *eqid, uint32(*ivl),
		*dataAddr, uint32(*dataLog), *descAddr, uint32(*descLog), *mon,
	)
	if err != nil {
		log.Fatalf("could not run cri-daq: %+v", err)
	}
}

func run(devpath, dbname, source string, rate float64, eqid int, ivl uint32,
	dataAddr string, dataLog uint32, descAddr string, descLog uint32, monEP string) error {

	dev, err := cri.NewDevice(devpath)
	if err != nil {
		return fmt.Errorf("could not open CRI board %q: %w", devpath, err)
	}
	defer dev.Close()

	log.Printf("CRI board %q: version=0x%x, links=%d",
		devpath, dev.HardwareVersion(), dev.NumLinks(),
	)

	err = dev.CheckRW()
	if err != nil {
		return fmt.Errorf("register check failed: %w", err)
	}

	cfgs, err := linkConfigs(dev, dbname, source, rate, eqid)
	if err != nil {
		return err
	}

	err = configure(dev, cfgs, ivl, dataAddr, dataLog, descAddr, descLog)
	if err != nil {
		return err
	}

	var sinks []monitoring.Sink
	sinks = append(sinks, monitoring.NewWriterSink(os.Stdout))
	if monEP != "" {
		influx, err := monitoring.NewInfluxSink(monEP)
		if err != nil {
			return fmt.Errorf("could not create influx sink: %w", err)
		}
		sinks = append(sinks, influx)
	}
	monitor := monitoring.NewMonitor(time.Duration(ivl)*time.Millisecond, sinks...)
	defer monitor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, lnk := range dev.Links() {
		lnk.EnableReadout()
	}
	defer func() {
		for _, lnk := range dev.Links() {
			lnk.DisableReadout()
		}
	}()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return harvest(ctx, dev, monitor, time.Duration(ivl)*time.Millisecond)
	})

	log.Printf("readout enabled, harvesting perf counters... (ctrl-c to stop)")
	return grp.Wait()
}

func linkConfigs(dev *cri.Device, dbname, source string, rate float64, eqid int) ([]conddb.LinkConfig, error) {
	if dbname != "" {
		db, err := conddb.Open(dbname)
		if err != nil {
			return nil, fmt.Errorf("could not open conditions db %q: %w", dbname, err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		setup, err := db.LastSetupID(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get last setup-id: %w", err)
		}
		cfgs, err := db.LinkConfigs(ctx, setup)
		if err != nil {
			return nil, fmt.Errorf("could not get link configs: %w", err)
		}
		log.Printf("loaded %d link configs from setup %d", len(cfgs), setup)
		return cfgs, nil
	}

	cfgs := make([]conddb.LinkConfig, dev.NumLinks())
	for i := range cfgs {
		cfgs[i] = conddb.LinkConfig{
			Link:     i,
			EqID:     uint16(eqid + i),
			Source:   source,
			PgenRate: rate,
		}
	}
	return cfgs, nil
}

func configure(dev *cri.Device, cfgs []conddb.LinkConfig, ivl uint32,
	dataAddr string, dataLog uint32, descAddr string, descLog uint32) error {

	for _, cfg := range cfgs {
		if cfg.Link < 0 || cfg.Link >= dev.NumLinks() {
			return fmt.Errorf("invalid link index %d in configuration", cfg.Link)
		}
		lnk := dev.Link(cfg.Link)

		src, err := cri.ParseDataSource(cfg.Source)
		if err != nil {
			return fmt.Errorf("link %d: %w", cfg.Link, err)
		}

		lnk.SetPgenID(cfg.EqID)
		err = lnk.SetPgenRate(cfg.PgenRate)
		if err != nil {
			return fmt.Errorf("link %d: %w", cfg.Link, err)
		}
		lnk.SetDataSource(src)
		lnk.SetPerfInterval(ivl)

		if dataAddr != "" && descAddr != "" {
			data, err := parseAddr(dataAddr)
			if err != nil {
				return fmt.Errorf("link %d: invalid data buffer address: %w", cfg.Link, err)
			}
			desc, err := parseAddr(descAddr)
			if err != nil {
				return fmt.Errorf("link %d: invalid descriptor buffer address: %w", cfg.Link, err)
			}
			// links get consecutive slices of the reserved region
			data += uint64(cfg.Link) << dataLog
			desc += uint64(cfg.Link) << descLog

			err = lnk.InitDMA(data, dataLog, desc, descLog)
			if err != nil {
				return fmt.Errorf("link %d: could not init DMA: %w", cfg.Link, err)
			}
		}

		log.Printf("link %d: source=%v eq-id=0x%04x pgen-rate=%v",
			cfg.Link, src, cfg.EqID, cfg.PgenRate,
		)
	}
	return nil
}

func harvest(ctx context.Context, dev *cri.Device, mon *monitoring.Monitor, period time.Duration) error {
	tick := time.NewTicker(period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			for _, lnk := range dev.Links() {
				perf := lnk.Perf()
				mon.QueueMetric("link_perf",
					map[string]string{"link": strconv.Itoa(lnk.ID())},
					map[string]interface{}{
						"dma_stall":      perf.DMAStall,
						"data_buf_stall": perf.DataBufStall,
						"desc_buf_stall": perf.DescBufStall,
						"events":         perf.Events,
						"rate":           lnk.EventRate(),
					},
				)
			}
		}
	}
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}
