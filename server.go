// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/cri/conddb"
	"github.com/go-daq/tdaq"
)

// Server drives a CRI board as a TDAQ process: /config loads the link
// configuration from the conditions database, /init opens the board,
// /start programs the links and enables readout, /stop disables it.
// Performance snapshots are streamed on the /perf output port while a
// run is taken.
type Server struct {
	devpath string // BAR resource file of the board
	dbname  string // conditions database name; empty: pgen defaults

	mu   sync.Mutex // guards dev, cfgs and done: the run loop reads them concurrently with the command handlers
	dev  *Device
	cfgs []conddb.LinkConfig
	done chan int

	interval uint32 // perf measurement interval, in ms

	perfc chan []byte
}

// NewServer creates a run-control server for the board behind devpath.
func NewServer(devpath, dbname string, interval uint32) *Server {
	return &Server{
		devpath:  devpath,
		dbname:   dbname,
		interval: interval,
		perfc:    make(chan []byte, 32),
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	if srv.dbname == "" {
		srv.mu.Lock()
		srv.cfgs = nil
		srv.mu.Unlock()
		return nil
	}

	db, err := conddb.Open(srv.dbname)
	if err != nil {
		ctx.Msg.Errorf("could not open conditions db %q: %+v", srv.dbname, err)
		return fmt.Errorf("could not open conditions db %q: %w", srv.dbname, err)
	}
	defer db.Close()

	setup, err := db.LastSetupID(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not get last setup-id: %+v", err)
		return fmt.Errorf("could not get last setup-id: %w", err)
	}

	cfgs, err := db.LinkConfigs(ctx.Ctx, setup)
	if err != nil {
		ctx.Msg.Errorf("could not get link configs for setup %d: %+v", setup, err)
		return fmt.Errorf("could not get link configs for setup %d: %w", setup, err)
	}

	ctx.Msg.Infof("configured %d links from setup %d", len(cfgs), setup)
	srv.mu.Lock()
	srv.cfgs = cfgs
	srv.mu.Unlock()
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev, err := NewDevice(srv.devpath)
	if err != nil {
		ctx.Msg.Errorf("could not open CRI board %q: %+v", srv.devpath, err)
		return fmt.Errorf("could not open CRI board %q: %w", srv.devpath, err)
	}

	err = dev.CheckRW()
	if err != nil {
		_ = dev.Close()
		ctx.Msg.Errorf("CRI board %q failed register check: %+v", srv.devpath, err)
		return fmt.Errorf("CRI board %q failed register check: %w", srv.devpath, err)
	}

	ctx.Msg.Infof("CRI board %q: version=0x%x, links=%d",
		srv.devpath, dev.HardwareVersion(), dev.NumLinks(),
	)
	srv.mu.Lock()
	srv.dev = dev
	srv.mu.Unlock()
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return nil
	}
	for _, lnk := range srv.dev.Links() {
		lnk.DisableReadout()
		lnk.ResetPgenMCPending()
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return fmt.Errorf("cri: no board initialized")
	}

	for _, lnk := range srv.dev.Links() {
		cfg := srv.linkConfig(lnk.ID())
		src, err := ParseDataSource(cfg.Source)
		if err != nil {
			ctx.Msg.Errorf("link %d: %+v", lnk.ID(), err)
			return fmt.Errorf("link %d: %w", lnk.ID(), err)
		}

		lnk.SetPgenID(cfg.EqID)
		err = lnk.SetPgenRate(cfg.PgenRate)
		if err != nil {
			ctx.Msg.Errorf("link %d: %+v", lnk.ID(), err)
			return fmt.Errorf("link %d: %w", lnk.ID(), err)
		}
		lnk.SetDataSource(src)
		lnk.SetPerfInterval(srv.interval)
		lnk.EnableReadout()

		ctx.Msg.Infof("link %d: source=%v eq-id=0x%04x pgen-rate=%v",
			lnk.ID(), src, cfg.EqID, cfg.PgenRate,
		)
	}

	srv.done = make(chan int)
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	srv.stopRun()
	return nil
}

// stopRun ends the current run: no further perf harvests, readout
// disabled on every link.
func (srv *Server) stopRun() {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.done != nil {
		close(srv.done)
		srv.done = nil
	}
	if srv.dev == nil {
		return
	}
	for _, lnk := range srv.dev.Links() {
		lnk.DisableReadout()
	}
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	srv.dev = nil
	if err != nil {
		ctx.Msg.Errorf("could not close CRI board: %+v", err)
		return fmt.Errorf("could not close CRI board: %w", err)
	}
	return nil
}

// Perf streams performance snapshot frames on the /perf output port.
func (srv *Server) Perf(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.perfc:
		dst.Body = data
	}
	return nil
}

// Run harvests the performance counters of all links once per
// measurement interval.
func (srv *Server) Run(ctx tdaq.Context) error {
	period := time.Duration(srv.interval) * time.Millisecond
	if period <= 0 {
		period = 1 * time.Second
	}
	tick := time.NewTicker(period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			srv.tick(ctx.Ctx)
		}
	}
}

// tick harvests one round of perf counters, if a run is taken.
func (srv *Server) tick(ctx context.Context) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.dev == nil || srv.done == nil {
		return
	}
	srv.harvest(ctx)
}

// harvest encodes one perf frame per link. Callers hold srv.mu.
func (srv *Server) harvest(ctx context.Context) {
	for _, lnk := range srv.dev.Links() {
		perf := lnk.Perf()
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.LittleEndian, uint32(lnk.ID()))
		_ = binary.Write(buf, binary.LittleEndian, &perf)
		select {
		case srv.perfc <- buf.Bytes():
		default:
			// monitoring is best effort: drop the snapshot if
			// nobody drains the output port fast enough.
		}
	}
}

// linkConfig returns the configuration for link idx, falling back to
// a pattern generator setup when the conditions database provided
// none.
func (srv *Server) linkConfig(idx int) conddb.LinkConfig {
	for _, cfg := range srv.cfgs {
		if cfg.Link == idx {
			return cfg
		}
	}
	return conddb.LinkConfig{
		Link:     idx,
		EqID:     uint16(0xe000 + idx),
		Source:   "pgen",
		PgenRate: 1.0,
	}
}
