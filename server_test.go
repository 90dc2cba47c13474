// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/go-daq/cri/conddb"
)

func TestServerLinkConfig(t *testing.T) {
	srv := NewServer("/dev/fake", "", 1000)
	srv.cfgs = []conddb.LinkConfig{
		{Link: 1, EqID: 0x1234, Source: "user"},
	}

	if got, want := srv.linkConfig(1).EqID, uint16(0x1234); got != want {
		t.Fatalf("invalid eq-id: got=0x%04x, want=0x%04x", got, want)
	}

	// links absent from the conditions database fall back to a
	// pattern generator setup.
	cfg := srv.linkConfig(3)
	if got, want := cfg.Source, "pgen"; got != want {
		t.Fatalf("invalid fallback source: got=%q, want=%q", got, want)
	}
	if got, want := cfg.EqID, uint16(0xe003); got != want {
		t.Fatalf("invalid fallback eq-id: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := cfg.PgenRate, 1.0; got != want {
		t.Fatalf("invalid fallback rate: got=%v, want=%v", got, want)
	}
}

func TestServerHarvest(t *testing.T) {
	fname := newFakeBoard(t, 2)

	dev, err := NewDevice(fname)
	if err != nil {
		t.Fatalf("could not open fake board: %+v", err)
	}
	defer dev.Close()

	for _, lnk := range dev.Links() {
		lnk.SetPerfInterval(1000)
	}

	srv := NewServer(fname, "", 1000)
	srv.dev = dev
	srv.done = make(chan int)
	srv.tick(context.Background())

	for i := 0; i < dev.NumLinks(); i++ {
		var (
			raw  = <-srv.perfc
			r    = bytes.NewReader(raw)
			id   uint32
			perf LinkPerf
		)
		err = binary.Read(r, binary.LittleEndian, &id)
		if err != nil {
			t.Fatalf("could not decode link id: %+v", err)
		}
		err = binary.Read(r, binary.LittleEndian, &perf)
		if err != nil {
			t.Fatalf("could not decode perf frame: %+v", err)
		}
		if got, want := id, uint32(i); got != want {
			t.Fatalf("invalid link id: got=%d, want=%d", got, want)
		}
		if got, want := perf.PktCycles, uint32(250_000_000); got != want {
			t.Fatalf("link %d: invalid interval: got=%d, want=%d", i, got, want)
		}
		if r.Len() != 0 {
			t.Fatalf("link %d: %d trailing bytes in perf frame", i, r.Len())
		}
	}
}

// The run loop harvests on its own goroutine while /stop mutates the
// server state: both must go through the server mutex.
func TestServerStopDuringHarvest(t *testing.T) {
	fname := newFakeBoard(t, 2)

	dev, err := NewDevice(fname)
	if err != nil {
		t.Fatalf("could not open fake board: %+v", err)
	}
	defer dev.Close()

	for _, lnk := range dev.Links() {
		lnk.SetPerfInterval(1000)
	}

	srv := NewServer(fname, "", 1000)
	srv.dev = dev
	srv.done = make(chan int)

	ctx := context.Background()
	ticks := make(chan int)
	go func() {
		defer close(ticks)
		for i := 0; i < 200; i++ {
			srv.tick(ctx)
		}
	}()

	// drain the perf stream so harvesting never stalls.
	drained := make(chan int)
	go func() {
		defer close(drained)
		for range srv.perfc {
		}
	}()

	srv.stopRun()
	srv.stopRun() // stopping an already stopped run is a no-op
	<-ticks
	close(srv.perfc)
	<-drained

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.done != nil {
		t.Fatalf("run still marked as taken after stop")
	}
}
