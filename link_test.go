// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"errors"
	"log"
	"math"
	"os"
	"testing"

	"github.com/go-daq/cri/internal/regs"
)

// fakeLink builds a link over an in-memory BAR big enough for its
// register window.
func fakeLink(idx int) (*Link, *fakeBAR) {
	bar := newFakeBAR(4 * ((idx + 2) << regs.CH_ADDR_SEL))
	msg := log.New(os.Stdout, "cri: ", 0)
	return newLink(idx, bar, msg), bar
}

func TestLinkBaseAddress(t *testing.T) {
	for _, idx := range []int{0, 1, 2, 7} {
		lnk, bar := fakeLink(idx)

		pkt := int64(idx+1) << regs.CH_ADDR_SEL
		gtx := pkt + 1<<regs.DMA_ADDR_SEL

		lnk.SetTestRegDMA(0x12345678)
		if got, want := bar.word(4*(pkt+regs.TESTREG_DMA)), uint32(0x12345678); got != want {
			t.Fatalf("link %d: invalid pkt window base: got=0x%08x, want=0x%08x", idx, got, want)
		}

		lnk.SetTestRegData(0x87654321)
		if got, want := bar.word(4*(gtx+regs.TESTREG_DATA)), uint32(0x87654321); got != want {
			t.Fatalf("link %d: invalid gtx window base: got=0x%08x, want=0x%08x", idx, got, want)
		}
	}
}

func TestDataSourceString(t *testing.T) {
	for _, tc := range []struct {
		src  DataSource
		want string
	}{
		{RxDisable, "disable"},
		{RxUser, "user"},
		{RxPgen, "pgen"},
		{RxInvalid, "DataSource(3)"},
	} {
		if got := tc.src.String(); got != tc.want {
			t.Fatalf("invalid string for %d: got=%q, want=%q", uint32(tc.src), got, tc.want)
		}
	}
}

func TestParseDataSource(t *testing.T) {
	for _, tc := range []struct {
		name string
		want DataSource
		err  bool
	}{
		{"disable", RxDisable, false},
		{"off", RxDisable, false},
		{"user", RxUser, false},
		{"pgen", RxPgen, false},
		{"bogus", RxInvalid, true},
	} {
		got, err := ParseDataSource(tc.name)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected an error", tc.name)
			}
			if !errors.Is(err, ErrContract) {
				t.Fatalf("%q: error does not wrap ErrContract: %+v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: could not parse: %+v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got=%v, want=%v", tc.name, got, tc.want)
		}
	}
}

func TestDataSourceRoundTrip(t *testing.T) {
	lnk, _ := fakeLink(0)

	lnk.EnableReadout()
	for _, src := range []DataSource{RxPgen, RxUser, RxDisable} {
		lnk.SetDataSource(src)
		if got := lnk.DataSource(); got != src {
			t.Fatalf("invalid data source round-trip: got=%v, want=%v", got, src)
		}
		// the ready-for-data flag lives in the same register and must
		// survive the source selection.
		cfg := lnk.rfgtx.get(regs.GTX_DATAPATH_CFG)
		if cfg&(1<<regs.DATAPATH_BIT_RFD) == 0 {
			t.Fatalf("source %v clobbered the ready-for-data flag (cfg=0x%08x)", src, cfg)
		}
	}

	lnk.DisableReadout()
	cfg := lnk.rfgtx.get(regs.GTX_DATAPATH_CFG)
	if cfg&(1<<regs.DATAPATH_BIT_RFD) != 0 {
		t.Fatalf("could not clear the ready-for-data flag (cfg=0x%08x)", cfg)
	}
	if got, want := lnk.DataSource(), RxDisable; got != want {
		t.Fatalf("readout disable clobbered the source: got=%v, want=%v", got, want)
	}
}

func TestPgenRate(t *testing.T) {
	lnk, _ := fakeLink(1)

	lnk.SetPgenID(0xe001)
	for _, tc := range []struct {
		rate float64
		want uint32 // threshold in the high half-word
	}{
		{1.0, 0},
		{0.0, 65535},
		{0.5, 32768},
		{0.25, 49151},
	} {
		err := lnk.SetPgenRate(tc.rate)
		if err != nil {
			t.Fatalf("rate=%v: could not set pgen rate: %+v", tc.rate, err)
		}
		cfg := lnk.rfgtx.get(regs.GTX_MC_PGEN_CFG_L)
		if got := cfg >> regs.PGEN_RATE_SHIFT; got != tc.want {
			t.Fatalf("rate=%v: invalid threshold: got=%d, want=%d", tc.rate, got, tc.want)
		}
		if got, want := cfg&regs.PGEN_ID_MASK, uint32(0xe001); got != want {
			t.Fatalf("rate=%v: clobbered pgen id: got=0x%04x, want=0x%04x", tc.rate, got, want)
		}
	}
}

func TestPgenRateInvalid(t *testing.T) {
	lnk, _ := fakeLink(0)

	for _, rate := range []float64{-0.1, 1.1, math.NaN()} {
		err := lnk.SetPgenRate(rate)
		if err == nil {
			t.Fatalf("rate=%v: expected an error", rate)
		}
		if !errors.Is(err, ErrContract) {
			t.Fatalf("rate=%v: error does not wrap ErrContract: %+v", rate, err)
		}
	}
}

func TestPgenID(t *testing.T) {
	lnk, _ := fakeLink(0)

	err := lnk.SetPgenRate(0.5)
	if err != nil {
		t.Fatalf("could not set pgen rate: %+v", err)
	}
	lnk.SetPgenID(0xbeef)

	cfg := lnk.rfgtx.get(regs.GTX_MC_PGEN_CFG_L)
	if got, want := cfg&regs.PGEN_ID_MASK, uint32(0xbeef); got != want {
		t.Fatalf("invalid pgen id: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := cfg>>regs.PGEN_RATE_SHIFT, uint32(32768); got != want {
		t.Fatalf("pgen id clobbered the rate threshold: got=%d, want=%d", got, want)
	}
}

func TestPgenMCPending(t *testing.T) {
	lnk, bar := fakeLink(0)

	gtx := int64(1)<<regs.CH_ADDR_SEL + 1<<regs.DMA_ADDR_SEL
	bar.setWord(4*(gtx+regs.GTX_MC_PGEN_MC_PENDING), 12)
	if got, want := lnk.PgenMCPending(), uint32(12); got != want {
		t.Fatalf("invalid pending count: got=%d, want=%d", got, want)
	}

	lnk.ResetPgenMCPending()
	cfg := lnk.rfgtx.get(regs.GTX_MC_PGEN_CFG_H)
	if cfg&(1<<regs.PGEN_BIT_RST_PENDING) == 0 {
		t.Fatalf("reset pulse bit not written (cfg=0x%08x)", cfg)
	}
}

func TestPerfInterval(t *testing.T) {
	lnk, _ := fakeLink(0)

	lnk.SetPerfInterval(1000)
	if got, want := lnk.PerfIntervalCyclesPkt(), uint32(250_000_000); got != want {
		t.Fatalf("invalid cached interval: got=%d, want=%d", got, want)
	}
	if got, want := lnk.rfpkt.get(regs.PERF_INTERVAL), uint32(250_000_000); got != want {
		t.Fatalf("invalid interval register: got=%d, want=%d", got, want)
	}

	// intervals beyond 17s would overflow the 32-bit cycle counter
	// and are clamped.
	lnk.SetPerfInterval(60_000)
	if got, want := lnk.PerfIntervalCyclesPkt(), uint32(4_250_000_000); got != want {
		t.Fatalf("invalid clamped interval: got=%d, want=%d", got, want)
	}
}

func TestEventRate(t *testing.T) {
	lnk, _ := fakeLink(0)

	lnk.SetPerfInterval(1000)
	lnk.rfpkt.set(regs.PERF_N_EVENTS, 12345)

	if got, want := lnk.EventRate(), 12345.0; got != want {
		t.Fatalf("invalid event rate: got=%v, want=%v", got, want)
	}

	lnk.SetPerfInterval(500)
	if got, want := lnk.EventRate(), 24690.0; got != want {
		t.Fatalf("invalid event rate: got=%v, want=%v", got, want)
	}
}

func TestPerfSnapshotFrozen(t *testing.T) {
	lnk, _ := fakeLink(0)

	lnk.SetPerfInterval(1000)
	lnk.rfpkt.set(regs.PERF_DMA_STALL, 11)
	lnk.rfpkt.set(regs.PERF_EBUF_STALL, 22)
	lnk.rfpkt.set(regs.PERF_RBUF_STALL, 33)
	lnk.rfpkt.set(regs.PERF_N_EVENTS, 44)

	perf := lnk.Perf()
	want := LinkPerf{
		PktCycles:    250_000_000,
		GTXCycles:    1,
		DMAStall:     11,
		DataBufStall: 22,
		DescBufStall: 33,
		Events:       44,
		DinFullGTX:   0,
	}
	if perf != want {
		t.Fatalf("invalid snapshot:\ngot= %#v\nwant=%#v", perf, want)
	}

	// a snapshot is frozen: counter and interval changes after the
	// fact must not show through.
	lnk.SetPerfInterval(2000)
	lnk.rfpkt.set(regs.PERF_N_EVENTS, 99)
	if perf != want {
		t.Fatalf("snapshot mutated:\ngot= %#v\nwant=%#v", perf, want)
	}
}

func TestPerfRaw(t *testing.T) {
	lnk, _ := fakeLink(0)

	lnk.SetPerfInterval(100)
	lnk.rfpkt.set(regs.PERF_N_EVENTS, 7)

	want := "pkt_interval 25000000\nevent rate 7\ndma stall 0\ndata buf stall 0\ndesc buf stall 0\n"
	if got := lnk.PerfRaw(); got != want {
		t.Fatalf("invalid raw dump:\ngot= %q\nwant=%q", got, want)
	}
}

// A monitoring goroutine may read the perf counters while the control
// goroutine writes other registers of the same domain: register
// accesses must not share state.
func TestPerfReadDuringControlWrite(t *testing.T) {
	lnk, _ := fakeLink(0)

	done := make(chan int)
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = lnk.DMAStall()
			_ = lnk.EventCount()
		}
	}()

	for i := 0; i < 1000; i++ {
		lnk.rfpkt.set(regs.DMA_CFG, uint32(i))
	}
	<-done
}

func TestLinkScenario(t *testing.T) {
	lnk, _ := fakeLink(2)

	lnk.SetPgenID(0xe002)
	err := lnk.SetPgenRate(0.5)
	if err != nil {
		t.Fatalf("could not set pgen rate: %+v", err)
	}
	lnk.SetDataSource(RxPgen)
	lnk.SetPerfInterval(1000)
	lnk.EnableReadout()

	cfg := lnk.rfgtx.get(regs.GTX_MC_PGEN_CFG_L)
	if got, want := cfg, uint32(32768<<16|0xe002); got != want {
		t.Fatalf("invalid pgen config: got=0x%08x, want=0x%08x", got, want)
	}

	dp := lnk.rfgtx.get(regs.GTX_DATAPATH_CFG)
	if got, want := dp&regs.DATAPATH_SRC_MASK, uint32(RxPgen); got != want {
		t.Fatalf("invalid data source: got=%d, want=%d", got, want)
	}
	if dp&(1<<regs.DATAPATH_BIT_RFD) == 0 {
		t.Fatalf("link not ready for data (cfg=0x%08x)", dp)
	}
}
