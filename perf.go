// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"fmt"
	"strings"

	"github.com/go-daq/cri/internal/regs"
)

// maxPerfInterval is the longest measurement interval, in ms, that
// the 32-bit interval register can represent at the pkt clock rate.
const maxPerfInterval = 17000

// LinkPerf is a frozen snapshot of the performance counters of one
// link over the last completed measurement interval. Producing a new
// snapshot never mutates a previously returned one.
//
// GTXCycles and DinFullGTX are placeholders: the transceiver-domain
// counters are not implemented in this firmware revision and always
// read 1 and 0 respectively. The fields are kept so the snapshot
// shape does not change for downstream consumers once the firmware
// grows them.
type LinkPerf struct {
	PktCycles    uint32 // interval length, pkt-domain cycles
	GTXCycles    uint32 // interval length, gtx-domain cycles (placeholder)
	DMAStall     uint32 // packetizer could not send data (pkt cycles)
	DataBufStall uint32 // stall from data buffer pointer match (pkt cycles)
	DescBufStall uint32 // stall from descriptor buffer pointer match (pkt cycles)
	Events       uint32 // events seen in the interval
	DinFullGTX   uint32 // input fifo backpressure (placeholder)
}

// SetPerfInterval sets the counter measurement interval, in ms,
// clamped to 17s. The interval is written to the hardware as a
// pkt-domain cycle count and cached: all rate computations use the
// cached value.
func (lnk *Link) SetPerfInterval(ms uint32) {
	if ms > maxPerfInterval {
		ms = maxPerfInterval
	}
	lnk.perfCyclesPkt = uint32(float64(ms) * (regs.PKT_CLK * 1e-3))
	lnk.rfpkt.set(regs.PERF_INTERVAL, lnk.perfCyclesPkt)
}

// PerfIntervalCyclesPkt returns the cached interval length in
// pkt-domain cycles.
func (lnk *Link) PerfIntervalCyclesPkt() uint32 { return lnk.perfCyclesPkt }

// DMAStall returns the cycles the packetizer could not send data.
func (lnk *Link) DMAStall() uint32 { return lnk.rfpkt.get(regs.PERF_DMA_STALL) }

// DataBufStall returns the cycles stalled on the data buffer.
func (lnk *Link) DataBufStall() uint32 { return lnk.rfpkt.get(regs.PERF_EBUF_STALL) }

// DescBufStall returns the cycles stalled on the descriptor buffer.
func (lnk *Link) DescBufStall() uint32 { return lnk.rfpkt.get(regs.PERF_RBUF_STALL) }

// EventCount returns the number of events seen in the interval.
func (lnk *Link) EventCount() uint32 { return lnk.rfpkt.get(regs.PERF_N_EVENTS) }

// DinFullGTX returns the input fifo backpressure cycle count.
// Not exposed by this firmware revision: always 0.
func (lnk *Link) DinFullGTX() uint32 { return 0 }

// EventRate returns the event rate in Hz over the last interval.
// The result is undefined before the first SetPerfInterval call.
func (lnk *Link) EventRate() float64 {
	return float64(lnk.EventCount()) / (float64(lnk.perfCyclesPkt) / regs.PKT_CLK)
}

// Perf assembles a snapshot of the performance counters.
func (lnk *Link) Perf() LinkPerf {
	return LinkPerf{
		PktCycles:    lnk.perfCyclesPkt,
		GTXCycles:    lnk.perfCyclesGTX,
		DMAStall:     lnk.DMAStall(),
		DataBufStall: lnk.DataBufStall(),
		DescBufStall: lnk.DescBufStall(),
		Events:       lnk.EventCount(),
		DinFullGTX:   lnk.DinFullGTX(),
	}
}

// PerfRaw returns a human-readable dump of the raw performance
// registers, for diagnostics.
func (lnk *Link) PerfRaw() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "pkt_interval %d\n", lnk.rfpkt.get(regs.PERF_INTERVAL))
	fmt.Fprintf(o, "event rate %d\n", lnk.rfpkt.get(regs.PERF_N_EVENTS))
	fmt.Fprintf(o, "dma stall %d\n", lnk.rfpkt.get(regs.PERF_DMA_STALL))
	fmt.Fprintf(o, "data buf stall %d\n", lnk.rfpkt.get(regs.PERF_EBUF_STALL))
	fmt.Fprintf(o, "desc buf stall %d\n", lnk.rfpkt.get(regs.PERF_RBUF_STALL))
	return o.String()
}
