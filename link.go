// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"fmt"
	"log"
	"math"

	"github.com/go-daq/cri/internal/regs"
)

// DataSource selects what feeds the datapath of a link.
type DataSource uint32

const (
	RxDisable DataSource = 0 // link input disabled
	RxUser    DataSource = 1 // user data from the optical input
	RxPgen    DataSource = 2 // on-board pattern generator
	RxInvalid DataSource = 3 // undefined encoding, never written by this package
)

func (src DataSource) String() string {
	switch src {
	case RxDisable:
		return "disable"
	case RxUser:
		return "user"
	case RxPgen:
		return "pgen"
	}
	return fmt.Sprintf("DataSource(%d)", uint32(src))
}

// ParseDataSource converts a data source name, as stored in the
// conditions database or given on a command line, to a DataSource.
func ParseDataSource(name string) (DataSource, error) {
	switch name {
	case "disable", "off":
		return RxDisable, nil
	case "user":
		return RxUser, nil
	case "pgen":
		return RxPgen, nil
	}
	return RxInvalid, fmt.Errorf("cri: unknown data source %q: %w", name, ErrContract)
}

// Link is the control and readout unit for one physical optical link
// of a CRI board.
//
// A Link is not safe for concurrent use: each instance must be driven
// by a single logical owner at a time. A monitoring goroutine may read
// the performance counters while a control goroutine owns the rest of
// the register map, per the single-writer-per-register discipline of
// the firmware.
type Link struct {
	idx int
	msg *log.Logger

	rfpkt *regFile // packet-domain registers
	rfgtx *regFile // transceiver-domain registers

	dma *DMAChannel

	// Cached last interval written to PERF_INTERVAL, in pkt cycles.
	// Rate computations use the cache: by the time a consumer reads
	// the counters, the register may already hold the next interval,
	// and read-after-write is not reliable on this hardware family.
	perfCyclesPkt uint32
	perfCyclesGTX uint32
}

func newLink(idx int, rw rwer, msg *log.Logger) *Link {
	base := int64(idx+1) << regs.CH_ADDR_SEL
	lnk := &Link{
		idx:   idx,
		msg:   msg,
		rfpkt: newRegFile(rw, base),
		rfgtx: newRegFile(rw, base+1<<regs.DMA_ADDR_SEL),
	}
	lnk.perfCyclesPkt = lnk.rfpkt.get(regs.PERF_INTERVAL)
	// The gtx-domain interval counter is not implemented in this
	// firmware revision.
	lnk.perfCyclesGTX = 1
	return lnk
}

// ID returns the physical link index on the board.
func (lnk *Link) ID() int { return lnk.idx }

// EnableReadout marks the link ready for data.
func (lnk *Link) EnableReadout() { lnk.setReadyForData(true) }

// DisableReadout clears the ready-for-data flag.
func (lnk *Link) DisableReadout() { lnk.setReadyForData(false) }

func (lnk *Link) setReadyForData(on bool) {
	lnk.rfgtx.setBit(regs.GTX_DATAPATH_CFG, regs.DATAPATH_BIT_RFD, on)
}

// SetDataSource selects the datapath input. The masked write leaves
// the ready-for-data flag, which lives in the same register, alone.
func (lnk *Link) SetDataSource(src DataSource) {
	lnk.rfgtx.setMask(regs.GTX_DATAPATH_CFG, uint32(src), regs.DATAPATH_SRC_MASK)
}

// DataSource reports the currently selected datapath input. The
// undefined 2-bit encoding decodes to RxInvalid.
func (lnk *Link) DataSource() DataSource {
	return DataSource(lnk.rfgtx.get(regs.GTX_DATAPATH_CFG) & regs.DATAPATH_SRC_MASK)
}

// SetPgenID writes the 16-bit equipment identifier the pattern
// generator stamps into its output.
func (lnk *Link) SetPgenID(id uint16) {
	lnk.rfgtx.setMask(regs.GTX_MC_PGEN_CFG_L, uint32(id), regs.PGEN_ID_MASK)
}

// SetPgenRate sets the pattern generator rate as a fraction in [0,1]
// of the maximum. The hardware wants an inverted 16-bit threshold:
// rate 1.0 maps to threshold 0 (generate every cycle), rate 0.0 to
// threshold 65535. The threshold is rounded to nearest.
func (lnk *Link) SetPgenRate(rate float64) error {
	if rate < 0 || rate > 1 || math.IsNaN(rate) {
		return fmt.Errorf("cri: link %d: pgen rate %v not in [0,1]: %w",
			lnk.idx, rate, ErrContract,
		)
	}
	thr := uint32(math.Round((1 - rate) * math.MaxUint16))
	lnk.rfgtx.setMask(regs.GTX_MC_PGEN_CFG_L,
		thr<<regs.PGEN_RATE_SHIFT, regs.PGEN_RATE_MASK,
	)
	return nil
}

// ResetPgenMCPending clears the pattern generator pending-event latch.
// Pulse write: the hardware clears the bit itself.
func (lnk *Link) ResetPgenMCPending() {
	lnk.rfgtx.setBit(regs.GTX_MC_PGEN_CFG_H, regs.PGEN_BIT_RST_PENDING, true)
}

// PgenMCPending returns the number of pattern generator events still
// pending.
func (lnk *Link) PgenMCPending() uint32 {
	return lnk.rfgtx.get(regs.GTX_MC_PGEN_MC_PENDING)
}

// SetTestRegDMA writes the packet-domain scratch register.
func (lnk *Link) SetTestRegDMA(v uint32) { lnk.rfpkt.set(regs.TESTREG_DMA, v) }

// TestRegDMA reads the packet-domain scratch register.
func (lnk *Link) TestRegDMA() uint32 { return lnk.rfpkt.get(regs.TESTREG_DMA) }

// SetTestRegData writes the transceiver-domain scratch register.
func (lnk *Link) SetTestRegData(v uint32) { lnk.rfgtx.set(regs.TESTREG_DATA, v) }

// TestRegData reads the transceiver-domain scratch register.
func (lnk *Link) TestRegData() uint32 { return lnk.rfgtx.get(regs.TESTREG_DATA) }
