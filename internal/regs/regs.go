// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the CRI readout controller
// firmware. Register constants are 32-bit word offsets from the base
// address of their register domain. The layout mirrors the firmware
// address decoder and must be kept bit-exact with it.
package regs // import "github.com/go-daq/cri/internal/regs"

// Address decoding.
//
// The BAR is split into per-link windows of 1<<CH_ADDR_SEL words.
// Link i owns the window starting at (i+1)<<CH_ADDR_SEL; the first
// window holds the board-global registers. Within a link window, the
// transceiver (gtx) register domain starts at 1<<DMA_ADDR_SEL words
// past the packet domain.
const (
	CH_ADDR_SEL  = 9
	DMA_ADDR_SEL = 8
)

// Clock frequencies of the two register domains, in Hz.
const (
	PKT_CLK = 250e6
	GTX_CLK = 161.1328125e6
)

// Board-global registers (window 0).
const (
	HARDWARE_ID      = 0x00
	HARDWARE_VERSION = 0x01
	N_LINKS          = 0x02
)

// HARDWARE_ID content for this controller family ("CRI ").
const HARDWARE_ID_MAGIC = 0x43524920

// Packet-domain registers, per link.
const (
	TESTREG_DMA     = 0x00
	DMA_CFG         = 0x01
	DMA_DATA_ADDR_L = 0x02
	DMA_DATA_ADDR_H = 0x03
	DMA_DESC_ADDR_L = 0x04
	DMA_DESC_ADDR_H = 0x05
	DMA_BUF_SZ      = 0x06
	PERF_INTERVAL   = 0x08
	PERF_DMA_STALL  = 0x09
	PERF_EBUF_STALL = 0x0a
	PERF_RBUF_STALL = 0x0b
	PERF_N_EVENTS   = 0x0c
)

// DMA_CFG fields.
const (
	DMA_CFG_BIT_ENABLE = 0 // r/w: DMA engine enable
	DMA_CFG_BIT_RESET  = 1 // pulse: flush and reset engine state
	DMA_CFG_BIT_BUSY   = 2 // r/o: transfer in flight

	DMA_CFG_TSIZE_SHIFT = 16
	DMA_CFG_TSIZE_MASK  = 0xffff0000
)

// DMA_BUF_SZ fields: log2 sizes of the data and descriptor ring buffers.
const (
	DMA_BUF_SZ_DATA_SHIFT = 0
	DMA_BUF_SZ_DATA_MASK  = 0x000000ff
	DMA_BUF_SZ_DESC_SHIFT = 8
	DMA_BUF_SZ_DESC_MASK  = 0x0000ff00
)

// Transceiver-domain (gtx) registers, per link.
const (
	TESTREG_DATA           = 0x00
	GTX_DATAPATH_CFG       = 0x01
	GTX_MC_PGEN_CFG_L      = 0x02
	GTX_MC_PGEN_CFG_H      = 0x03
	GTX_MC_PGEN_MC_PENDING = 0x04
)

// GTX_DATAPATH_CFG fields.
const (
	DATAPATH_SRC_MASK = 0x3 // bits 1:0: data source selection
	DATAPATH_BIT_RFD  = 2   // "ready for data" enable
)

// GTX_MC_PGEN_CFG_L fields.
const (
	PGEN_ID_MASK    = 0x0000ffff // equipment identifier
	PGEN_RATE_SHIFT = 16
	PGEN_RATE_MASK  = 0xffff0000 // rate threshold
)

// GTX_MC_PGEN_CFG_H fields.
const (
	PGEN_BIT_RST_PENDING = 0 // pulse: clear the pending-event latch
)
