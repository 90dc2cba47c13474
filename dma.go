// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"errors"
	"fmt"

	"github.com/go-daq/cri/internal/regs"
)

var (
	// ErrContract marks a programming error: an argument outside the
	// contract of the hardware interface. Never retried.
	ErrContract = errors.New("cri: contract violation")

	// ErrNotInitialized is returned by Link.DMA when no DMA channel
	// has been attached to the link.
	ErrNotInitialized = errors.New("cri: DMA channel not initialized")
)

const (
	// dmaTransferSize is the fixed granularity of a DMA transfer,
	// a hardware constant for this controller family.
	dmaTransferSize = 128

	// log2 of the smallest ring buffers the engine can address:
	// the data buffer must hold at least one transfer, the
	// descriptor buffer at least one 16-byte descriptor entry.
	minDataLogSize = 7
	minDescLogSize = 4
	maxBufLogSize  = 47
)

// dmaBuf describes one host-memory ring buffer: bus address and log2
// of its size. Power-of-two sizes make address wraparound a bitmask
// operation in the firmware.
type dmaBuf struct {
	addr    uint64
	logSize uint32
}

func (buf dmaBuf) size() uint64 { return 1 << buf.logSize }

// DMAChannel owns the hardware state streaming DMA transfers of one
// link into a pair of host-memory ring buffers: the data buffer
// receives the transfers, the descriptor buffer records where each
// transfer landed. A DMAChannel is exclusively owned by its Link and
// only exists between InitDMA and DeinitDMA.
type DMAChannel struct {
	lnk *Link
	rf  *regFile // packet-domain registers of the owning link

	data dmaBuf
	desc dmaBuf
}

// InitDMA attaches host ring buffers to the link and configures the
// hardware DMA engine to stream into them. Buffer sizes are given as
// log2 (powers of two, a hardware constraint). A previously attached
// channel is torn down first: at most one DMA engine may describe the
// hardware slot of a link.
func (lnk *Link) InitDMA(dataAddr uint64, dataLogSize uint32, descAddr uint64, descLogSize uint32) error {
	switch {
	case dataLogSize < minDataLogSize || dataLogSize > maxBufLogSize:
		return fmt.Errorf("cri: link %d: invalid data buffer log2 size %d: %w",
			lnk.idx, dataLogSize, ErrContract,
		)
	case descLogSize < minDescLogSize || descLogSize > maxBufLogSize:
		return fmt.Errorf("cri: link %d: invalid descriptor buffer log2 size %d: %w",
			lnk.idx, descLogSize, ErrContract,
		)
	}

	lnk.DeinitDMA()

	ch := &DMAChannel{
		lnk:  lnk,
		rf:   lnk.rfpkt,
		data: dmaBuf{addr: dataAddr, logSize: dataLogSize},
		desc: dmaBuf{addr: descAddr, logSize: descLogSize},
	}
	ch.configure()
	lnk.dma = ch
	return nil
}

// DeinitDMA quiesces the DMA engine of the link and releases the host
// buffers. The buffers may be unmapped or returned to a pool right
// after it returns. Calling it with no channel attached is a no-op.
func (lnk *Link) DeinitDMA() {
	if lnk.dma == nil {
		return
	}
	lnk.dma.quiesce()
	lnk.dma = nil
}

// DMA returns the active DMA channel of the link, or
// ErrNotInitialized when none has been attached.
func (lnk *Link) DMA() (*DMAChannel, error) {
	if lnk.dma == nil {
		return nil, fmt.Errorf("cri: link %d: %w", lnk.idx, ErrNotInitialized)
	}
	return lnk.dma, nil
}

func (ch *DMAChannel) configure() {
	ch.rf.set(regs.DMA_DATA_ADDR_L, uint32(ch.data.addr))
	ch.rf.set(regs.DMA_DATA_ADDR_H, uint32(ch.data.addr>>32))
	ch.rf.set(regs.DMA_DESC_ADDR_L, uint32(ch.desc.addr))
	ch.rf.set(regs.DMA_DESC_ADDR_H, uint32(ch.desc.addr>>32))
	ch.rf.set(regs.DMA_BUF_SZ,
		ch.data.logSize<<regs.DMA_BUF_SZ_DATA_SHIFT|
			ch.desc.logSize<<regs.DMA_BUF_SZ_DESC_SHIFT,
	)
	ch.rf.setMask(regs.DMA_CFG,
		dmaTransferSize<<regs.DMA_CFG_TSIZE_SHIFT, regs.DMA_CFG_TSIZE_MASK,
	)
	ch.rf.setBit(regs.DMA_CFG, regs.DMA_CFG_BIT_ENABLE, true)
}

// quiesce stops the engine and flushes its state, so that the host
// buffers can be released without an in-flight transfer landing in
// freed memory.
func (ch *DMAChannel) quiesce() {
	ch.rf.setBit(regs.DMA_CFG, regs.DMA_CFG_BIT_ENABLE, false)
	ch.rf.setBit(regs.DMA_CFG, regs.DMA_CFG_BIT_RESET, true) // pulse
}

// Busy reports whether a transfer is in flight.
func (ch *DMAChannel) Busy() bool {
	return ch.rf.get(regs.DMA_CFG)&(1<<regs.DMA_CFG_BIT_BUSY) != 0
}

// DataBuf returns the bus address and log2 size of the data ring
// buffer.
func (ch *DMAChannel) DataBuf() (addr uint64, logSize uint32) {
	return ch.data.addr, ch.data.logSize
}

// DescBuf returns the bus address and log2 size of the descriptor
// ring buffer.
func (ch *DMAChannel) DescBuf() (addr uint64, logSize uint32) {
	return ch.desc.addr, ch.desc.logSize
}

// TransferSize returns the fixed DMA transfer granularity.
func (ch *DMAChannel) TransferSize() uint32 { return dmaTransferSize }
