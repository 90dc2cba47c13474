// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"errors"
	"testing"

	"github.com/go-daq/cri/internal/regs"
)

func TestInitDMA(t *testing.T) {
	lnk, _ := fakeLink(0)

	if _, err := lnk.DMA(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got: %+v", err)
	}

	err := lnk.InitDMA(0x1_2345_6780, 27, 0xabcd_0010, 23)
	if err != nil {
		t.Fatalf("could not init DMA: %+v", err)
	}

	ch, err := lnk.DMA()
	if err != nil {
		t.Fatalf("could not get DMA channel: %+v", err)
	}

	if got, want := lnk.rfpkt.get(regs.DMA_DATA_ADDR_L), uint32(0x2345_6780); got != want {
		t.Fatalf("invalid data addr low: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := lnk.rfpkt.get(regs.DMA_DATA_ADDR_H), uint32(0x1); got != want {
		t.Fatalf("invalid data addr high: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := lnk.rfpkt.get(regs.DMA_DESC_ADDR_L), uint32(0xabcd_0010); got != want {
		t.Fatalf("invalid desc addr low: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := lnk.rfpkt.get(regs.DMA_DESC_ADDR_H), uint32(0); got != want {
		t.Fatalf("invalid desc addr high: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := lnk.rfpkt.get(regs.DMA_BUF_SZ), uint32(23<<regs.DMA_BUF_SZ_DESC_SHIFT|27); got != want {
		t.Fatalf("invalid buffer sizes: got=0x%08x, want=0x%08x", got, want)
	}

	cfg := lnk.rfpkt.get(regs.DMA_CFG)
	if got, want := cfg>>regs.DMA_CFG_TSIZE_SHIFT, uint32(dmaTransferSize); got != want {
		t.Fatalf("invalid transfer size: got=%d, want=%d", got, want)
	}
	if cfg&(1<<regs.DMA_CFG_BIT_ENABLE) == 0 {
		t.Fatalf("DMA engine not enabled (cfg=0x%08x)", cfg)
	}

	if addr, logSize := ch.DataBuf(); addr != 0x1_2345_6780 || logSize != 27 {
		t.Fatalf("invalid data buffer: addr=0x%x logSize=%d", addr, logSize)
	}
	if addr, logSize := ch.DescBuf(); addr != 0xabcd_0010 || logSize != 23 {
		t.Fatalf("invalid descriptor buffer: addr=0x%x logSize=%d", addr, logSize)
	}
	if got, want := ch.TransferSize(), uint32(dmaTransferSize); got != want {
		t.Fatalf("invalid transfer size: got=%d, want=%d", got, want)
	}
}

func TestInitDMAInvalid(t *testing.T) {
	lnk, _ := fakeLink(0)

	for _, tc := range []struct {
		name             string
		dataLog, descLog uint32
	}{
		{"data-too-small", 6, 23},
		{"data-too-big", 48, 23},
		{"desc-too-small", 27, 3},
		{"desc-too-big", 27, 48},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := lnk.InitDMA(0x1000, tc.dataLog, 0x2000, tc.descLog)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !errors.Is(err, ErrContract) {
				t.Fatalf("error does not wrap ErrContract: %+v", err)
			}
			if _, err := lnk.DMA(); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("channel attached despite invalid arguments: %+v", err)
			}
		})
	}
}

func TestReinitDMA(t *testing.T) {
	lnk, _ := fakeLink(0)

	err := lnk.InitDMA(0x1000, 27, 0x2000, 23)
	if err != nil {
		t.Fatalf("could not init DMA: %+v", err)
	}
	old, err := lnk.DMA()
	if err != nil {
		t.Fatalf("could not get DMA channel: %+v", err)
	}

	// re-attaching tears the previous channel down implicitly.
	err = lnk.InitDMA(0x3000, 28, 0x4000, 24)
	if err != nil {
		t.Fatalf("could not re-init DMA: %+v", err)
	}
	ch, err := lnk.DMA()
	if err != nil {
		t.Fatalf("could not get DMA channel: %+v", err)
	}
	if ch == old {
		t.Fatalf("re-init did not replace the channel")
	}
	if addr, logSize := ch.DataBuf(); addr != 0x3000 || logSize != 28 {
		t.Fatalf("invalid data buffer after re-init: addr=0x%x logSize=%d", addr, logSize)
	}
}

func TestDeinitDMA(t *testing.T) {
	lnk, _ := fakeLink(0)

	// deinit with no channel attached is a no-op.
	lnk.DeinitDMA()

	err := lnk.InitDMA(0x1000, 27, 0x2000, 23)
	if err != nil {
		t.Fatalf("could not init DMA: %+v", err)
	}

	lnk.DeinitDMA()
	if _, err := lnk.DMA(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("channel still attached after deinit: %+v", err)
	}

	cfg := lnk.rfpkt.get(regs.DMA_CFG)
	if cfg&(1<<regs.DMA_CFG_BIT_ENABLE) != 0 {
		t.Fatalf("DMA engine still enabled after deinit (cfg=0x%08x)", cfg)
	}
	if cfg&(1<<regs.DMA_CFG_BIT_RESET) == 0 {
		t.Fatalf("reset pulse not written (cfg=0x%08x)", cfg)
	}

	lnk.DeinitDMA() // idempotent
}

func TestDMABusy(t *testing.T) {
	lnk, _ := fakeLink(0)

	err := lnk.InitDMA(0x1000, 27, 0x2000, 23)
	if err != nil {
		t.Fatalf("could not init DMA: %+v", err)
	}
	ch, err := lnk.DMA()
	if err != nil {
		t.Fatalf("could not get DMA channel: %+v", err)
	}

	if ch.Busy() {
		t.Fatalf("engine busy on a quiet fake board")
	}
	lnk.rfpkt.setBit(regs.DMA_CFG, regs.DMA_CFG_BIT_BUSY, true)
	if !ch.Busy() {
		t.Fatalf("engine not busy with the busy flag raised")
	}
}
