// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"fmt"
	"log"
	"os"

	"github.com/go-daq/cri/internal/mmap"
	"github.com/go-daq/cri/internal/regs"
)

// Option configures a CRI device.
type Option func(*config)

type config struct {
	nlinks int // 0: read the link count from the hardware
}

func newConfig() config {
	return config{}
}

// WithNumLinks overrides the link count advertised by the firmware.
func WithNumLinks(n int) Option {
	return func(cfg *config) {
		cfg.nlinks = n
	}
}

// Device represents one CRI board, accessed through its memory-mapped
// PCI BAR (a sysfs resource file on Linux).
type Device struct {
	msg *log.Logger

	fd  *os.File
	bar *mmap.Handle

	rf    *regFile // board-global registers
	links []*Link

	version uint32
}

// NewDevice opens the BAR resource file fname, verifies the hardware
// identification register and constructs one Link per physical link.
func NewDevice(fname string, opts ...Option) (*Device, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("cri: could not open %q: %w", fname, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	dev := &Device{
		msg: log.New(os.Stdout, "cri: ", 0),
		fd:  f,
	}

	// Map the board-global window first: the full span depends on
	// the link count the firmware advertises.
	hdr, err := mmap.Map(f, 0, 4*(1<<regs.CH_ADDR_SEL))
	if err != nil {
		return nil, fmt.Errorf("cri: could not map global register window: %w", err)
	}
	rf := newRegFile(hdr, 0)

	hwid := rf.get(regs.HARDWARE_ID)
	if hwid != regs.HARDWARE_ID_MAGIC {
		_ = hdr.Close()
		return nil, fmt.Errorf("cri: %q is not a CRI board (hw-id=0x%08x, want=0x%08x)",
			fname, hwid, uint32(regs.HARDWARE_ID_MAGIC),
		)
	}
	dev.version = rf.get(regs.HARDWARE_VERSION)

	nlinks := cfg.nlinks
	if nlinks == 0 {
		nlinks = int(rf.get(regs.N_LINKS))
	}
	err = hdr.Close()
	if err != nil {
		return nil, fmt.Errorf("cri: could not unmap global register window: %w", err)
	}
	if nlinks <= 0 {
		return nil, fmt.Errorf("cri: invalid link count %d for %q", nlinks, fname)
	}

	span := 4 * ((nlinks + 1) << regs.CH_ADDR_SEL)
	dev.bar, err = mmap.Map(f, 0, span)
	if err != nil {
		return nil, fmt.Errorf("cri: could not map BAR for %d links: %w", nlinks, err)
	}
	dev.rf = newRegFile(dev.bar, 0)

	dev.links = make([]*Link, nlinks)
	for i := range dev.links {
		dev.links[i] = newLink(i, dev.bar, dev.msg)
	}

	return dev, nil
}

// NumLinks returns the number of physical links of the board.
func (dev *Device) NumLinks() int { return len(dev.links) }

// Link returns the i-th link of the board.
func (dev *Device) Link(i int) *Link {
	if i < 0 || i >= len(dev.links) {
		panic(fmt.Errorf("cri: invalid link index %d (device has %d links)",
			i, len(dev.links),
		))
	}
	return dev.links[i]
}

// Links returns all links of the board.
func (dev *Device) Links() []*Link { return dev.links }

// HardwareVersion returns the firmware version register content.
func (dev *Device) HardwareVersion() uint32 { return dev.version }

// CheckRW verifies register access to every link by writing and
// reading back the scratch registers of both domains.
func (dev *Device) CheckRW() error {
	for _, lnk := range dev.links {
		const pat = 0x5ca1ab1e
		v := pat ^ uint32(lnk.ID())

		lnk.SetTestRegDMA(v)
		if got := lnk.TestRegDMA(); got != v {
			return fmt.Errorf("cri: link %d: pkt scratch r/w failed (got=0x%08x, want=0x%08x)",
				lnk.ID(), got, v,
			)
		}
		lnk.SetTestRegData(v)
		if got := lnk.TestRegData(); got != v {
			return fmt.Errorf("cri: link %d: gtx scratch r/w failed (got=0x%08x, want=0x%08x)",
				lnk.ID(), got, v,
			)
		}
	}
	return nil
}

// Close releases the device. DMA channels still attached to links are
// deinitialized first, so no engine is left streaming into memory the
// process is about to give back.
func (dev *Device) Close() error {
	for _, lnk := range dev.links {
		lnk.DeinitDMA()
	}

	err := dev.bar.Close()
	if err != nil {
		_ = dev.fd.Close()
		return fmt.Errorf("cri: could not unmap BAR: %w", err)
	}

	err = dev.fd.Close()
	if err != nil {
		return fmt.Errorf("cri: could not close BAR file: %w", err)
	}
	return nil
}
