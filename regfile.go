// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"encoding/binary"
	"fmt"
	"io"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// regFile is a word-addressed view over one register domain of the
// memory-mapped BAR. Registers are 32-bit words at offsets from the
// domain base address (itself a word address).
//
// Accesses keep no state in the regFile, so a monitoring goroutine
// may read counters while the control goroutine writes other
// registers of the same domain.
//
// A register access either physically occurs or is a programming
// error (offset outside the mapped window, invalid bit index) and
// panics. There are no retries at this level: a failing bus does not
// produce an error the register file could act upon.
type regFile struct {
	rw   rwer
	base int64
}

func newRegFile(rw rwer, base int64) *regFile {
	return &regFile{rw: rw, base: base}
}

func (rf *regFile) addrOf(reg uint32) int64 {
	return 4 * (rf.base + int64(reg))
}

func (rf *regFile) get(reg uint32) uint32 {
	var buf [4]byte
	_, err := rf.rw.ReadAt(buf[:], rf.addrOf(reg))
	if err != nil {
		panic(fmt.Errorf("cri: could not read register 0x%x (base=0x%x): %w",
			reg, rf.base, err,
		))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (rf *regFile) set(reg, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := rf.rw.WriteAt(buf[:], rf.addrOf(reg))
	if err != nil {
		panic(fmt.Errorf("cri: could not write register 0x%x (base=0x%x): %w",
			reg, rf.base, err,
		))
	}
}

// setMask writes the bits of v selected by mask, preserving the
// others. The read-modify-write is not atomic: concurrent writers to
// the same register need external synchronization (single-writer
// discipline by convention).
func (rf *regFile) setMask(reg, v, mask uint32) {
	cur := rf.get(reg)
	rf.set(reg, (cur&^mask)|(v&mask))
}

// setBit sets or clears a single bit. Also used for pulse registers,
// where writing 1 triggers a hardware action and the hardware itself
// clears the bit.
func (rf *regFile) setBit(reg uint32, bit int, on bool) {
	if bit < 0 || bit > 31 {
		panic(fmt.Errorf("cri: invalid bit index %d for register 0x%x", bit, reg))
	}
	if on {
		rf.setMask(reg, 1<<bit, 1<<bit)
		return
	}
	rf.setMask(reg, 0, 1<<bit)
}
