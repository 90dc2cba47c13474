// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cri provides the hardware-facing control layer for the CRI
// multi-link FPGA readout controller boards used in the CBM data
// acquisition system.
//
// A Device gives access to the memory-mapped PCI BAR of one board and
// hands out one Link per physical optical link. Each Link configures
// the link datapath, owns an optional DMA channel streaming data into
// host-memory ring buffers, and exposes the hardware performance
// counters harvested by the monitoring tools.
package cri // import "github.com/go-daq/cri"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of cri and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-daq/cri"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
