// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitoring

import (
	"fmt"
	"io"
)

// WriterSink writes metrics in line protocol to an io.Writer, for
// logs and tests.
type WriterSink struct {
	w io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (sink *WriterSink) Name() string { return "writer" }

func (sink *WriterSink) Process(ms []Metric) error {
	for _, m := range ms {
		_, err := fmt.Fprintf(sink.w, "%s\n", m.influxLine())
		if err != nil {
			return fmt.Errorf("monitoring: could not write metric: %w", err)
		}
	}
	return nil
}

var (
	_ Sink = (*WriterSink)(nil)
)
