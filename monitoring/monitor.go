// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitoring

import (
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Monitor queues metrics and periodically flushes them to its sinks.
// QueueMetric never blocks the caller: when the queue is full the
// metric is dropped and accounted for in the heartbeat.
type Monitor struct {
	msg  *log.Logger
	host string

	sinks []Sink

	queue chan Metric
	done  chan int
	quit  chan int

	period time.Duration

	// incremented on the caller's goroutine (dropped) and the run
	// goroutine (points), harvested by the heartbeat.
	stat struct {
		points  atomic.Uint64
		dropped atomic.Uint64
	}
}

// NewMonitor creates a monitor flushing queued metrics to sinks once
// per period.
func NewMonitor(period time.Duration, sinks ...Sink) *Monitor {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	mon := &Monitor{
		msg:    log.New(os.Stdout, "monitoring: ", 0),
		host:   host,
		sinks:  sinks,
		queue:  make(chan Metric, 4096),
		done:   make(chan int),
		quit:   make(chan int),
		period: period,
	}
	go mon.run()
	return mon
}

// HostName returns the host name tagged onto self-monitoring metrics.
func (mon *Monitor) HostName() string { return mon.host }

// QueueMetric queues one metric, stamped with the current time.
func (mon *Monitor) QueueMetric(measurement string, tags map[string]string, fields map[string]interface{}) {
	m := Metric{
		Measurement: measurement,
		Tags:        tags,
		Fields:      fields,
		Time:        time.Now(),
	}
	select {
	case mon.queue <- m:
	default:
		mon.stat.dropped.Add(1)
	}
}

// Close flushes pending metrics and stops the monitor.
func (mon *Monitor) Close() error {
	close(mon.quit)
	<-mon.done
	return nil
}

func (mon *Monitor) run() {
	defer close(mon.done)

	tick := time.NewTicker(mon.period)
	defer tick.Stop()

	beat := time.NewTicker(10 * mon.period)
	defer beat.Stop()

	for {
		select {
		case <-tick.C:
			mon.flush()
		case <-beat.C:
			mon.heartbeat()
		case <-mon.quit:
			mon.flush()
			return
		}
	}
}

func (mon *Monitor) flush() {
	var batch []Metric
loop:
	for {
		select {
		case m := <-mon.queue:
			batch = append(batch, m)
		default:
			break loop
		}
	}
	if len(batch) == 0 {
		return
	}
	mon.stat.points.Add(uint64(len(batch)))

	for _, sink := range mon.sinks {
		err := sink.Process(batch)
		if err != nil {
			mon.msg.Printf("could not process %d metrics with sink %q: %+v",
				len(batch), sink.Name(), err,
			)
		}
	}
}

// heartbeat queues self-monitoring counters since the last beat.
func (mon *Monitor) heartbeat() {
	mon.QueueMetric("Monitor",
		map[string]string{"host": mon.host},
		map[string]interface{}{
			"points":  mon.stat.points.Swap(0),
			"dropped": mon.stat.dropped.Swap(0),
		},
	)
}
