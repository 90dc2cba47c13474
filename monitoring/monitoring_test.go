// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitoring

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestInfluxLine(t *testing.T) {
	ts := time.Unix(0, 1234567890)
	for _, tc := range []struct {
		metric Metric
		want   string
	}{
		{
			metric: Metric{
				Measurement: "link_perf",
				Tags:        map[string]string{"link": "0", "host": "node0"},
				Fields: map[string]interface{}{
					"events":    uint32(42),
					"dma_stall": uint32(7),
					"rate":      1.5,
				},
				Time: ts,
			},
			want: `link_perf,host=node0,link=0 dma_stall=7i,events=42i,rate=1.5 1234567890`,
		},
		{
			metric: Metric{
				Measurement: "my measurement",
				Tags:        map[string]string{"a b": "c,d"},
				Fields:      map[string]interface{}{"ok": true, "name": "cri"},
			},
			want: `my\ measurement,a\ b=c\,d name="cri",ok=true`,
		},
		{
			metric: Metric{
				Measurement: "m",
				Fields:      map[string]interface{}{"n": int64(-3)},
			},
			want: `m n=-3i`,
		},
	} {
		t.Run(tc.metric.Measurement, func(t *testing.T) {
			if got, want := tc.metric.influxLine(), tc.want; got != want {
				t.Fatalf("invalid line:\ngot= %s\nwant=%s", got, want)
			}
		})
	}
}

func TestWriterSink(t *testing.T) {
	buf := new(bytes.Buffer)
	sink := NewWriterSink(buf)

	err := sink.Process([]Metric{
		{Measurement: "m1", Fields: map[string]interface{}{"v": uint32(1)}},
		{Measurement: "m2", Fields: map[string]interface{}{"v": uint32(2)}},
	})
	if err != nil {
		t.Fatalf("could not process metrics: %+v", err)
	}

	want := "m1 v=1i\nm2 v=2i\n"
	if got := buf.String(); got != want {
		t.Fatalf("invalid sink output:\ngot= %q\nwant=%q", got, want)
	}
}

func TestMonitorFlush(t *testing.T) {
	buf := new(bytes.Buffer)
	mon := NewMonitor(10*time.Millisecond, NewWriterSink(buf))

	mon.QueueMetric("link_perf",
		map[string]string{"link": "2"},
		map[string]interface{}{"events": uint32(9)},
	)

	err := mon.Close()
	if err != nil {
		t.Fatalf("could not close monitor: %+v", err)
	}

	if got := buf.String(); !strings.Contains(got, "link_perf,link=2 events=9i") {
		t.Fatalf("missing metric in sink output: %q", got)
	}
}

// Drops are accounted on the producers' goroutines, concurrently with
// the heartbeat harvesting the counters on the run goroutine.
func TestMonitorDropAccounting(t *testing.T) {
	// undrained one-slot queue: all but one metric must be dropped.
	mon := &Monitor{
		host:   "test",
		queue:  make(chan Metric, 1),
		done:   make(chan int),
		quit:   make(chan int),
		period: time.Hour,
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mon.QueueMetric("m", nil, map[string]interface{}{"v": j})
			}
		}()
	}
	wg.Wait()

	if got, want := mon.stat.dropped.Load(), uint64(399); got != want {
		t.Fatalf("invalid drop count: got=%d, want=%d", got, want)
	}
	if got, want := len(mon.queue), 1; got != want {
		t.Fatalf("invalid queue length: got=%d, want=%d", got, want)
	}

	if got, want := mon.stat.dropped.Swap(0), uint64(399); got != want {
		t.Fatalf("invalid harvested drop count: got=%d, want=%d", got, want)
	}
	if got, want := mon.stat.dropped.Load(), uint64(0); got != want {
		t.Fatalf("drop count not reset: got=%d, want=%d", got, want)
	}
}

func TestInfluxSink(t *testing.T) {
	var (
		gotBody  string
		gotAuth  string
		gotQuery string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	sink, err := NewInfluxSink(host + ":flestest:s3cr3t")
	if err != nil {
		t.Fatalf("could not create influx sink: %+v", err)
	}

	err = sink.Process([]Metric{
		{Measurement: "m", Fields: map[string]interface{}{"v": uint32(1)}},
	})
	if err != nil {
		t.Fatalf("could not process metrics: %+v", err)
	}

	if got, want := gotBody, "m v=1i\n"; got != want {
		t.Fatalf("invalid body: got=%q, want=%q", got, want)
	}
	if got, want := gotAuth, "Token s3cr3t"; got != want {
		t.Fatalf("invalid auth header: got=%q, want=%q", got, want)
	}
	if !strings.Contains(gotQuery, "bucket=flestest") {
		t.Fatalf("invalid query: %q", gotQuery)
	}
}

func TestInfluxSinkPath(t *testing.T) {
	for _, tc := range []struct {
		path string
		ok   bool
	}{
		{"influx.example.org:8086:cbm:tok", true},
		{"influx.example.org:::tok", true},
		{"no-fields", false},
	} {
		t.Run(tc.path, func(t *testing.T) {
			sink, err := NewInfluxSink(tc.path)
			switch {
			case tc.ok && err != nil:
				t.Fatalf("could not create sink: %+v", err)
			case !tc.ok && err == nil:
				t.Fatalf("expected an error for path %q", tc.path)
			}
			if !tc.ok {
				return
			}
			if sink.port == "" || sink.bucket == "" {
				t.Fatalf("missing defaults: port=%q bucket=%q", sink.port, sink.bucket)
			}
		})
	}
}
