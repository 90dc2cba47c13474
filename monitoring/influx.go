// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitoring

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// sendChunkSize limits the size of one HTTP write request.
const sendChunkSize = 2_000_000

var rePath = regexp.MustCompile(`^(.+?):([0-9]*?):(.*?):(.*)$`)

// InfluxSink writes metrics to an InfluxDB v2 instance via the
// /api/v2/write endpoint, in line protocol.
type InfluxSink struct {
	path string

	host   string
	port   string
	bucket string
	token  string
	org    string

	cli *http.Client
}

// NewInfluxSink creates a sink from a write endpoint of the form
// `host:[port]:[bucket]:[token]`. Port defaults to 8086, bucket to
// "cbm"; an empty token falls back to the CRI_INFLUX_TOKEN
// environment variable.
func NewInfluxSink(path string) (*InfluxSink, error) {
	m := rePath.FindStringSubmatch(path)
	if m == nil {
		return nil, fmt.Errorf("monitoring: influx path not host:[port]:[bucket]:[token]: %q", path)
	}

	sink := &InfluxSink{
		path:   path,
		host:   m[1],
		port:   m[2],
		bucket: m[3],
		token:  m[4],
		org:    "CBM",
		cli:    &http.Client{Timeout: 10 * time.Second},
	}
	if sink.port == "" {
		sink.port = "8086"
	}
	if sink.bucket == "" {
		sink.bucket = "cbm"
	}
	if sink.token == "" {
		sink.token = os.Getenv("CRI_INFLUX_TOKEN")
		if sink.token == "" {
			return nil, fmt.Errorf("monitoring: no influx token given and CRI_INFLUX_TOKEN not defined")
		}
	}
	return sink, nil
}

func (sink *InfluxSink) Name() string { return "influx:" + sink.path }

func (sink *InfluxSink) Process(ms []Metric) error {
	msg := new(strings.Builder)
	for _, m := range ms {
		msg.WriteString(m.influxLine())
		msg.WriteString("\n")
		if msg.Len() > sendChunkSize {
			err := sink.send(msg.String())
			if err != nil {
				return err
			}
			msg.Reset()
		}
	}
	if msg.Len() > 0 {
		return sink.send(msg.String())
	}
	return nil
}

func (sink *InfluxSink) send(msg string) error {
	ep := url.URL{
		Scheme:   "http",
		Host:     sink.host + ":" + sink.port,
		Path:     "/api/v2/write",
		RawQuery: url.Values{"org": {sink.org}, "bucket": {sink.bucket}}.Encode(),
	}

	req, err := http.NewRequest(http.MethodPost, ep.String(), strings.NewReader(msg))
	if err != nil {
		return fmt.Errorf("monitoring: could not create influx request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+sink.token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := sink.cli.Do(req)
	if err != nil {
		return fmt.Errorf("monitoring: could not write to influx %q: %w", sink.host, err)
	}
	defer resp.Body.Close()

	// InfluxDB returns 204 "No Content" for a successful write.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("monitoring: influx write failed: status=%d body=%q",
			resp.StatusCode, strings.TrimSpace(string(body)),
		)
	}
	return nil
}

var (
	_ Sink = (*InfluxSink)(nil)
)
