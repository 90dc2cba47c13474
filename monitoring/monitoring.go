// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitoring queues named metrics and forwards them to
// pluggable sinks, such as an InfluxDB v2 instance. The CRI control
// core itself knows nothing of this package: only the commands wire
// performance snapshots into it.
package monitoring // import "github.com/go-daq/cri/monitoring"

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metric is one measurement point: a measurement name, a tag set, a
// field set and a timestamp.
type Metric struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Sink consumes batches of queued metrics.
type Sink interface {
	Name() string
	Process(ms []Metric) error
}

// influxLine encodes the metric in InfluxDB line protocol.
func (m Metric) influxLine() string {
	o := new(strings.Builder)
	o.WriteString(escapeMeasurement(m.Measurement))

	tags := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		tags = append(tags, k)
	}
	sort.Strings(tags)
	for _, k := range tags {
		fmt.Fprintf(o, ",%s=%s", escapeTag(k), escapeTag(m.Tags[k]))
	}

	fields := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for i, k := range fields {
		sep := ","
		if i == 0 {
			sep = " "
		}
		fmt.Fprintf(o, "%s%s=%s", sep, escapeTag(k), fieldValue(m.Fields[k]))
	}

	if !m.Time.IsZero() {
		fmt.Fprintf(o, " %d", m.Time.UnixNano())
	}
	return o.String()
}

func fieldValue(v interface{}) string {
	switch v := v.(type) {
	case bool:
		return strconv.FormatBool(v)
	case string:
		return strconv.Quote(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.FormatInt(int64(v), 10) + "i"
	case int32:
		return strconv.FormatInt(int64(v), 10) + "i"
	case int64:
		return strconv.FormatInt(v, 10) + "i"
	case uint32:
		return strconv.FormatUint(uint64(v), 10) + "i"
	case uint64:
		return strconv.FormatUint(v, 10) + "i"
	}
	return strconv.Quote(fmt.Sprintf("%v", v))
}

func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, ",", `\,`)
	return strings.ReplaceAll(s, " ", `\ `)
}

func escapeTag(s string) string {
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "=", `\=`)
	return strings.ReplaceAll(s, " ", `\ `)
}
