// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"sort"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics exposes a pull's six outstanding/completed counters plus
// cumulative bytes transferred as a small private prometheus registry.
// This is deliberately not an HTTP /metrics endpoint — there is no
// server here — it exists so an embedding CLI can print a one-line
// snapshot at the end of a pull (or periodically, for a long one)
// without the engine itself knowing anything about how that snapshot
// gets displayed.
type metrics struct {
	registry    *prometheus.Registry
	outstanding *prometheus.GaugeVec
	completed   *prometheus.GaugeVec
	bytes       prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		outstanding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfsdb_pull_outstanding",
			Help: "Outstanding fetch/write operations by stage.",
		}, []string{"stage"}),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfsdb_pull_completed",
			Help: "Completed fetch/write operations by stage, this pull.",
		}, []string{"stage"}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfsdb_pull_bytes_transferred",
			Help: "Cumulative bytes transferred from the remote, this pull.",
		}),
	}
	m.registry.MustRegister(m.outstanding, m.completed, m.bytes)
	return m
}

// update refreshes every gauge from the engine's current counters;
// called from the same 1 Hz tick that drives progress display.
func (m *metrics) update(c counters, bytesTransferred uint64) {
	m.outstanding.WithLabelValues("metadata_fetch").Set(float64(c.outstandingMetadataFetches))
	m.outstanding.WithLabelValues("metadata_write").Set(float64(c.outstandingMetadataWrites))
	m.outstanding.WithLabelValues("content_fetch").Set(float64(c.outstandingContentFetches))
	m.outstanding.WithLabelValues("content_write").Set(float64(c.outstandingContentWrites))
	m.outstanding.WithLabelValues("delta_part_fetch").Set(float64(c.outstandingPartFetches))
	m.outstanding.WithLabelValues("delta_part_write").Set(float64(c.outstandingPartWrites))

	m.completed.WithLabelValues("metadata").Set(float64(c.fetchedMetadata))
	m.completed.WithLabelValues("content").Set(float64(c.fetchedContent))
	m.completed.WithLabelValues("metadata_written").Set(float64(c.writtenMetadata))
	m.completed.WithLabelValues("content_written").Set(float64(c.writtenContent))

	m.bytes.Set(float64(bytesTransferred))
}

// Snapshot gathers every registered metric into a flat name/label->value
// map, suitable for a CLI to print as one line per entry (SortedKeys
// gives a stable order; the map itself is unordered).
func (m *metrics) Snapshot() map[string]float64 {
	families, err := m.registry.Gather()
	if err != nil {
		return nil
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			out[key] = metricValue(metric)
		}
	}
	return out
}

func metricValue(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return 0
}

// SortedKeys returns m's keys in a stable order, for deterministic CLI
// output.
func SortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
