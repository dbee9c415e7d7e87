// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package metrics exports sequence operations as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zincware/asebytes/sequence"
)

// Observer is a sequence.Observer recording operation latencies and
// reindexing activity.
type Observer struct {
	opLatency      *prometheus.HistogramVec
	reindexLatency prometheus.Histogram
	reindexes      *prometheus.CounterVec
	moved          prometheus.Counter
	windowSize     prometheus.Histogram
}

var _ sequence.Observer = (*Observer)(nil)

// NewObserver creates an observer and registers its metrics with the given
// registerer.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asebytes_operation_latency_seconds",
			Help:    "Latency of sequence operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		reindexLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asebytes_reindex_latency_seconds",
			Help:    "Latency of sort key reindexing",
			Buckets: prometheus.DefBuckets,
		}),
		reindexes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asebytes_reindex_total",
			Help: "Total number of reindexing runs",
		}, []string{"status"}),
		moved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asebytes_reindex_moved_records_total",
			Help: "Total number of records moved to new sort keys",
		}),
		windowSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asebytes_reindex_window_records",
			Help:    "Number of records covered by a reindexing window",
			Buckets: prometheus.ExponentialBuckets(2, 2, 16),
		}),
	}
	for _, c := range []prometheus.Collector{o.opLatency, o.reindexLatency, o.reindexes, o.moved, o.windowSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) OnOperation(op string, d time.Duration, err error) {
	o.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

func (o *Observer) OnReindex(d time.Duration, window int, moved int, err error) {
	o.reindexes.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	o.reindexLatency.Observe(d.Seconds())
	o.windowSize.Observe(float64(window))
	o.moved.Add(float64(moved))
}

// Handler serves the metrics gathered by the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
