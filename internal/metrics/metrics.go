// Package metrics implements Prometheus self-observability metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts frames read per capture source.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_capture_packets_total",
			Help: "Total number of frames read from a capture source",
		},
		[]string{"source"},
	)

	// DecodeErrorsTotal counts frames dropped because they could not be
	// decoded into a RADIUS envelope.
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strix_capture_decode_errors_total",
			Help: "Total number of frames dropped as undecodable",
		},
		[]string{"source"},
	)

	// KernelDropsTotal mirrors the capture layer's drop counter.
	KernelDropsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strix_capture_kernel_drops_total",
			Help: "Packets dropped by the kernel capture layer",
		},
		[]string{"source"},
	)

	// OutstandingRequests tracks the current request table size.
	OutstandingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strix_outstanding_requests",
			Help: "Requests currently awaiting a response",
		},
	)

	// EvictionsTotal counts requests removed by table-capacity policy.
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strix_request_evictions_total",
			Help: "Requests evicted because the request table was full",
		},
	)
)
