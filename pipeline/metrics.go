package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricStageSeconds  = "stage_seconds"
	MetricCellsTotal    = "cells_total"
	MetricTransferBytes = "transfer_bytes_total"
)

// Metrics collects per-run timings and volumes in a private registry
type Metrics struct {
	Registry *prometheus.Registry

	StageSeconds  *prometheus.HistogramVec
	Cells         prometheus.Counter
	TransferBytes *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gridtensor",
				Name:      MetricStageSeconds,
				Help:      "Wall time of each pipeline stage.",
				Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
			},
			[]string{"stage"},
		),
		Cells: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gridtensor",
				Name:      MetricCellsTotal,
				Help:      "Cells exchanged with the surrogate.",
			},
		),
		TransferBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gridtensor",
				Name:      MetricTransferBytes,
				Help:      "Tensor bytes moved by scatter and gather.",
			},
			[]string{"direction"},
		),
	}
	m.Registry.MustRegister(m.StageSeconds, m.Cells, m.TransferBytes)
	return m
}

// observe records the time since start for a stage
func (m *Metrics) observe(stage string, start time.Time) {
	m.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile exports the registry in the node exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
