// Package metrics exposes optional Prometheus instrumentation. Until
// InitRegistry is called every constructor returns a no-op implementation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry enables metrics. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// Registry returns the registry, or nil while metrics are disabled.
func Registry() *prometheus.Registry {
	return registry
}

func IsEnabled() bool {
	return Registry() != nil
}

// FSMetrics observes the semantics layer.
type FSMetrics interface {
	// RecordOpen counts an open or create by its final status name.
	RecordOpen(status string, d time.Duration)
	// RecordRetry counts a request suspended for the given reason.
	RecordRetry(reason string)
	RecordOplockBreak(level string)
	// RecordOplockAutoRelease counts breaks the client never acknowledged.
	RecordOplockAutoRelease()
	SetPendingWaits(n int)
	SetOpenHandles(n int)
	RecordSearchExpired()
}

// NewFSMetrics returns a Prometheus backed FSMetrics, or a no-op one when
// metrics are disabled.
func NewFSMetrics() FSMetrics {
	if !IsEnabled() {
		return NewNoopFSMetrics()
	}
	f := promauto.With(Registry())
	return &fsMetrics{
		opens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pvfs_opens_total",
			Help: "Opens and creates by resulting NT status",
		}, []string{"status"}),
		openDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pvfs_open_duration_milliseconds",
			Help:    "Duration of opens including time spent waiting",
			Buckets: []float64{0.1, 1, 10, 100, 1000, 10000},
		}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pvfs_retries_total",
			Help: "Requests suspended for retry by reason",
		}, []string{"reason"}),
		breaks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pvfs_oplock_breaks_total",
			Help: "Oplock breaks sent to clients by target level",
		}, []string{"level"}),
		autoReleases: f.NewCounter(prometheus.CounterOpts{
			Name: "pvfs_oplock_auto_releases_total",
			Help: "Oplock breaks applied after the client did not answer",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "pvfs_pending_waits",
			Help: "Requests currently suspended",
		}),
		handles: f.NewGauge(prometheus.GaugeOpts{
			Name: "pvfs_open_handles",
			Help: "Open file handles",
		}),
		searchExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "pvfs_search_expired_total",
			Help: "Search cursors closed by inactivity",
		}),
	}
}

type fsMetrics struct {
	opens         *prometheus.CounterVec
	openDuration  prometheus.Histogram
	retries       *prometheus.CounterVec
	breaks        *prometheus.CounterVec
	autoReleases  prometheus.Counter
	pending       prometheus.Gauge
	handles       prometheus.Gauge
	searchExpired prometheus.Counter
}

func (m *fsMetrics) RecordOpen(status string, d time.Duration) {
	m.opens.WithLabelValues(status).Inc()
	m.openDuration.Observe(float64(d.Microseconds()) / 1000)
}

func (m *fsMetrics) RecordRetry(reason string)       { m.retries.WithLabelValues(reason).Inc() }
func (m *fsMetrics) RecordOplockBreak(level string)  { m.breaks.WithLabelValues(level).Inc() }
func (m *fsMetrics) RecordOplockAutoRelease()        { m.autoReleases.Inc() }
func (m *fsMetrics) SetPendingWaits(n int)           { m.pending.Set(float64(n)) }
func (m *fsMetrics) SetOpenHandles(n int)            { m.handles.Set(float64(n)) }
func (m *fsMetrics) RecordSearchExpired()            { m.searchExpired.Inc() }

// NewNoopFSMetrics returns an FSMetrics that records nothing.
func NewNoopFSMetrics() FSMetrics { return noopFSMetrics{} }

type noopFSMetrics struct{}

func (noopFSMetrics) RecordOpen(string, time.Duration) {}
func (noopFSMetrics) RecordRetry(string)               {}
func (noopFSMetrics) RecordOplockBreak(string)         {}
func (noopFSMetrics) RecordOplockAutoRelease()         {}
func (noopFSMetrics) SetPendingWaits(int)              {}
func (noopFSMetrics) SetOpenHandles(int)               {}
func (noopFSMetrics) RecordSearchExpired()             {}
