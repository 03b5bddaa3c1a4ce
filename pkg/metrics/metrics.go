package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Send outcomes.
const (
	SendConfirmedREST = "confirmed_rest"
	SendConfirmedEcho = "confirmed_echo"
	SendFailed        = "failed"
	SendExpired       = "expired"
	SendDropped       = "dropped"
	SendRetried       = "retried"
)

// Sync collects counters for the sync core. A nil *Sync is valid and
// records nothing.
type Sync struct {
	eventsApplied *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	sends         *prometheus.CounterVec
	pending       prometheus.Gauge
	sendLatency   prometheus.Histogram
	failures      *prometheus.CounterVec
	searches      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Sync {
	m := &Sync{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_applied_total",
			Help:      "Push events applied to the store, by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_dropped_total",
			Help:      "Push events dropped, by type and reason.",
		}, []string{"type", "reason"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Optimistic send outcomes.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "pending_sends",
			Help:      "Sends awaiting server confirmation.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatsync",
			Name:      "send_confirm_seconds",
			Help:      "Time from submission to first server confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "collaborator_failures_total",
			Help:      "Failed REST or stream calls, by operation.",
		}, []string{"op"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "search_results_total",
			Help:      "Search views served, by source.",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsApplied, m.eventsDropped, m.sends, m.pending, m.sendLatency, m.failures, m.searches)
	}
	return m
}

func (m *Sync) EventApplied(eventType string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(eventType).Inc()
}

func (m *Sync) EventDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType, reason).Inc()
}

func (m *Sync) SendOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Sync) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Sync) ObserveSendLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(d.Seconds())
}

func (m *Sync) CollaboratorFailure(op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

func (m *Sync) SearchServed(source string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(source).Inc()
}

// RegisterRuntime adds heap and GC gauges to reg.
func RegisterRuntime(reg prometheus.Registerer) {
	read := func(f func(*runtime.MemStats) float64) func() float64 {
		return func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return f(&stats)
		}
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatsync_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		}, read(func(s *runtime.MemStats) float64 { return float64(s.PauseTotalNs) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatsync_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		}, read(func(s *runtime.MemStats) float64 { return float64(s.HeapAlloc) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatsync_heap_sys_bytes",
			Help: "Total heap size in bytes.",
		}, read(func(s *runtime.MemStats) float64 { return float64(s.HeapSys) })),
	)
}
