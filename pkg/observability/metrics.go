package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names.
const (
	MetricScheduleTotal     = "fieldsync.schedule.total"
	MetricReconcileTotal    = "fieldsync.reconcile.total"
	MetricReconcileMismatch = "fieldsync.reconcile.mismatch"
	MetricUnscheduleTotal   = "fieldsync.unschedule.total"
	MetricOperationDuration = "fieldsync.operation.duration"

	MetricFSMRequests = "fieldsync.fsm.requests"
	MetricFSMDuration = "fieldsync.fsm.duration"

	MetricNameCacheRefresh = "fieldsync.namecache.refresh"
	MetricNameCacheMiss    = "fieldsync.namecache.miss"
	MetricNameCacheEntries = "fieldsync.namecache.entries"

	MetricEventsPublished = "fieldsync.events.published"
	MetricSyncAlerts      = "fieldsync.events.sync_alerts"
)

// Metrics records counters, gauges and timings.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Timing(name string, d time.Duration, tags ...Tag)
}

// Tag is a metric label.
type Tag struct {
	Key   string
	Value string
}

// T is shorthand for Tag{key, value}.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag) {}
func (NoopMetrics) Gauge(string, float64, ...Tag) {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// TimingSummary aggregates the timings recorded under one key.
type TimingSummary struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total_ns"`
	Max   time.Duration `json:"max_ns"`
}

// Snapshot is a point-in-time copy of InMemoryMetrics.
type Snapshot struct {
	Counters map[string]int64         `json:"counters"`
	Gauges   map[string]float64       `json:"gauges"`
	Timings  map[string]TimingSummary `json:"timings"`
}

// InMemoryMetrics keeps metrics in process. The worker exposes them on
// /healthz; tests read them back with GetCounter.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string]TimingSummary
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: map[string]int64{},
		gauges:   map[string]float64{},
		timings:  map[string]TimingSummary{},
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	m.counters[seriesKey(name, tags)] += value
	m.mu.Unlock()
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	m.gauges[seriesKey(name, tags)] = value
	m.mu.Unlock()
}

func (m *InMemoryMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	s := m.timings[key]
	s.Count++
	s.Total += d
	if d > s.Max {
		s.Max = d
	}
	m.timings[key] = s
	m.mu.Unlock()
}

// GetCounter returns a counter value. Tag order does not matter.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[seriesKey(name, tags)]
}

func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[seriesKey(name, tags)]
}

func (m *InMemoryMetrics) GetTiming(name string, tags ...Tag) TimingSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timings[seriesKey(name, tags)]
}

// Snapshot copies the current values.
func (m *InMemoryMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Counters: make(map[string]int64, len(m.counters)),
		Gauges:   make(map[string]float64, len(m.gauges)),
		Timings:  make(map[string]TimingSummary, len(m.timings)),
	}
	for k, v := range m.counters {
		s.Counters[k] = v
	}
	for k, v := range m.gauges {
		s.Gauges[k] = v
	}
	for k, v := range m.timings {
		s.Timings[k] = v
	}
	return s
}

// seriesKey renders name{k=v,...} with tags sorted by key.
func seriesKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	sorted := append([]Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, t := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	b.WriteByte('}')
	return b.String()
}
