// Package metrics provides Prometheus instrumentation for the audit
// pipeline and a JSON stats endpoint.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxTopEntries = 100

// Metrics collects Prometheus counters and histograms for audit runs.
type Metrics struct {
	registry *prometheus.Registry

	auditsTotal     *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
	auditDuration   prometheus.Histogram
	rulepackReloads *prometheus.CounterVec

	mu          sync.Mutex
	startTime   time.Time
	topScanners map[string]int64
	byAction    map[string]int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	auditsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schnabel",
		Name:      "audits_total",
		Help:      "Total audited turns by policy action.",
	}, []string{"action"})

	findingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schnabel",
		Name:      "findings_total",
		Help:      "Total findings by scanner and risk.",
	}, []string{"scanner", "risk"})

	auditDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "schnabel",
		Name:      "audit_duration_seconds",
		Help:      "Full audit pipeline latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	rulepackReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schnabel",
		Name:      "rulepack_reloads_total",
		Help:      "Rule pack reload attempts by outcome.",
	}, []string{"status"})

	reg.MustRegister(auditsTotal, findingsTotal, auditDuration, rulepackReloads)

	return &Metrics{
		registry:        reg,
		auditsTotal:     auditsTotal,
		findingsTotal:   findingsTotal,
		auditDuration:   auditDuration,
		rulepackReloads: rulepackReloads,
		startTime:       time.Now(),
		topScanners:     make(map[string]int64),
		byAction:        make(map[string]int64),
	}
}

// RecordAudit records a completed audit with its action and latency.
func (m *Metrics) RecordAudit(action string, duration time.Duration) {
	m.auditsTotal.WithLabelValues(action).Inc()
	m.auditDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.byAction[action]++
	m.mu.Unlock()
}

// RecordFinding records one finding by scanner and risk.
func (m *Metrics) RecordFinding(scanner, risk string) {
	m.findingsTotal.WithLabelValues(scanner, risk).Inc()

	m.mu.Lock()
	if len(m.topScanners) < maxTopEntries {
		m.topScanners[scanner]++
	} else if _, exists := m.topScanners[scanner]; exists {
		m.topScanners[scanner]++
	}
	m.mu.Unlock()
}

// RecordRulePackReload records a reload attempt outcome ("ok" or "error").
func (m *Metrics) RecordRulePackReload(status string) {
	m.rulepackReloads.WithLabelValues(status).Inc()
}

// PrometheusHandler returns an HTTP handler serving /metrics in Prometheus
// text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler serving a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		var total int64
		actions := make(map[string]int64, len(m.byAction))
		for action, count := range m.byAction {
			total += count
			actions[action] = count
		}
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			AuditsTotal:   total,
			ByAction:      actions,
			TopScanners:   topN(m.topScanners),
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

type statsResponse struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	AuditsTotal   int64            `json:"audits_total"`
	ByAction      map[string]int64 `json:"by_action"`
	TopScanners   []rankedEntry    `json:"top_scanners"`
}

type rankedEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func topN(m map[string]int64) []rankedEntry {
	entries := make([]rankedEntry, 0, len(m))
	for name, count := range m {
		entries = append(entries, rankedEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
