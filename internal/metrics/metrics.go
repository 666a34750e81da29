package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Beacon
type Metrics struct {
	// Delivery counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	// Engagement counters
	OpensTotal  *prometheus.CounterVec
	ClicksTotal *prometheus.CounterVec

	// Dispatch
	DispatchJobsTotal *prometheus.CounterVec
	DispatchActive    prometheus.Gauge
	CampaignsByStatus *prometheus.GaugeVec

	// SMTP transport
	SMTPConnectionsTotal  prometheus.Counter
	SMTPConnectionsActive prometheus.Gauge
	SMTPAuthFailedTotal   prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_messages_sent_total",
				Help: "Total number of campaign messages accepted by the relay",
			},
			[]string{"domain"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_messages_failed_total",
				Help: "Total number of campaign messages that could not be delivered",
			},
			[]string{"domain", "error_type"},
		),

		OpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_opens_total",
				Help: "Total number of first opens recorded",
			},
			[]string{"proxy_type"},
		),
		ClicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_clicks_total",
				Help: "Total number of recipients marked clicked",
			},
			[]string{},
		),

		DispatchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_dispatch_jobs_total",
				Help: "Total number of dispatch jobs by outcome",
			},
			[]string{"result"},
		),
		DispatchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_dispatch_active",
				Help: "Number of campaigns currently being sent",
			},
		),
		CampaignsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beacon_campaigns",
				Help: "Number of stored campaigns by status",
			},
			[]string{"status"},
		),

		SMTPConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_smtp_connections_total",
				Help: "Total number of relay connections opened",
			},
		),
		SMTPConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_smtp_connections_active",
				Help: "Number of open relay connections",
			},
		),
		SMTPAuthFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "beacon_smtp_auth_failed_total",
				Help: "Total number of failed relay authentications",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beacon_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"scope"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.OpensTotal,
		m.ClicksTotal,
		m.DispatchJobsTotal,
		m.DispatchActive,
		m.CampaignsByStatus,
		m.SMTPConnectionsTotal,
		m.SMTPConnectionsActive,
		m.SMTPAuthFailedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// persistentCounters maps the names of counters that survive restarts to their vectors
func (m *Metrics) persistentCounters() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"beacon_messages_sent_total":   m.MessagesSentTotal,
		"beacon_messages_failed_total": m.MessagesFailedTotal,
		"beacon_opens_total":           m.OpensTotal,
		"beacon_clicks_total":          m.ClicksTotal,
		"beacon_dispatch_jobs_total":   m.DispatchJobsTotal,
	}
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(domain string) {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.WithLabelValues(domain).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(domain, errorType string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(domain, errorType).Inc()
	}
}

// IncOpens increments the first-open counter
func IncOpens(proxyType string) {
	m := Global()
	if m != nil {
		m.OpensTotal.WithLabelValues(proxyType).Inc()
	}
}

// IncClicks increments the clicked-recipient counter
func IncClicks() {
	m := Global()
	if m != nil {
		m.ClicksTotal.WithLabelValues().Inc()
	}
}

// IncDispatchJobs increments the dispatch job counter for result
func IncDispatchJobs(result string) {
	m := Global()
	if m != nil {
		m.DispatchJobsTotal.WithLabelValues(result).Inc()
	}
}

// IncDispatchActive marks a send loop as running
func IncDispatchActive() {
	m := Global()
	if m != nil {
		m.DispatchActive.Inc()
	}
}

// DecDispatchActive marks a send loop as finished
func DecDispatchActive() {
	m := Global()
	if m != nil {
		m.DispatchActive.Dec()
	}
}

// IncSMTPConnections counts a new relay connection
func IncSMTPConnections() {
	m := Global()
	if m != nil {
		m.SMTPConnectionsTotal.Inc()
		m.SMTPConnectionsActive.Inc()
	}
}

// DecSMTPConnectionsActive decrements open relay connections
func DecSMTPConnectionsActive() {
	m := Global()
	if m != nil {
		m.SMTPConnectionsActive.Dec()
	}
}

// IncSMTPAuthFailed increments failed auth counter
func IncSMTPAuthFailed() {
	m := Global()
	if m != nil {
		m.SMTPAuthFailedTotal.Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(scope string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(scope).Inc()
	}
}
