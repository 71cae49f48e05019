package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	phoneNumbers    *prometheus.CounterVec
	creditsGranted  prometheus.Counter
	profileWrites   *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "am_request_duration_seconds",
				Help:    "Duration of operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_webhook_events_total",
				Help: "Payment webhook events by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		phoneNumbers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_phone_numbers_total",
				Help: "Phone number provisioning outcomes.",
			},
			[]string{"outcome"},
		),
		creditsGranted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "am_credits_granted_total",
				Help: "Credits granted through payments.",
			},
		),
		profileWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "am_profile_writes_total",
				Help: "Profile writes by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrWebhookEvent counts a processed webhook event.
func (m *Metrics) IncrWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncrPhoneNumber counts a provisioning outcome (provisioned, existing, released, lost_race, failed).
func (m *Metrics) IncrPhoneNumber(outcome string) {
	m.phoneNumbers.WithLabelValues(outcome).Inc()
}

// AddCreditsGranted adds to the granted credits counter.
func (m *Metrics) AddCreditsGranted(n int) {
	m.creditsGranted.Add(float64(n))
}

// IncrProfileWrite counts a profile write.
func (m *Metrics) IncrProfileWrite(result string) {
	m.profileWrites.WithLabelValues(result).Inc()
}

// WebhookEventCount returns the cumulative count for a type/outcome pair.
func (m *Metrics) WebhookEventCount(eventType, outcome string) float64 {
	return getCounterValue(m.webhookEvents.WithLabelValues(eventType, outcome))
}

// PhoneNumberCount returns the cumulative count for an outcome.
func (m *Metrics) PhoneNumberCount(outcome string) float64 {
	return getCounterValue(m.phoneNumbers.WithLabelValues(outcome))
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
