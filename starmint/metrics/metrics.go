package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every starmint metric on its own Prometheus registry. A nil
// *Registry is valid and records nothing, so engines can run without one.
type Registry struct {
	registry *prometheus.Registry

	Bids               *prometheus.CounterVec
	AntiSnipeExtends   prometheus.Counter
	AuctionsFinalized  *prometheus.CounterVec
	PhaseTransitions   *prometheus.CounterVec
	PriceRecalcs       prometheus.Counter
	PriceRecalcUpdated prometheus.Counter
	PriceRecalcSeconds prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	TierWarnings       *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	HTTPRequests       *prometheus.HistogramVec
	JobRuns            *prometheus.CounterVec
}

func NewRegistry() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		Bids: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_bids_total",
				Help: "Bid attempts by result code",
			},
			[]string{"result"},
		),

		AntiSnipeExtends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "starmint_auction_extensions_total",
				Help: "Auctions whose end time was re-armed by a late bid",
			},
		),

		AuctionsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_auctions_finalized_total",
				Help: "Auction finalizations by outcome",
			},
			[]string{"outcome"},
		),

		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_phase_transitions_total",
				Help: "Schedule transitions by kind",
			},
			[]string{"kind"},
		),

		PriceRecalcs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "starmint_price_recalculations_total",
				Help: "Full price recalculation runs",
			},
		),

		PriceRecalcUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "starmint_price_updates_total",
				Help: "Collectible prices changed by recalculation",
			},
		),

		PriceRecalcSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "starmint_price_recalculation_seconds",
				Help:    "Duration of a full price recalculation",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_price_cache_lookups_total",
				Help: "Price cache lookups by result",
			},
			[]string{"result"},
		),

		TierWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_tier_warnings_total",
				Help: "Integrity warnings raised by tier assignment",
			},
			[]string{"code"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_notifications_total",
				Help: "Notification deliveries by kind and result",
			},
			[]string{"kind", "result"},
		),

		HTTPRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starmint_http_request_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),

		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmint_job_runs_total",
				Help: "Scheduled job runs by job and result",
			},
			[]string{"job", "result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Bids,
		m.AntiSnipeExtends,
		m.AuctionsFinalized,
		m.PhaseTransitions,
		m.PriceRecalcs,
		m.PriceRecalcUpdated,
		m.PriceRecalcSeconds,
		m.CacheLookups,
		m.TierWarnings,
		m.Notifications,
		m.HTTPRequests,
		m.JobRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Registry) RecordBid(result string, extended bool) {
	if m == nil {
		return
	}
	m.Bids.WithLabelValues(result).Inc()
	if extended {
		m.AntiSnipeExtends.Inc()
	}
}

func (m *Registry) RecordFinalization(outcome string) {
	if m == nil {
		return
	}
	m.AuctionsFinalized.WithLabelValues(outcome).Inc()
}

func (m *Registry) RecordTransition(kind string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(kind).Inc()
}

func (m *Registry) RecordRecalculation(took time.Duration, updated int) {
	if m == nil {
		return
	}
	m.PriceRecalcs.Inc()
	m.PriceRecalcUpdated.Add(float64(updated))
	m.PriceRecalcSeconds.Observe(took.Seconds())
}

func (m *Registry) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Registry) RecordTierWarning(code string) {
	if m == nil {
		return
	}
	m.TierWarnings.WithLabelValues(code).Inc()
}

func (m *Registry) RecordNotification(kind, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

func (m *Registry) ObserveRequest(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Observe(took.Seconds())
}

func (m *Registry) RecordJob(job, result string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}
