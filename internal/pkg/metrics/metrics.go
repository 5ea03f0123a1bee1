package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_trades_total",
		Help: "Escrow trades reaching a terminal status",
	}, []string{"outcome"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_risk_rejects_total",
		Help: "Pre-trade checks rejected by the scam gate",
	}, []string{"reason"})

	QueueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_queue_jobs_total",
		Help: "Trade queue jobs by terminal status",
	}, []string{"status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrowd_queue_depth",
		Help: "Jobs currently waiting or leased",
	})

	CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_circuit_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "state"})

	BotLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_bot_logins_total",
		Help: "Bot login attempts by result",
	}, []string{"result"})

	OfferEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowd_offer_events_total",
		Help: "External offer state events consumed",
	}, []string{"state"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrowd_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
