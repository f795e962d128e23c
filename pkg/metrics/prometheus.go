package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// classifierLatency tracks how long the two-stage intent classifier takes
// per turn, labeled by which stage actually answered (stage1 vs stage2).
var classifierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "turnhub",
	Subsystem: "engine",
	Name:      "classify_duration_seconds",
	Help:      "Time to classify one turn's intent tag and routing lane.",
	Buckets:   prometheus.DefBuckets,
}, []string{"stage"})

// dispatchLatency tracks per-tag direct-automation adapter latency.
var dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "turnhub",
	Subsystem: "dispatch",
	Name:      "adapter_duration_seconds",
	Help:      "Time to execute one direct-automation adapter call.",
	Buckets:   prometheus.DefBuckets,
}, []string{"intent_tag", "ok"})

// contextTierHits counts which Multi-Tier Context Store tier answered a
// ReadContext call, for measuring the hot/warm/cold hit-rate split.
var contextTierHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "turnhub",
	Subsystem: "ctxstore",
	Name:      "tier_hits_total",
	Help:      "ReadContext calls answered by each context-store tier.",
}, []string{"tier"})

// providerFallbacks counts how often a provider role's primary backend
// failed and the call had to retry against its configured fallback.
var providerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "turnhub",
	Subsystem: "providers",
	Name:      "fallback_total",
	Help:      "Calls where the primary LLM provider failed and the fallback answered instead.",
}, []string{"role"})

// ObserveClassification records one Classify call's wall-clock cost.
func ObserveClassification(stage string, elapsed time.Duration) {
	classifierLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveDispatch records one Dispatch call's wall-clock cost.
func ObserveDispatch(intentTag string, ok bool, elapsed time.Duration) {
	okLabel := "true"
	if !ok {
		okLabel = "false"
	}
	dispatchLatency.WithLabelValues(intentTag, okLabel).Observe(elapsed.Seconds())
}

// RecordTierHit increments the hit counter for "hot", "warm", or "cold".
func RecordTierHit(tier string) {
	contextTierHits.WithLabelValues(tier).Inc()
}

// RecordProviderFallback increments the fallback counter for the given
// provider role ("fast_structured" or "high_fluency").
func RecordProviderFallback(role string) {
	providerFallbacks.WithLabelValues(role).Inc()
}

// Handler exposes the registered collectors for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
