package llm

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counsellor_llm_tokens_total",
			Help: "Tokens consumed by language model calls.",
		},
		[]string{"model", "kind"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counsellor_llm_requests_total",
			Help: "Language model calls by outcome.",
		},
		[]string{"model", "outcome"},
	)
	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "counsellor_llm_fallbacks_total",
			Help: "Calls retried with the fallback model.",
		},
	)
)

func init() {
	prometheus.MustRegister(tokensTotal, requestsTotal, fallbacksTotal)
}
