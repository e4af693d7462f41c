// Package metrics holds the Prometheus collectors of the service. All of
// them register with the default registry, which /metrics exposes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "servicedesk"

var (
	// Labels: provider, outcome (ok, error, rate_limited)
	modelCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "calls_total",
		Help:      "Model invocations by provider and outcome",
	}, []string{"provider", "outcome"})

	modelLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "latency_seconds",
		Help:      "Model invocation latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"provider"})

	// Labels: tool, outcome (ok, failed, error, rejected)
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and outcome",
	}, []string{"tool", "outcome"})

	// Labels: outcome (reply, apology, error)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Agent turns by outcome",
	}, []string{"outcome"})

	// Labels: claim
	correctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "corrections_total",
		Help:      "Corrective re-runs triggered by unsupported claims in replies",
	}, []string{"claim"})

	// Labels: op (create, lookup, read, modify), outcome
	backendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Ticketing backend calls by operation and outcome",
	}, []string{"op", "outcome"})

	backendLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "latency_seconds",
		Help:      "Ticketing backend latency including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// Labels: kind (text, location, contact, audio), result (handled, duplicate, banned, muted, ignored)
	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "inbound_messages_total",
		Help:      "Inbound chat messages by kind and how they were handled",
	}, []string{"kind", "result"})

	ticketsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "tickets_created_total",
		Help:      "Tickets created through the agent",
	})

	bansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "bans_total",
		Help:      "Chats banned by reason",
	}, []string{"reason"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveModel records one model invocation. rateLimited takes precedence
// over a plain error.
func ObserveModel(provider string, d time.Duration, err error, rateLimited bool) {
	o := outcome(err)
	if rateLimited {
		o = "rate_limited"
	}
	modelCallsTotal.WithLabelValues(provider, o).Inc()
	modelLatencySeconds.WithLabelValues(provider).Observe(d.Seconds())
}

func ObserveTool(tool, outcome string) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveCorrection(claim string) {
	correctionsTotal.WithLabelValues(claim).Inc()
}

// ObserveBackend matches the onec.Client Observe hook.
func ObserveBackend(op string, d time.Duration, err error) {
	backendCallsTotal.WithLabelValues(op, outcome(err)).Inc()
	backendLatencySeconds.WithLabelValues(op).Observe(d.Seconds())
}

func ObserveInbound(kind, result string) {
	inboundTotal.WithLabelValues(kind, result).Inc()
}

func TicketCreated() {
	ticketsCreatedTotal.Inc()
}

func Banned(reason string) {
	bansTotal.WithLabelValues(reason).Inc()
}
