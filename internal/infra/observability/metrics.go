package observability

import (
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Turn outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Drop reasons for inbound events that never reach the controller's dispatch.
const (
	DropUnsupported = "unsupported"
	DropDuplicate   = "duplicate"
	DropBusy        = "busy"
)

// Metrics holds all Prometheus metrics for the receipt assistant.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration   *prometheus.HistogramVec
	externalErrors      *prometheus.CounterVec
	dedupeLookups       *prometheus.CounterVec
	tokensUsed          *prometheus.CounterVec
	turnsTotal          *prometheus.CounterVec
	intentsTotal        *prometheus.CounterVec
	droppedEvents       *prometheus.CounterVec
	interpreterFailures *prometheus.CounterVec
	receiptsRendered    *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. A private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "receipt_operation_duration_seconds",
				Help:    "Duration of turns, model calls and renders by operation.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		dedupeLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_dedupe_lookups_total",
				Help: "Inbound message id lookups by result (hit = already seen).",
			},
			[]string{"result"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_turns_total",
				Help: "Conversation turns processed by outcome.",
			},
			[]string{"outcome"},
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_intents_total",
				Help: "Interpreted intents.",
			},
			[]string{"intent"},
		),
		droppedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_dropped_events_total",
				Help: "Inbound events dropped before processing.",
			},
			[]string{"reason"},
		),
		interpreterFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_interpreter_failures_total",
				Help: "Model calls that fell back to the safe default turn.",
			},
			[]string{"reason"},
		),
		receiptsRendered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_rendered_total",
				Help: "Receipts rendered by output format.",
			},
			[]string{"format"},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// RecordDedupe counts one message-id lookup.
func (m *Metrics) RecordDedupe(seen bool) {
	if seen {
		m.dedupeLookups.WithLabelValues("hit").Inc()
		return
	}
	m.dedupeLookups.WithLabelValues("miss").Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrTurn counts a finished turn.
func (m *Metrics) IncrTurn(outcome string) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// IncrIntent counts an interpreted intent.
func (m *Metrics) IncrIntent(intent string) {
	m.intentsTotal.WithLabelValues(intent).Inc()
}

// IncrDropped counts an event dropped before dispatch.
func (m *Metrics) IncrDropped(reason string) {
	m.droppedEvents.WithLabelValues(reason).Inc()
}

// IncrInterpreterFailure counts a fallback turn.
func (m *Metrics) IncrInterpreterFailure(reason string) {
	m.interpreterFailures.WithLabelValues(reason).Inc()
}

// IncrRendered counts a rendered receipt.
func (m *Metrics) IncrRendered(format string) {
	m.receiptsRendered.WithLabelValues(format).Inc()
}

// Snapshot returns the cumulative counters for the operator metrics endpoint.
func (m *Metrics) Snapshot() *domain.BotMetrics {
	ok := getCounterValue(m.turnsTotal, OutcomeOK)
	failed := getCounterValue(m.turnsTotal, OutcomeError)
	total := ok + failed
	prompt := getCounterValue(m.tokensUsed, "prompt")
	completion := getCounterValue(m.tokensUsed, "completion")
	hits := getCounterValue(m.dedupeLookups, "hit")
	misses := getCounterValue(m.dedupeLookups, "miss")

	errorRate := float64(0)
	avgTokens := float64(0)
	if total > 0 {
		errorRate = failed / total
		avgTokens = (prompt + completion) / total
	}
	dedupeRate := float64(0)
	if hits+misses > 0 {
		dedupeRate = hits / (hits + misses)
	}

	rendered := int64(0)
	for _, v := range collectByLabel(m.receiptsRendered) {
		rendered += v
	}
	interpFailures := int64(0)
	for _, v := range collectByLabel(m.interpreterFailures) {
		interpFailures += v
	}

	return &domain.BotMetrics{
		TotalTurns:          int64(total),
		FailedTurns:         int64(failed),
		ErrorRate:           errorRate,
		DroppedEvents:       collectByLabel(m.droppedEvents),
		Intents:             collectByLabel(m.intentsTotal),
		InterpreterFailures: interpFailures,
		PromptTokens:        int64(prompt),
		CompletionTokens:    int64(completion),
		AvgTokensPerTurn:    avgTokens,
		ReceiptsRendered:    rendered,
		DedupeHitRate:       dedupeRate,
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// collectByLabel returns every child of a single-label CounterVec keyed by its label value.
func collectByLabel(cv *prometheus.CounterVec) map[string]int64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	out := make(map[string]int64)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if len(m.Label) == 0 || m.Counter == nil {
			continue
		}
		out[m.Label[0].GetValue()] = int64(m.Counter.GetValue())
	}
	return out
}
