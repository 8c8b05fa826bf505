package budget

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clio-agent/clio/pkg/models"
)

// Metrics exposes usage counters and trim activity as Prometheus series.
// Registration is optional; a nil Metrics is a no-op everywhere.
type Metrics struct {
	promptTokens     *prometheus.CounterVec
	completionTokens *prometheus.CounterVec
	trimmedMessages  prometheus.Counter
	turns            prometheus.Counter
}

// NewMetrics builds and registers the collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clio",
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens reported by providers.",
		}, []string{"model"}),
		completionTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clio",
			Name:      "completion_tokens_total",
			Help:      "Completion tokens reported by providers.",
		}, []string{"model"}),
		trimmedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clio",
			Name:      "context_trimmed_messages_total",
			Help:      "Messages dropped by the context budget manager.",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clio",
			Name:      "turns_total",
			Help:      "Completed user turns.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promptTokens, m.completionTokens, m.trimmedMessages, m.turns)
	}
	return m
}

// RecordUsage counts one provider call's token usage.
func (m *Metrics) RecordUsage(model string, usage models.UsageTriple) {
	if m == nil {
		return
	}
	m.promptTokens.WithLabelValues(model).Add(float64(usage.PromptTokens))
	m.completionTokens.WithLabelValues(model).Add(float64(usage.CompletionTokens))
}

// RecordTrim counts messages dropped by Shape.
func (m *Metrics) RecordTrim(report TrimReport) {
	if m == nil {
		return
	}
	m.trimmedMessages.Add(float64(report.DroppedMessages))
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn() {
	if m == nil {
		return
	}
	m.turns.Inc()
}
