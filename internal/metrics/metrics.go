package metrics

import "github.com/prometheus/client_golang/prometheus"

// DialogueMetrics exposes counters and histograms for the quote dialogue.
type DialogueMetrics struct {
	inboundTotal  *prometheus.CounterVec
	resetsTotal   *prometheus.CounterVec
	quotesTotal   *prometheus.CounterVec
	quoteLatency  *prometheus.HistogramVec
	outboundTotal *prometheus.CounterVec
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipbot",
			Subsystem: "dialogue",
			Name:      "inbound_total",
			Help:      "Inbound messages by outcome",
		}, []string{"outcome"}),
		resetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipbot",
			Subsystem: "dialogue",
			Name:      "resets_total",
			Help:      "Sessions torn down before completion",
		}, []string{"reason"}),
		quotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipbot",
			Subsystem: "quote",
			Name:      "total",
			Help:      "Quotes computed by strategy and status",
		}, []string{"strategy", "status"}),
		quoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipbot",
			Subsystem: "quote",
			Name:      "latency_seconds",
			Help:      "Time spent producing a quote",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipbot",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound WhatsApp sends by message type and status",
		}, []string{"type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.resetsTotal, m.quotesTotal, m.quoteLatency, m.outboundTotal)
	return m
}

func (m *DialogueMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *DialogueMetrics) ObserveReset(reason string) {
	if m == nil {
		return
	}
	m.resetsTotal.WithLabelValues(reason).Inc()
}

func (m *DialogueMetrics) ObserveQuote(strategy, status string, seconds float64) {
	if m == nil {
		return
	}
	m.quotesTotal.WithLabelValues(strategy, status).Inc()
	m.quoteLatency.WithLabelValues(strategy).Observe(seconds)
}

func (m *DialogueMetrics) ObserveOutbound(msgType, status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(msgType, status).Inc()
}
