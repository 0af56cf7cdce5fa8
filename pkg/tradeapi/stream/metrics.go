package stream

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type streamMetrics struct {
	messages   *prometheus.CounterVec
	malformed  prometheus.Counter
	reconnects prometheus.Counter
	state      prometheus.Gauge
}

func newStreamMetrics(reg prometheus.Registerer) *streamMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &streamMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "stream", Name: "messages_total",
			Help: "Inbound stream messages by type",
		}, []string{"type"})),
		malformed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "stream", Name: "malformed_total",
			Help: "Frames or messages skipped because they could not be decoded",
		})),
		reconnects: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "stream", Name: "reconnects_total",
			Help: "Reconnect attempts after a transport error",
		})),
		state: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeapi", Subsystem: "stream", Name: "state",
			Help: "Connection state (0 disconnected .. 5 stopped)",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *streamMetrics) message(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *streamMetrics) malformedMessage() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *streamMetrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *streamMetrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
