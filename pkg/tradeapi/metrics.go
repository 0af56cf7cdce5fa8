package tradeapi

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// clientMetrics is nil-safe: a client without WithMetrics records nothing.
type clientMetrics struct {
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	giveUps  prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &clientMetrics{
		attempts: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "rest", Name: "attempts_total",
			Help: "HTTP attempts by method and status code",
		}, []string{"method", "code"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "rest", Name: "retries_total",
			Help: "Attempts that ended with a retryable status",
		}, []string{"code"})),
		giveUps: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeapi", Subsystem: "rest", Name: "retries_exhausted_total",
			Help: "Requests that failed after exhausting retries",
		})),
	}
}

// register returns the already registered collector when an identical one
// exists, so several clients can share a registry.
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

func (m *clientMetrics) observe(method string, out outcome) {
	if m == nil {
		return
	}
	code := "error"
	if out.status != 0 {
		code = strconv.Itoa(out.status)
	}
	m.attempts.WithLabelValues(method, code).Inc()
	if out.kind == outcomeRetryable {
		m.retries.WithLabelValues(code).Inc()
	}
}

func (m *clientMetrics) giveUp() {
	if m == nil {
		return
	}
	m.giveUps.Inc()
}
