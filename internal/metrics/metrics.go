package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pettycash/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the service collectors. It implements service.LifecycleRecorder.
type Metrics struct {
	transitions      *prometheus.CounterVec
	debits           prometheus.Counter
	debitedAmount    prometheus.Counter
	negativeBalances prometheus.Counter

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ service.LifecycleRecorder = (*Metrics)(nil)

// New registers the collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pettycash_expense_transitions_total",
			Help: "Lifecycle operations by action and outcome.",
		}, []string{"action", "outcome"}),
		debits: f.NewCounter(prometheus.CounterOpts{
			Name: "pettycash_balance_debits_total",
			Help: "Balance debits written for approved expenses.",
		}),
		debitedAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "pettycash_balance_debited_amount_total",
			Help: "Sum of approved expense amounts debited from balances.",
		}),
		negativeBalances: f.NewCounter(prometheus.CounterOpts{
			Name: "pettycash_balance_negative_after_debit_total",
			Help: "Approvals that left the submitter's balance below zero.",
		}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) RecordTransition(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(service.ErrorCode(err))
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordDebit(amount, balanceAfter decimal.Decimal) {
	m.debits.Inc()
	m.debitedAmount.Add(amount.InexactFloat64())
	if balanceAfter.IsNegative() {
		m.negativeBalances.Inc()
	}
}

// Instrument records request count, latency and in-flight requests per route template.
func (m *Metrics) Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.httpInFlight.Inc()
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpInFlight.Dec()
	}
}

// Handler exposes g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
