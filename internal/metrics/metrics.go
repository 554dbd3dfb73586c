// Package metrics provides Prometheus instrumentation for the payment
// firewall.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firewall",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "firewall",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FirewallBlockedTotal counts firewall blocks by the layer that
	// produced them (classifier, intent-diff, human).
	FirewallBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firewall",
			Name:      "firewall_blocked_total",
			Help:      "Total payments blocked by the transaction firewall, by layer.",
		},
		[]string{"layer"},
	)

	// PolicyBlockedTotal counts policy-engine blocks by the rule that
	// fired.
	PolicyBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firewall",
			Name:      "policy_blocked_total",
			Help:      "Total payments blocked by the policy engine, by rule name.",
		},
		[]string{"rule"},
	)

	// PaymentsTotal counts gate.Pay outcomes by protocol and status.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firewall",
			Name:      "payments_total",
			Help:      "Total payments attempted, by protocol and outcome status.",
		},
		[]string{"protocol", "status"},
	)

	// PaymentDuration observes end-to-end pay() latency by protocol.
	PaymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "firewall",
			Name:      "payment_duration_seconds",
			Help:      "End-to-end gate.Pay duration in seconds, by protocol.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// HumanApprovalsTotal counts human-approval outcomes.
	HumanApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firewall",
			Name:      "human_approvals_total",
			Help:      "Total human approval decisions, by result (approved, rejected, unconfigured).",
		},
		[]string{"result"},
	)

	// InjectionProbability observes the classifier's injection
	// probability across all evaluated intents.
	InjectionProbability = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "firewall",
		Name:      "injection_probability",
		Help:      "Distribution of pattern-classifier injection probabilities.",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// PendingApprovals tracks the number of payments awaiting a human
	// decision right now.
	PendingApprovals = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall",
		Name:      "pending_approvals",
		Help:      "Number of payments currently awaiting human approval.",
	})

	// ActiveApprovalConsoleClients tracks connected operator console
	// WebSocket clients.
	ActiveApprovalConsoleClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall",
		Name:      "active_approval_console_clients",
		Help:      "Number of currently connected approval-console WebSocket clients.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "firewall", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FirewallBlockedTotal,
		PolicyBlockedTotal,
		PaymentsTotal,
		PaymentDuration,
		HumanApprovalsTotal,
		InjectionProbability,
		PendingApprovals,
		ActiveApprovalConsoleClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits
// when ctx is done. Used only when the optional Postgres audit store
// is configured.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
