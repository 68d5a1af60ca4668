// Package metrics holds the Prometheus collectors for ship traffic and
// exposure changes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	shipRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expose_ship_requests_total",
		Help: "Total requests sent to the ship by operation (scry, poke, login) and response status.",
	}, []string{"op", "status"})

	shipRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "expose_ship_request_duration_seconds",
		Help:    "Ship request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	exposureChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expose_changes_total",
		Help: "Total exposure commands by action (show, hide, eager) and result.",
	}, []string{"action", "result"})

	publicProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expose_public_probes_total",
		Help: "Total probes of exposed posts' public URLs by result (reachable, unreachable).",
	}, []string{"result"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expose_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by result.",
	}, []string{"result"})
)

// ObserveRequest records one ship request.
func ObserveRequest(op, status string, took time.Duration) {
	shipRequestsTotal.WithLabelValues(op, status).Inc()
	shipRequestDuration.WithLabelValues(op).Observe(took.Seconds())
}

// RecordChange records an exposure command outcome.
func RecordChange(action string, success bool) {
	if success {
		exposureChangesTotal.WithLabelValues(action, "success").Inc()
	} else {
		exposureChangesTotal.WithLabelValues(action, "failure").Inc()
	}
}

// RecordProbe records a public URL probe outcome.
func RecordProbe(reachable bool) {
	if reachable {
		publicProbesTotal.WithLabelValues("reachable").Inc()
	} else {
		publicProbesTotal.WithLabelValues("unreachable").Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
