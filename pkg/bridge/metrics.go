// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the relay pipeline. Registered once at package
// init; the listener serving them is opt-in via metrics.enabled.
var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_received_total",
		Help: "Supported message events seen by the sync callback, by kind",
	}, []string{"kind"})
	eventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_relayed_total",
		Help: "Events successfully delivered to the webhook, by kind",
	}, []string{"kind"})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_events_dropped_total",
		Help: "Events dropped before delivery, by reason",
	}, []string{"reason"})
	webhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_webhook_failures_total",
		Help: "Webhook deliveries that failed",
	})
	mediaFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_media_fetch_failures_total",
		Help: "Inline media downloads that failed",
	})
	webhookDeliverySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_webhook_delivery_seconds",
		Help:    "Webhook delivery latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Drop reasons for bridge_events_dropped_total.
const (
	dropReasonWatermark   = "watermark"
	dropReasonUnsupported = "unsupported"
	dropReasonOwnEvent    = "own_event"
)

// newMetricsMux builds the handler for the metrics listener: Prometheus
// metrics on /metrics and a liveness probe on /healthz.
func newMetricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

func newMetricsServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      newMetricsMux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
