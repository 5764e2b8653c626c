// Package metrics collects and exposes Prometheus metrics for the OAuth
// credential lifecycle and the onboarding wizard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the narrow interface services depend on.
type Recorder interface {
	RecordExchange(provider, result string)
	RecordRefresh(provider, result string)
	RecordDisconnect(provider string)
	RecordStepCompleted(step string)
}

// Collector is the Prometheus-backed Recorder implementation.
type Collector struct {
	exchanges     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	stepCompleted *prometheus.CounterVec
}

// NewCollector registers all metrics with the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortify_oauth_exchange_total",
			Help: "Authorization code exchanges by provider and result.",
		}, []string{"provider", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortify_oauth_refresh_total",
			Help: "Access token refreshes by provider and result.",
		}, []string{"provider", "result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortify_oauth_disconnect_total",
			Help: "Provider disconnects.",
		}, []string{"provider"}),
		stepCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sortify_onboarding_step_completed_total",
			Help: "Onboarding step completions by step.",
		}, []string{"step"}),
	}

	reg.MustRegister(
		c.exchanges,
		c.refreshes,
		c.disconnects,
		c.stepCompleted,
	)

	return c
}

func (c *Collector) RecordExchange(provider, result string) {
	c.exchanges.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordRefresh(provider, result string) {
	c.refreshes.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordDisconnect(provider string) {
	c.disconnects.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordStepCompleted(step string) {
	c.stepCompleted.WithLabelValues(step).Inc()
}

// Handler returns the /metrics scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
