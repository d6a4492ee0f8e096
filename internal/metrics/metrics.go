package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts the outcomes that matter operationally: credential-store
// logins, OAuth exchanges, and publish attempts per platform.
type Collector struct {
	registry *prometheus.Registry

	loginAttempts  *prometheus.CounterVec
	oauthExchanges *prometheus.CounterVec
	publishes      *prometheus.CounterVec
}

// NewCollector builds a Collector backed by its own registry so tests never
// collide on the global default.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_login_attempts_total",
			Help: "Login attempts by result (ok, invalid_credentials, error).",
		}, []string{"result"}),
		oauthExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_oauth_exchanges_total",
			Help: "LinkedIn authorization-code exchanges by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_publishes_total",
			Help: "Publish attempts by platform and result.",
		}, []string{"platform", "result"}),
	}
	reg.MustRegister(c.loginAttempts, c.oauthExchanges, c.publishes)
	return c
}

func (c *Collector) RecordLogin(result string) {
	c.loginAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) RecordOAuthExchange(result string) {
	c.oauthExchanges.WithLabelValues(result).Inc()
}

func (c *Collector) RecordPublish(platform, result string) {
	c.publishes.WithLabelValues(platform, result).Inc()
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
