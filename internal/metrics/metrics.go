// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives counters from every part of the bot.
type Recorder interface {
	IncEvent(transport, kind string)
	IncCommand(name string)
	IncReply(action string)
	IncGatewayError(op string)
	IncRateFetch(result string)
	IncRateCacheHit()
	// GaugeFunc registers a gauge read from fn at scrape time.
	GaugeFunc(name, help string, fn func() float64)
	Handler() http.Handler
}

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	reg           *prometheus.Registry
	events        *prometheus.CounterVec
	commands      *prometheus.CounterVec
	replies       *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	rateFetches   *prometheus.CounterVec
	rateHits      prometheus.Counter
}

// New returns a Prometheus recorder, or a no-op one when disabled.
func New(enabled bool) Recorder {
	if !enabled {
		return noop{}
	}
	return NewPrometheus(prometheus.NewRegistry())
}

// NewPrometheus registers the bot's metrics on reg.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Prometheus{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moneyman_events_total",
			Help: "Chat events received, by transport and kind",
		}, []string{"transport", "kind"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moneyman_commands_total",
			Help: "Commands handled, by name",
		}, []string{"command"}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moneyman_replies_total",
			Help: "Reply actions performed, by action",
		}, []string{"action"}),
		gatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moneyman_gateway_errors_total",
			Help: "Failed chat gateway calls, by operation",
		}, []string{"op"}),
		rateFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "moneyman_rate_fetches_total",
			Help: "Exchange rate fetches, by result",
		}, []string{"result"}),
		rateHits: f.NewCounter(prometheus.CounterOpts{
			Name: "moneyman_rate_cache_hits_total",
			Help: "Rate lookups served from a fresh snapshot",
		}),
	}
}

func (p *Prometheus) IncEvent(transport, kind string) {
	p.events.WithLabelValues(transport, kind).Inc()
}

func (p *Prometheus) IncCommand(name string) {
	p.commands.WithLabelValues(name).Inc()
}

func (p *Prometheus) IncReply(action string) {
	p.replies.WithLabelValues(action).Inc()
}

func (p *Prometheus) IncGatewayError(op string) {
	p.gatewayErrors.WithLabelValues(op).Inc()
}

func (p *Prometheus) IncRateFetch(result string) {
	p.rateFetches.WithLabelValues(result).Inc()
}

func (p *Prometheus) IncRateCacheHit() {
	p.rateHits.Inc()
}

func (p *Prometheus) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(p.reg).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// noop is used when metrics are disabled.
type noop struct{}

func (noop) IncEvent(_, _ string)                    {}
func (noop) IncCommand(_ string)                     {}
func (noop) IncReply(_ string)                       {}
func (noop) IncGatewayError(_ string)                {}
func (noop) IncRateFetch(_ string)                   {}
func (noop) IncRateCacheHit()                        {}
func (noop) GaugeFunc(_, _ string, _ func() float64) {}
func (noop) Handler() http.Handler                   { return http.NotFoundHandler() }
