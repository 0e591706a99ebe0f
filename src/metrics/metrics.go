// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// Prometheus implements hub.Metrics.
type Prometheus struct {
	connections *prometheus.GaugeVec
	online      prometheus.Gauge
	authFail    prometheus.Counter
	relayed     prometheus.Counter
	dropped     prometheus.Counter
}

// New registers the gateway collectors with reg.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections by state.",
		}, []string{"state"}),
		online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Identities with at least one live connection.",
		}),
		authFail: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Handshakes rejected for a missing or invalid token.",
		}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages persisted and broadcast.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a send queue was full.",
		}),
	}
}

func (p *Prometheus) ConnectionOpened()    { p.connections.WithLabelValues("active").Inc() }
func (p *Prometheus) ConnectionClosed()    { p.connections.WithLabelValues("active").Dec() }
func (p *Prometheus) SetOnlineUsers(n int) { p.online.Set(float64(n)) }
func (p *Prometheus) AuthFailed()          { p.authFail.Inc() }
func (p *Prometheus) MessageRelayed()      { p.relayed.Inc() }
func (p *Prometheus) FrameDropped()        { p.dropped.Inc() }

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
