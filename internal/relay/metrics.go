package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the relay's observable counters. All forwarding is
// fire-and-forget, so these counters are the only delivery signal there is.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectsTotal     prometheus.Counter

	JoinsTotal  prometheus.Counter
	LeavesTotal prometheus.Counter

	PlotForwarded prometheus.Counter
	PlotDenied    prometheus.Counter

	NotifyForwarded prometheus.Counter

	SendsDropped prometheus.Counter
}

// NewMetrics registers the relay metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "plotrelay_connections_active",
			Help: "Currently open relay websocket connections.",
		}),
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_connects_total",
			Help: "Accepted relay websocket connections.",
		}),
		JoinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_room_joins_total",
			Help: "Processed join messages.",
		}),
		LeavesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_room_leaves_total",
			Help: "Processed leave messages.",
		}),
		PlotForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_plot_forwarded_total",
			Help: "Plot messages broadcast to the plotter room.",
		}),
		PlotDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_plot_denied_total",
			Help: "Plot messages dropped because the sender was unauthenticated.",
		}),
		NotifyForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_notify_forwarded_total",
			Help: "Notify messages broadcast to the guests room.",
		}),
		SendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "plotrelay_sends_dropped_total",
			Help: "Per-recipient sends dropped under backpressure or mid-disconnect.",
		}),
	}
}
