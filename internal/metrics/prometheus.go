package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "launch_ladder_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	launchesDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "launches_decoded_total",
		Help:      "Total number of launch events decoded from factory logs.",
	})
	launchesStale := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "launches_stale_total",
		Help:      "Total number of launch events dropped by the freshness filter.",
	})
	gateRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "gate_rejected_total",
		Help:      "Total number of launches rejected by the credibility gate.",
	})
	positionsOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "positions_opened_total",
		Help:      "Total number of positions opened.",
	})
	positionsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "positions_closed_total",
		Help:      "Total number of positions closed.",
	})
	buysFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "buys_failed_total",
		Help:      "Total number of entry buy failures.",
	})
	sellsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "sells_failed_total",
		Help:      "Total number of exit sell failures.",
	})
	levelsFilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ladder_levels_filled_total",
		Help:      "Total number of ladder levels filled.",
	})

	registry.MustRegister(launchesDecoded, launchesStale, gateRejected,
		positionsOpened, positionsClosed, buysFailed, sellsFailed, levelsFilled)

	m := &Metrics{
		LaunchesDecoded: promCounter{launchesDecoded},
		LaunchesStale:   promCounter{launchesStale},
		GateRejected:    promCounter{gateRejected},
		PositionsOpened: promCounter{positionsOpened},
		PositionsClosed: promCounter{positionsClosed},
		BuysFailed:      promCounter{buysFailed},
		SellsFailed:     promCounter{sellsFailed},
		LevelsFilled:    promCounter{levelsFilled},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
