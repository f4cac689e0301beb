// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conference"

var (
	Workers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "workers", Help: "Live media workers.",
	})
	WorkerDeaths = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "worker_deaths_total", Help: "Unexpected media worker terminations.",
	})
	Routers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "routers", Help: "Open per-room routers.",
	})
	Transports = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "transports", Help: "Registered transports by direction.",
	}, []string{"direction"})
	Producers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "producers", Help: "Registered producers by kind.",
	}, []string{"kind"})
	Consumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "consumers", Help: "Registered consumers by kind.",
	}, []string{"kind"})
	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "rooms", Help: "Open rooms.",
	})
	Participants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "participants", Help: "Active participants across rooms.",
	})
	Waiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "waiting_entries", Help: "Join requests parked in waiting rooms.",
	})
	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "joins_total", Help: "Join attempts by outcome.",
	}, []string{"result"})
	SignalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "signal_errors_total", Help: "Failed signaling requests by error code.",
	}, []string{"code"})
)
