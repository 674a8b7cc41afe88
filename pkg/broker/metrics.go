package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_broker_published_total",
		Help: "Messages published per exchange, by outcome.",
	}, []string{"exchange", "outcome"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watchtower_broker_consumed_total",
		Help: "Messages consumed per queue.",
	}, []string{"queue"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_broker_reconnects_total",
		Help: "Connection attempts that followed a lost connection.",
	})

	channelReopensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watchtower_broker_channel_reopens_total",
		Help: "Confirm channels replaced after a channel-level error.",
	})
)
