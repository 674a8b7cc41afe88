// Package health hosts the health-checker: the ping publisher that
// prompts managers for liveness reports, the recorder that persists
// heartbeats, and the HTTP surface exposing metrics and a health probe.
package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
)

// Ping is the fan-out message every manager answers with a heartbeat.
type Ping struct {
	Timestamp float64 `json:"timestamp"`
}

// PingPublisher broadcasts pings on the health-check exchange.
type PingPublisher struct {
	client   *broker.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewPingPublisher builds a publisher pinging at the given interval.
func NewPingPublisher(client *broker.Client, interval time.Duration) *PingPublisher {
	return &PingPublisher{
		client:   client,
		interval: interval,
		logger:   log.WithComponent("ping_publisher"),
	}
}

// Run publishes pings until cancelled. An undelivered ping only means no
// manager is up yet, so it is logged and the loop carries on.
func (p *PingPublisher) Run(ctx context.Context) error {
	if err := p.client.DeclareExchange(broker.ExchangeHealthCheck, "topic"); err != nil {
		return err
	}
	for {
		body, _ := json.Marshal(Ping{Timestamp: float64(time.Now().Unix())})
		if err := p.client.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyPing, body); err != nil {
			p.logger.Warn().Err(err).Msg("ping not delivered")
		}
		if err := broker.Sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}
