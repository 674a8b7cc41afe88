package health

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/types"
)

// Heartbeats are persisted under a reserved pseudo-kind so they share
// the store's namespacing and purge machinery with real entities.
const kindComponent = types.EntityKind("component")

// Recorder drains worker and manager heartbeats into the store, where
// dashboards and the HTTP probe read component liveness from.
type Recorder struct {
	client *broker.Client
	store  *store.Store
	logger zerolog.Logger
}

// NewRecorder builds the heartbeat recorder.
func NewRecorder(client *broker.Client, st *store.Store) *Recorder {
	return &Recorder{
		client: client,
		store:  st,
		logger: log.WithComponent("heartbeat_recorder"),
	}
}

// Run declares the heartbeat queue and consumes until cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.client.DeclareExchange(broker.ExchangeHealthCheck, "topic"); err != nil {
		return err
	}
	if _, err := r.client.DeclareQueue(broker.QueueHealthChecker); err != nil {
		return err
	}
	if err := r.client.Bind(broker.QueueHealthChecker, broker.ExchangeHealthCheck, "heartbeat.*"); err != nil {
		return err
	}
	return r.client.Consume(ctx, broker.QueueHealthChecker, 200, func(d amqp.Delivery) {
		r.handle(ctx, d)
	})
}

func (r *Recorder) handle(ctx context.Context, d amqp.Delivery) {
	name, err := componentName(d.RoutingKey, d.Body)
	if err != nil {
		r.logger.Error().Err(err).Str("key", d.RoutingKey).Msg("dropping heartbeat")
		d.Ack(false)
		return
	}
	if err := r.store.SetString(ctx, kindComponent, name, "heartbeat", string(d.Body)); err != nil {
		r.logger.Error().Err(err).Str("component", name).Msg("heartbeat persist failed, requeueing")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func componentName(key string, body []byte) (string, error) {
	switch key {
	case broker.KeyWorkerHeartbeat:
		var hb types.WorkerHeartbeat
		if err := json.Unmarshal(body, &hb); err != nil {
			return "", err
		}
		return hb.ComponentName, nil
	case broker.KeyManagerHeartbeat:
		var hb types.ManagerHeartbeat
		if err := json.Unmarshal(body, &hb); err != nil {
			return "", err
		}
		return hb.ComponentName, nil
	default:
		return "", types.ErrUnexpectedSchema
	}
}
