package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/timing"
	"github.com/praetor-io/watchtower/pkg/types"
)

const heartbeatPeriod = 30 * time.Second

// Worker drains the store stream and persists successful rounds. Error
// envelopes carry no state to save and are acknowledged untouched.
// Reset control messages purge the named entity's slice so a restarted
// producer starts from a clean store.
type Worker struct {
	name   string
	client *broker.Client
	store  *Store
	logger zerolog.Logger

	heartbeatGate *timing.TaskLimiter
}

// NewWorker builds the data-store worker.
func NewWorker(name string, client *broker.Client, st *Store) *Worker {
	return &Worker{
		name:          name,
		client:        client,
		store:         st,
		logger:        log.WithComponent(name),
		heartbeatGate: timing.NewTaskLimiter(heartbeatPeriod),
	}
}

// Name returns the worker's component name.
func (w *Worker) Name() string {
	return w.name
}

// Run declares the store topology and consumes until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for _, exchange := range []string{broker.ExchangeStore, broker.ExchangeAlert, broker.ExchangeHealthCheck} {
		if err := w.client.DeclareExchange(exchange, "topic"); err != nil {
			return err
		}
	}
	if _, err := w.client.DeclareQueue(broker.QueueDataStore); err != nil {
		return err
	}
	if err := w.client.Bind(broker.QueueDataStore, broker.ExchangeStore, "transformer.*"); err != nil {
		return err
	}
	if err := w.client.Bind(broker.QueueDataStore, broker.ExchangeAlert, "reset.#"); err != nil {
		return err
	}
	return w.client.Consume(ctx, broker.QueueDataStore, 200, func(d amqp.Delivery) {
		w.handle(ctx, d)
	})
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	if strings.HasPrefix(d.RoutingKey, "reset.") {
		w.handleReset(ctx, d)
		return
	}

	kind, err := kindFromKey(d.RoutingKey)
	if err != nil {
		w.logger.Error().Err(err).Str("key", d.RoutingKey).Msg("dropping message")
		d.Ack(false)
		return
	}

	var msg types.SaveMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.logger.Error().Err(err).Msg("dropping undecodable store message")
		d.Ack(false)
		return
	}
	if msg.Result == nil {
		// Error envelopes are forwarded on the store stream for
		// uniformity but carry nothing to persist.
		d.Ack(false)
		return
	}

	fields := msg.Result.Data
	if fields == nil {
		fields = map[string]*float64{}
	}
	fields[types.MetricLastMonitored] = types.Float(msg.Result.Meta.LastMonitored)

	if err := w.store.SetFields(ctx, kind, msg.Result.Meta.EntityID, fields); err != nil {
		w.logger.Error().Err(err).Str("entity", msg.Result.Meta.EntityID).Msg("persist failed, requeueing")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
	w.heartbeat(ctx)
}

func (w *Worker) handleReset(ctx context.Context, d amqp.Delivery) {
	kind, err := resetKindFromKey(d.RoutingKey)
	if err != nil {
		w.logger.Error().Err(err).Str("key", d.RoutingKey).Msg("dropping reset message")
		d.Ack(false)
		return
	}
	var alert alerts.Alert
	if err := json.Unmarshal(d.Body, &alert); err != nil || !alert.IsComponentReset() {
		w.logger.Error().Str("key", d.RoutingKey).Msg("dropping malformed reset message")
		d.Ack(false)
		return
	}
	if err := w.store.PurgeEntity(ctx, kind, alert.OriginID); err != nil {
		w.logger.Error().Err(err).Str("entity", alert.OriginID).Msg("purge failed, requeueing")
		d.Nack(false, true)
		return
	}
	w.logger.Info().Str("entity", alert.OriginID).Str("kind", string(kind)).Msg("entity state purged")
	d.Ack(false)
}

func (w *Worker) heartbeat(ctx context.Context) {
	now := time.Now()
	if !w.heartbeatGate.CanDoTask(now) {
		return
	}
	hb := types.WorkerHeartbeat{
		ComponentName: w.name,
		IsAlive:       true,
		Timestamp:     float64(now.Unix()),
	}
	body, _ := json.Marshal(hb)
	if err := w.client.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyWorkerHeartbeat, body); err != nil {
		w.logger.Warn().Err(err).Msg("heartbeat publish failed")
		return
	}
	w.heartbeatGate.DidTask(now)
}

func kindFromKey(key string) (types.EntityKind, error) {
	suffix, ok := strings.CutPrefix(key, "transformer.")
	if !ok {
		return "", fmt.Errorf("routing key %q is not on the store stream", key)
	}
	return knownKind(key, suffix)
}

func resetKindFromKey(key string) (types.EntityKind, error) {
	suffix, ok := strings.CutPrefix(key, "reset.")
	if !ok {
		return "", fmt.Errorf("routing key %q is not a reset key", key)
	}
	kind, _, ok := strings.Cut(suffix, ".")
	if !ok {
		return "", fmt.Errorf("reset key %q carries no parent id", key)
	}
	return knownKind(key, kind)
}

func knownKind(key, raw string) (types.EntityKind, error) {
	switch k := types.EntityKind(raw); k {
	case types.KindSystem, types.KindGithub, types.KindDockerhub, types.KindChainlinkContracts:
		return k, nil
	default:
		return "", fmt.Errorf("routing key %q names no known entity kind", key)
	}
}
