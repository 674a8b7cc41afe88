// Package transformers converts raw observations into stateful
// per-entity snapshots: flat current values for the store stream and
// {previous, current} pairs for the alert stream.
package transformers

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/timing"
	"github.com/praetor-io/watchtower/pkg/types"
)

const heartbeatPeriod = 30 * time.Second

// Handler owns one entity kind's state machine. Handle must leave the
// in-memory state and the store consistent with the message BEFORE
// returning, because the worker publishes the alert payload afterwards.
type Handler interface {
	Kind() types.EntityKind
	Handle(ctx context.Context, msg types.RawMessage) (*types.SaveMessage, *types.TransformedMessage, error)
}

// Worker is the consume loop shared by all transformers.
type Worker struct {
	name     string
	queue    string
	prefetch int
	handler  Handler
	client   *broker.Client
	logger   zerolog.Logger

	heartbeatGate *timing.TaskLimiter
}

// NewWorker builds a transformer worker.
func NewWorker(name, queue string, prefetch int, handler Handler, client *broker.Client) *Worker {
	return &Worker{
		name:          name,
		queue:         queue,
		prefetch:      prefetch,
		handler:       handler,
		client:        client,
		logger:        log.WithComponent(name),
		heartbeatGate: timing.NewTaskLimiter(heartbeatPeriod),
	}
}

// Name returns the worker's component name.
func (w *Worker) Name() string {
	return w.name
}

// Run declares the topology and consumes until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for _, exchange := range []string{broker.ExchangeRawData, broker.ExchangeStore, broker.ExchangeAlert, broker.ExchangeHealthCheck} {
		if err := w.client.DeclareExchange(exchange, "topic"); err != nil {
			return err
		}
	}
	if _, err := w.client.DeclareQueue(w.queue); err != nil {
		return err
	}
	bindKey := broker.RawDataKey(string(w.handler.Kind()), "*")
	if err := w.client.Bind(w.queue, broker.ExchangeRawData, bindKey); err != nil {
		return err
	}
	return w.client.Consume(ctx, w.queue, w.prefetch, func(d amqp.Delivery) {
		w.handle(ctx, d)
	})
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := types.DecodeRaw(d.Body)
	if err != nil {
		w.logger.Error().Err(err).Msg("dropping undecodable raw message")
		d.Ack(false)
		return
	}

	save, alert, err := w.handler.Handle(ctx, msg)
	if err != nil {
		w.logger.Error().Err(err).Str("entity", msg.MetaData().EntityID).Msg("transform failed, requeueing")
		d.Nack(false, true)
		return
	}

	// Save payload goes out before the alert payload so a consumer of
	// the alert stream can always read a store at least as fresh as the
	// pairs it sees. Redelivery after a partial publish overwrites
	// idempotently.
	kind := string(w.handler.Kind())
	if err := w.publishJSON(ctx, broker.ExchangeStore, broker.StoreKey(kind), save); err != nil {
		w.logger.Warn().Err(err).Msg("save payload not delivered, requeueing")
		d.Nack(false, true)
		return
	}
	alertKey := broker.TransformedKey(kind, msg.MetaData().ParentID)
	if err := w.publishJSON(ctx, broker.ExchangeAlert, alertKey, alert); err != nil {
		w.logger.Warn().Err(err).Msg("alert payload not delivered, requeueing")
		d.Nack(false, true)
		return
	}

	d.Ack(false)
	w.heartbeat(ctx)
}

func (w *Worker) publishJSON(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.client.PublishConfirm(ctx, exchange, key, body)
}

func (w *Worker) heartbeat(ctx context.Context) {
	now := time.Now()
	if !w.heartbeatGate.CanDoTask(now) {
		return
	}
	hb := types.WorkerHeartbeat{ComponentName: w.name, IsAlive: true, Timestamp: float64(now.Unix())}
	body, _ := json.Marshal(hb)
	if err := w.client.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyWorkerHeartbeat, body); err != nil {
		w.logger.Warn().Err(err).Msg("heartbeat publish failed")
		return
	}
	w.heartbeatGate.DidTask(now)
}
