package alerters

import (
	"context"
	"encoding/json"
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

// Evaluator is one kind's alert rule engine.
type Evaluator interface {
	Kind() types.EntityKind
	Evaluate(msg types.TransformedMessage) []alerts.Alert
	ResetEntity(id string)
}

// Worker is the consume loop shared by all alerters. Besides the
// transformed stream it consumes reset control messages, which purge
// the evaluator's dedup state for the named entity.
type Worker struct {
	name      string
	queue     string
	parent    string
	prefetch  int
	evaluator Evaluator
	client    *broker.Client
	logger    zerolog.Logger

	heartbeatGate *timing.TaskLimiter
}

// NewWorker builds an alerter worker. parent scopes the bindings to one
// parent id; "*" covers every chain.
func NewWorker(name, queue, parent string, prefetch int, evaluator Evaluator, client *broker.Client) *Worker {
	return &Worker{
		name:          name,
		queue:         queue,
		parent:        parent,
		prefetch:      prefetch,
		evaluator:     evaluator,
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
	for _, exchange := range []string{broker.ExchangeAlert, broker.ExchangeHealthCheck} {
		if err := w.client.DeclareExchange(exchange, "topic"); err != nil {
			return err
		}
	}
	if _, err := w.client.DeclareQueue(w.queue); err != nil {
		return err
	}
	kind := string(w.evaluator.Kind())
	if err := w.client.Bind(w.queue, broker.ExchangeAlert, broker.TransformedKey(kind, w.parent)); err != nil {
		return err
	}
	if err := w.client.Bind(w.queue, broker.ExchangeAlert, broker.ResetKey(kind, w.parent)); err != nil {
		return err
	}
	return w.client.Consume(ctx, w.queue, w.prefetch, func(d amqp.Delivery) {
		w.handle(ctx, d)
	})
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	if strings.HasPrefix(d.RoutingKey, "reset.") {
		w.handleReset(d)
		return
	}

	msg, err := types.DecodeTransformed(d.Body)
	if err != nil {
		w.logger.Error().Err(err).Msg("dropping undecodable transformed message")
		d.Ack(false)
		return
	}

	triggered := w.evaluator.Evaluate(msg)
	for _, alert := range triggered {
		body, err := json.Marshal(alert)
		if err != nil {
			w.logger.Error().Err(err).Msg("encoding alert failed")
			continue
		}
		key := broker.AlertKey(alert.ParentID)
		if err := w.client.PublishConfirm(ctx, broker.ExchangeAlert, key, body); err != nil {
			w.logger.Warn().Err(err).Str("key", key).Msg("alert not delivered, requeueing")
			d.Nack(false, true)
			return
		}
		w.logger.Info().Str("alert", alert.AlertCode.Name).Str("severity", string(alert.Severity)).
			Str("entity", alert.OriginID).Msg("alert raised")
	}

	d.Ack(false)
	w.heartbeat(ctx)
}

func (w *Worker) handleReset(d amqp.Delivery) {
	var alert alerts.Alert
	if err := json.Unmarshal(d.Body, &alert); err != nil || !alert.IsComponentReset() {
		w.logger.Error().Str("key", d.RoutingKey).Msg("dropping malformed reset message")
		d.Ack(false)
		return
	}
	w.evaluator.ResetEntity(alert.OriginID)
	w.logger.Info().Str("entity", alert.OriginID).Msg("dedup state reset")
	d.Ack(false)
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
