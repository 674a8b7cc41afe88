package channels

import (
	"context"
	"encoding/json"
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

// Worker consumes the alert stream for one handler. A failed dispatch
// is spooled and acked: the broker's job is done, redelivery is the
// spool's. Spooled alerts are retried ahead of each new dispatch.
type Worker struct {
	name    string
	handler Handler
	spool   *Spool
	client  *broker.Client
	logger  zerolog.Logger

	heartbeatGate *timing.TaskLimiter
}

// NewWorker builds a channel worker around one handler.
func NewWorker(handler Handler, spool *Spool, client *broker.Client) *Worker {
	name := handler.Name() + "_channel_handler"
	return &Worker{
		name:          name,
		handler:       handler,
		spool:         spool,
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
	queue := broker.QueueChannelHandlerPrefix + w.handler.Name()
	if _, err := w.client.DeclareQueue(queue); err != nil {
		return err
	}
	if err := w.client.Bind(queue, broker.ExchangeAlert, "alert_router.#"); err != nil {
		return err
	}
	return w.client.Consume(ctx, queue, 100, func(d amqp.Delivery) {
		w.handle(ctx, d)
	})
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	w.retrySpooled(ctx)

	var alert alerts.Alert
	if err := json.Unmarshal(d.Body, &alert); err != nil {
		w.logger.Error().Err(err).Msg("dropping undecodable alert")
		d.Ack(false)
		return
	}

	if err := w.handler.Dispatch(ctx, alert); err != nil {
		w.logger.Warn().Err(err).Str("alert", alert.AlertCode.Name).Msg("dispatch failed, spooling")
		if err := w.spool.Put(alert); err != nil {
			// Cannot spool either: leave it to the broker.
			w.logger.Error().Err(err).Msg("spooling failed, requeueing")
			d.Nack(false, true)
			return
		}
		d.Ack(false)
		return
	}

	d.Ack(false)
	w.heartbeat(ctx)
}

func (w *Worker) retrySpooled(ctx context.Context) {
	pending, err := w.spool.Pending()
	if err != nil {
		w.logger.Error().Err(err).Msg("reading spool failed")
		return
	}
	for id, alert := range pending {
		if err := w.handler.Dispatch(ctx, alert); err != nil {
			// Service still unavailable; newer entries will not fare
			// better.
			return
		}
		if err := w.spool.Delete(id); err != nil {
			w.logger.Error().Err(err).Str("id", id).Msg("deleting spooled alert failed")
		}
	}
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
