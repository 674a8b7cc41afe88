// Package monitors hosts the observation side of the pipeline: workers
// that probe one entity each on a fixed period and publish tagged raw
// envelopes on the raw-data exchange.
package monitors

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/types"
)

// Entity is the identity a monitor stamps on every envelope it emits.
type Entity struct {
	ID       string
	Name     string
	ParentID string
}

// Prober performs one observation round and returns the flat metric map.
// Failures should be returned as *ProbeError so the wire error code is
// explicit; anything else is reported as a data-reading failure.
type Prober interface {
	Probe(ctx context.Context) (map[string]*float64, error)
}

// ProbeError is a classified observation failure.
type ProbeError struct {
	Code    int
	Message string
}

func (e *ProbeError) Error() string {
	return e.Message
}

// Worker runs one prober on a fixed period. Every round ends with a
// publish: a result envelope on success, an error envelope on failure.
// The worker heartbeats only after a fully clean round (probe succeeded
// and the envelope was delivered).
type Worker struct {
	name   string
	kind   types.EntityKind
	entity Entity
	prober Prober
	client *broker.Client
	period time.Duration
	logger zerolog.Logger
}

// NewWorker builds a monitor worker.
func NewWorker(name string, kind types.EntityKind, entity Entity, prober Prober,
	client *broker.Client, period time.Duration) *Worker {
	return &Worker{
		name:   name,
		kind:   kind,
		entity: entity,
		prober: prober,
		client: client,
		period: period,
		logger: log.ForEntity(log.WithComponent(name), entity.ID),
	}
}

// Name returns the worker's component name.
func (w *Worker) Name() string {
	return w.name
}

// Run declares the topology and loops until cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.client.DeclareExchange(broker.ExchangeRawData, "topic"); err != nil {
		return err
	}
	if err := w.client.DeclareExchange(broker.ExchangeHealthCheck, "topic"); err != nil {
		return err
	}
	for {
		w.round(ctx)
		if err := broker.Sleep(ctx, w.period); err != nil {
			return err
		}
	}
}

func (w *Worker) round(ctx context.Context) {
	meta := types.Meta{
		MonitorName: w.name,
		EntityID:    w.entity.ID,
		EntityName:  w.entity.Name,
		ParentID:    w.entity.ParentID,
		Time:        float64(time.Now().Unix()),
	}

	data, err := w.prober.Probe(ctx)
	var msg types.RawMessage
	clean := err == nil
	if err != nil {
		code, message := classify(err)
		w.logger.Warn().Int("code", code).Str("reason", message).Msg("probe failed")
		msg = types.RawMessage{Error: &types.RawError{Meta: meta, Message: message, Code: code}}
	} else {
		msg = types.RawMessage{Result: &types.RawResult{Meta: meta, Data: data}}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Msg("encoding envelope failed")
		return
	}
	key := broker.RawDataKey(string(w.kind), w.entity.ParentID)
	if err := w.client.PublishConfirm(ctx, broker.ExchangeRawData, key, body); err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("raw data not delivered")
		return
	}
	if clean {
		w.heartbeat(ctx)
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	hb := types.WorkerHeartbeat{
		ComponentName: w.name,
		IsAlive:       true,
		Timestamp:     float64(time.Now().Unix()),
	}
	body, _ := json.Marshal(hb)
	if err := w.client.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyWorkerHeartbeat, body); err != nil {
		w.logger.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

func classify(err error) (int, string) {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	return types.CodeDataReading, err.Error()
}
