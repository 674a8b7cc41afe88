package transformers

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/monitors/chainlink"
	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/timing"
	"github.com/praetor-io/watchtower/pkg/types"
)

// Per-feed field names on the contract streams. One node observes many
// feeds, so fields are keyed "<proxy>:<field>" in a single flat map.
const (
	FieldLatestAnswer       = "latest_answer"
	FieldLatestRound        = "latest_round"
	FieldLatestTimestamp    = "latest_timestamp"
	FieldAnsweredInRound    = "answered_in_round"
	FieldPayment            = "payment"
	FieldLastRoundObserved  = "last_round_observed"
	FieldMissedObservations = "missed_observations"
)

// ContractField builds the flat key for one feed's field.
func ContractField(proxy, field string) string {
	return proxy + ":" + field
}

// ContractTransformer folds each operator's contract observations into
// flat per-feed metrics. The interesting synthesized field is
// missed_observations: the number of consensus rounds the node has not
// answered, computed from the feed's latest round and the node's
// highest observed round.
type ContractTransformer struct {
	store  *store.Store
	states map[string]map[string]*float64 // node id -> previous flat fields
	logger zerolog.Logger
}

// NewContractTransformer builds the contract transformer.
func NewContractTransformer(st *store.Store) *ContractTransformer {
	return &ContractTransformer{
		store:  st,
		states: map[string]map[string]*float64{},
		logger: log.WithComponent("chainlink_data_transformer"),
	}
}

// Kind returns the entity kind this transformer serves.
func (t *ContractTransformer) Kind() types.EntityKind {
	return types.KindChainlinkContracts
}

// Handle folds one contract envelope. The store write goes out before
// the envelopes, matching the ordering the flat transformers keep.
func (t *ContractTransformer) Handle(ctx context.Context, msg chainlink.Message) (*types.SaveMessage, *types.TransformedMessage, error) {
	meta := msg.MetaData()

	if msg.Result != nil {
		flat := FlattenContracts(msg.Result.Data)
		prev := t.states[meta.EntityID]
		if err := t.store.SetFields(ctx, types.KindChainlinkContracts, meta.EntityID, flat); err != nil {
			return nil, nil, err
		}
		t.states[meta.EntityID] = flat

		pairs := make(map[string]types.Pair, len(flat))
		for name, value := range flat {
			pairs[name] = types.Pair{Previous: prev[name], Current: value}
		}

		tmeta := transformedMeta(meta)
		save := &types.SaveMessage{Result: &types.SaveResult{Meta: tmeta, Data: flat}}
		alert := &types.TransformedMessage{Result: &types.TransformedResult{Meta: tmeta, Data: pairs}}
		return save, alert, nil
	}

	terr := &types.TransformedError{Meta: msg.Error.Meta, Message: msg.Error.Message, Code: msg.Error.Code}
	return &types.SaveMessage{Error: terr}, &types.TransformedMessage{Error: terr}, nil
}

// Reset drops one node's in-memory record, so the next round pairs
// against nothing (component reset).
func (t *ContractTransformer) Reset(id string) {
	delete(t.states, id)
}

// FlattenContracts turns the per-proxy contract map into the flat field
// map both downstream streams carry.
func FlattenContracts(data map[string]chainlink.ContractData) map[string]*float64 {
	out := map[string]*float64{}
	for proxy, cd := range data {
		out[ContractField(proxy, FieldLatestRound)] = cd.LatestRound
		out[ContractField(proxy, FieldLatestAnswer)] = cd.LatestAnswer
		out[ContractField(proxy, FieldLatestTimestamp)] = cd.LatestTimestamp
		out[ContractField(proxy, FieldAnsweredInRound)] = cd.AnsweredInRound
		out[ContractField(proxy, FieldLastRoundObserved)] = cd.LastRoundObserved
		payment := cd.WithdrawablePayment
		if cd.ContractVersion == 4 {
			payment = cd.OwedPayment
		}
		out[ContractField(proxy, FieldPayment)] = payment
		out[ContractField(proxy, FieldMissedObservations)] = missedObservations(cd)
	}
	return out
}

func missedObservations(cd chainlink.ContractData) *float64 {
	if cd.LatestRound == nil || cd.LastRoundObserved == nil {
		return nil
	}
	missed := *cd.LatestRound - *cd.LastRoundObserved
	if missed < 0 {
		missed = 0
	}
	return types.Float(missed)
}

// ContractWorker is the consume loop for the contract stream. It mirrors
// Worker but decodes the nested contract envelope instead of the flat
// raw one.
type ContractWorker struct {
	name        string
	queue       string
	prefetch    int
	transformer *ContractTransformer
	client      *broker.Client
	logger      zerolog.Logger

	heartbeatGate *timing.TaskLimiter
}

// NewContractWorker builds the contract transformer worker.
func NewContractWorker(name, queue string, prefetch int, transformer *ContractTransformer, client *broker.Client) *ContractWorker {
	return &ContractWorker{
		name:          name,
		queue:         queue,
		prefetch:      prefetch,
		transformer:   transformer,
		client:        client,
		logger:        log.WithComponent(name),
		heartbeatGate: timing.NewTaskLimiter(heartbeatPeriod),
	}
}

// Name returns the worker's component name.
func (w *ContractWorker) Name() string {
	return w.name
}

// Run declares the topology and consumes until cancelled.
func (w *ContractWorker) Run(ctx context.Context) error {
	for _, exchange := range []string{broker.ExchangeRawData, broker.ExchangeStore, broker.ExchangeAlert, broker.ExchangeHealthCheck} {
		if err := w.client.DeclareExchange(exchange, "topic"); err != nil {
			return err
		}
	}
	if _, err := w.client.DeclareQueue(w.queue); err != nil {
		return err
	}
	bindKey := broker.RawDataKey(string(types.KindChainlinkContracts), "*")
	if err := w.client.Bind(w.queue, broker.ExchangeRawData, bindKey); err != nil {
		return err
	}
	return w.client.Consume(ctx, w.queue, w.prefetch, func(d amqp.Delivery) {
		w.handle(ctx, d)
	})
}

func (w *ContractWorker) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := chainlink.DecodeMessage(d.Body)
	if err != nil {
		w.logger.Error().Err(err).Msg("dropping undecodable contract message")
		d.Ack(false)
		return
	}

	save, alert, err := w.transformer.Handle(ctx, msg)
	if err != nil {
		w.logger.Error().Err(err).Str("entity", msg.MetaData().EntityID).Msg("transform failed, requeueing")
		d.Nack(false, true)
		return
	}

	kind := string(types.KindChainlinkContracts)
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

func (w *ContractWorker) publishJSON(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.client.PublishConfirm(ctx, exchange, key, body)
}

func (w *ContractWorker) heartbeat(ctx context.Context) {
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
