package transformers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/types"
)

// SystemTransformer owns the per-system state records. Rates are
// synthesized here from consecutive totals; monitors stay stateless.
type SystemTransformer struct {
	store  *store.Store
	states map[string]*types.SystemState
	logger zerolog.Logger
}

// NewSystemTransformer builds the system transformer.
func NewSystemTransformer(st *store.Store) *SystemTransformer {
	return &SystemTransformer{
		store:  st,
		states: map[string]*types.SystemState{},
		logger: log.WithComponent("system_data_transformer"),
	}
}

// Kind implements Handler.
func (t *SystemTransformer) Kind() types.EntityKind {
	return types.KindSystem
}

// Handle implements Handler.
func (t *SystemTransformer) Handle(ctx context.Context, msg types.RawMessage) (*types.SaveMessage, *types.TransformedMessage, error) {
	meta := msg.MetaData()
	prev := t.state(ctx, meta.EntityID)

	if msg.Result != nil {
		next, pairs := TransformSystemResult(prev, msg.Result)
		if err := t.store.PersistSystemState(ctx, meta.EntityID, next); err != nil {
			return nil, nil, err
		}
		t.states[meta.EntityID] = next

		tmeta := transformedMeta(meta)
		save := &types.SaveMessage{Result: &types.SaveResult{Meta: tmeta, Data: next.Flat()}}
		alert := &types.TransformedMessage{Result: &types.TransformedResult{Meta: tmeta, Data: pairs}}
		return save, alert, nil
	}

	rawErr := msg.Error
	terr := &types.TransformedError{Meta: rawErr.Meta, Message: rawErr.Message, Code: rawErr.Code}

	if rawErr.Code == types.CodeEntityDown {
		next, pair := TransformSystemDown(prev, rawErr.Meta.Time)
		if err := t.store.PersistSystemState(ctx, meta.EntityID, next); err != nil {
			return nil, nil, err
		}
		t.states[meta.EntityID] = next
		terr.Data = map[string]types.Pair{types.MetricWentDownAt: pair}
	}

	save := &types.SaveMessage{Error: terr}
	alert := &types.TransformedMessage{Error: terr}
	return save, alert, nil
}

// state returns the in-memory record, hydrating from the store on first
// sight. While the store is recently failed the hydration read is
// skipped: working from a fresh record beats blocking the stream.
func (t *SystemTransformer) state(ctx context.Context, id string) *types.SystemState {
	if s, ok := t.states[id]; ok {
		return s
	}
	if !t.store.RecentlyFailed() {
		if s, err := t.store.HydrateSystemState(ctx, id); err == nil {
			t.states[id] = s
			return s
		}
		t.logger.Warn().Str("entity", id).Msg("state hydration failed, starting fresh")
	}
	s := &types.SystemState{}
	t.states[id] = s
	return s
}

// Reset drops one entity's in-memory record, forcing re-hydration.
func (t *SystemTransformer) Reset(id string) {
	delete(t.states, id)
}

// TransformSystemResult computes the next state and the alert-stream
// pairs from a successful observation. A result always clears
// went_down_at; the per-second rates need a previous round and positive
// elapsed time, so they stay nil on first sight.
func TransformSystemResult(prev *types.SystemState, raw *types.RawResult) (*types.SystemState, map[string]types.Pair) {
	next := &types.SystemState{LastMonitored: types.Float(raw.Meta.Time)}
	for name, value := range raw.Data {
		next.SetField(name, value)
	}
	next.WentDownAt = nil

	if prev.LastMonitored != nil {
		elapsed := raw.Meta.Time - *prev.LastMonitored
		if elapsed > 0 {
			next.NetworkTransmitPerSecond = ratePerSecond(prev.NetworkTransmitBytesTotal, next.NetworkTransmitBytesTotal, elapsed)
			next.NetworkReceivePerSecond = ratePerSecond(prev.NetworkReceiveBytesTotal, next.NetworkReceiveBytesTotal, elapsed)
			next.DiskIOTimeInInterval = delta(prev.DiskIOTimeSecondsTotal, next.DiskIOTimeSecondsTotal)
		}
	}

	prevFlat, nextFlat := prev.Flat(), next.Flat()
	pairs := make(map[string]types.Pair, len(nextFlat))
	for name := range nextFlat {
		pairs[name] = types.Pair{Previous: prevFlat[name], Current: nextFlat[name]}
	}
	return next, pairs
}

// TransformSystemDown marks the system down. The downtime start is set
// on the first down round and preserved on repeats so alerters can
// compute total downtime; everything else carries over untouched.
func TransformSystemDown(prev *types.SystemState, at float64) (*types.SystemState, types.Pair) {
	next := *prev
	if next.WentDownAt == nil {
		next.WentDownAt = types.Float(at)
	}
	pair := types.Pair{Previous: prev.WentDownAt, Current: next.WentDownAt}
	return &next, pair
}

func ratePerSecond(prevTotal, nowTotal *float64, elapsed float64) *float64 {
	if prevTotal == nil || nowTotal == nil {
		return nil
	}
	return types.Float((*nowTotal - *prevTotal) / elapsed)
}

func delta(prevTotal, nowTotal *float64) *float64 {
	if prevTotal == nil || nowTotal == nil {
		return nil
	}
	return types.Float(*nowTotal - *prevTotal)
}

func transformedMeta(meta types.Meta) types.TransformedMeta {
	return types.TransformedMeta{
		MonitorName:   meta.MonitorName,
		EntityID:      meta.EntityID,
		EntityName:    meta.EntityName,
		ParentID:      meta.ParentID,
		LastMonitored: meta.Time,
	}
}
