package transformers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/types"
)

// RepoTransformer tracks release (or tag) counts for one registry kind.
// Github and Dockerhub share the state shape, so one handler serves
// both, parameterized by kind.
type RepoTransformer struct {
	kind   types.EntityKind
	store  *store.Store
	states map[string]*types.RepoState
	logger zerolog.Logger
}

// NewRepoTransformer builds a transformer for github or dockerhub.
func NewRepoTransformer(kind types.EntityKind, st *store.Store) *RepoTransformer {
	return &RepoTransformer{
		kind:   kind,
		store:  st,
		states: map[string]*types.RepoState{},
		logger: log.WithComponent(string(kind) + "_data_transformer"),
	}
}

// Kind implements Handler.
func (t *RepoTransformer) Kind() types.EntityKind {
	return t.kind
}

// Handle implements Handler.
func (t *RepoTransformer) Handle(ctx context.Context, msg types.RawMessage) (*types.SaveMessage, *types.TransformedMessage, error) {
	meta := msg.MetaData()

	if msg.Error != nil {
		// Registry errors carry no state to mutate; forward as-is.
		terr := &types.TransformedError{Meta: msg.Error.Meta, Message: msg.Error.Message, Code: msg.Error.Code}
		return &types.SaveMessage{Error: terr}, &types.TransformedMessage{Error: terr}, nil
	}

	prev := t.state(ctx, meta.EntityID)
	next := &types.RepoState{
		NoOfReleases:  msg.Result.Data[types.MetricNoOfReleases],
		LastMonitored: types.Float(meta.Time),
	}
	if err := t.store.PersistRepoState(ctx, t.kind, meta.EntityID, next); err != nil {
		return nil, nil, err
	}
	t.states[meta.EntityID] = next

	tmeta := transformedMeta(meta)
	pairs := map[string]types.Pair{
		types.MetricNoOfReleases: {Previous: prev.NoOfReleases, Current: next.NoOfReleases},
	}
	save := &types.SaveMessage{Result: &types.SaveResult{Meta: tmeta, Data: next.Flat()}}
	alert := &types.TransformedMessage{Result: &types.TransformedResult{Meta: tmeta, Data: pairs}}
	return save, alert, nil
}

func (t *RepoTransformer) state(ctx context.Context, id string) *types.RepoState {
	if s, ok := t.states[id]; ok {
		return s
	}
	if !t.store.RecentlyFailed() {
		if s, err := t.store.HydrateRepoState(ctx, t.kind, id); err == nil {
			t.states[id] = s
			return s
		}
		t.logger.Warn().Str("entity", id).Msg("state hydration failed, starting fresh")
	}
	s := &types.RepoState{}
	t.states[id] = s
	return s
}

// Reset drops one entity's in-memory record.
func (t *RepoTransformer) Reset(id string) {
	delete(t.states, id)
}
