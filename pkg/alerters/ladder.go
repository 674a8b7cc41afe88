package alerters

import (
	"time"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/timing"
	"github.com/praetor-io/watchtower/pkg/types"
)

// ladderState is the per-identity dedup record: which rung of the
// ladder was last alerted, plus the critical-repeat gate.
type ladderState struct {
	warningSent  bool
	criticalSent bool
	repeatGate   *timing.TaskLimiter
}

// ladderTable tracks ladder dedup records keyed by entity and metric.
// Alerters embed it; a ComponentReset drops one entity's records whole.
type ladderTable struct {
	states map[string]map[string]*ladderState
}

func newLadderTable() ladderTable {
	return ladderTable{states: map[string]map[string]*ladderState{}}
}

// state returns the dedup record, creating it with the given repeat
// cadence on first sight. Config changes reach existing records via the
// ComponentReset the manager emits when it restarts the alerter.
func (t *ladderTable) state(entity, metric string, repeat time.Duration) *ladderState {
	byMetric, ok := t.states[entity]
	if !ok {
		byMetric = map[string]*ladderState{}
		t.states[entity] = byMetric
	}
	st, ok := byMetric[metric]
	if !ok {
		if repeat <= 0 {
			repeat = 5 * time.Minute
		}
		st = &ladderState{repeatGate: timing.NewTaskLimiter(repeat)}
		byMetric[metric] = st
	}
	return st
}

func (t *ladderTable) peek(entity, metric string) *ladderState {
	if byMetric, ok := t.states[entity]; ok {
		return byMetric[metric]
	}
	return nil
}

func (t *ladderTable) clear(entity, metric string) {
	if byMetric, ok := t.states[entity]; ok {
		delete(byMetric, metric)
	}
}

func (t *ladderTable) dropEntity(entity string) {
	delete(t.states, entity)
}

// raiseOnce emits an ERROR alert the first time a condition is seen;
// the matching INFO resolution is the caller's result-path job.
func (t *ladderTable) raiseOnce(meta types.Meta, key string, code alerts.Code, metric alerts.Metric, message string) []alerts.Alert {
	st := t.state(meta.EntityID, key, 0)
	if st.warningSent {
		return nil
	}
	st.warningSent = true
	return []alerts.Alert{alerts.New(code, metric, message, alerts.Error,
		meta.Time, meta.ParentID, meta.EntityID)}
}
