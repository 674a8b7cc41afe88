package alerters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/transformers"
	"github.com/praetor-io/watchtower/pkg/types"
)

const feedProxy = "0x0000000000000000000000000000000000000111"

func contractTestFactory(t *testing.T) *ConfigFactory {
	t.Helper()
	f := NewConfigFactory()
	require.NoError(t, f.Add("regen", map[string]map[string]string{
		"1": {
			"name": "price_feed_not_observed", "parent_id": "chain_1",
			"warning_threshold": "3", "critical_threshold": "10",
			"critical_repeat": "300",
		},
		"2": {
			"name": "price_feed_deviation", "parent_id": "chain_1",
			"warning_threshold": "5", "critical_threshold": "20",
			"critical_repeat": "300",
		},
	}))
	return f
}

func contractRound(at float64, missed float64, prevAnswer, curAnswer *float64) types.TransformedMessage {
	return types.TransformedMessage{Result: &types.TransformedResult{
		Meta: types.TransformedMeta{
			MonitorName:   "chainlink_contracts_monitor_regen",
			EntityID:      "node_1",
			EntityName:    "regen-node-1",
			ParentID:      "chain_1",
			LastMonitored: at,
		},
		Data: map[string]types.Pair{
			transformers.ContractField(feedProxy, transformers.FieldMissedObservations): {
				Previous: nil, Current: types.Float(missed),
			},
			transformers.ContractField(feedProxy, transformers.FieldLatestAnswer): {
				Previous: prevAnswer, Current: curAnswer,
			},
		},
	}}
}

func codesOf(got []alerts.Alert) []alerts.Code {
	out := make([]alerts.Code, len(got))
	for i, al := range got {
		out[i] = al.AlertCode
	}
	return out
}

func TestContractAlerter_MissedObservationsLadder(t *testing.T) {
	a := NewContractAlerter(contractTestFactory(t))

	// Fully observed: nothing to say.
	assert.Empty(t, a.Evaluate(contractRound(900, 0, nil, types.Float(100))))

	// Four rounds behind crosses the warning threshold, once.
	got := a.Evaluate(contractRound(960, 4, types.Float(100), types.Float(100)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodePriceFeedNotObserved, got[0].AlertCode)
	assert.Equal(t, alerts.Warning, got[0].Severity)
	assert.Contains(t, got[0].MetricStateArgs, feedProxy)
	assert.Empty(t, a.Evaluate(contractRound(1020, 4, types.Float(100), types.Float(100))))

	// Twelve behind escalates to critical.
	got = a.Evaluate(contractRound(1080, 12, types.Float(100), types.Float(100)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.Critical, got[0].Severity)

	// Catching up resolves the condition.
	got = a.Evaluate(contractRound(1140, 0, types.Float(100), types.Float(100)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodePriceFeedObservedAgain, got[0].AlertCode)
}

func TestContractAlerter_DeviationThreshold(t *testing.T) {
	a := NewContractAlerter(contractTestFactory(t))

	// First sight has no previous answer: no deviation to compute.
	assert.Empty(t, a.Evaluate(contractRound(900, 0, nil, types.Float(100))))

	// 6% movement crosses the warning threshold.
	got := a.Evaluate(contractRound(960, 0, types.Float(100), types.Float(106)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodePriceFeedDeviationIncreased, got[0].AlertCode)
	assert.Equal(t, alerts.Warning, got[0].Severity)

	// A calm round resolves it.
	got = a.Evaluate(contractRound(1020, 0, types.Float(106), types.Float(106)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodePriceFeedDeviationDecreased, got[0].AlertCode)

	// 25% jump goes straight to critical.
	got = a.Evaluate(contractRound(1080, 0, types.Float(106), types.Float(133)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.Critical, got[0].Severity)
}

func TestContractAlerter_AccessErrorsRaisedOnceAndResolved(t *testing.T) {
	a := NewContractAlerter(contractTestFactory(t))
	chainErr := func(code int) types.TransformedMessage {
		return types.TransformedMessage{Error: &types.TransformedError{
			Meta:    types.Meta{EntityID: "chain_1", ParentID: "chain_1", Time: 900},
			Message: "boom",
			Code:    code,
		}}
	}

	got := a.Evaluate(chainErr(types.CodeCouldNotRetrieveContracts))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodeContractsNotRetrieved, got[0].AlertCode)
	assert.Empty(t, a.Evaluate(chainErr(types.CodeCouldNotRetrieveContracts)), "raised once")

	got = a.Evaluate(chainErr(types.CodeNoSyncedSource))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodeNoSyncedSources, got[0].AlertCode)

	// The next node round resolves both chain-level conditions.
	got = a.Evaluate(contractRound(960, 0, nil, types.Float(100)))
	assert.ElementsMatch(t,
		[]alerts.Code{alerts.CodeContractsRetrievedAgain, alerts.CodeSyncedSourcesFound},
		codesOf(got))
}

func TestContractAlerter_ResetEntityClearsDedup(t *testing.T) {
	a := NewContractAlerter(contractTestFactory(t))

	got := a.Evaluate(contractRound(900, 4, nil, types.Float(100)))
	require.Len(t, got, 1)
	assert.Empty(t, a.Evaluate(contractRound(960, 4, types.Float(100), types.Float(100))))

	a.ResetEntity("node_1")

	got = a.Evaluate(contractRound(1020, 4, types.Float(100), types.Float(100)))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodePriceFeedNotObserved, got[0].AlertCode)
}
