package transformers

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/types"
)

func rawSystemResult(t float64, data map[string]*float64) types.RawMessage {
	return types.RawMessage{Result: &types.RawResult{
		Meta: types.Meta{
			MonitorName: "system_monitor_host1",
			EntityID:    "system_1",
			EntityName:  "host1",
			ParentID:    "chain_1",
			Time:        t,
		},
		Data: data,
	}}
}

func rawSystemDown(t float64) types.RawMessage {
	return types.RawMessage{Error: &types.RawError{
		Meta: types.Meta{
			MonitorName: "system_monitor_host1",
			EntityID:    "system_1",
			EntityName:  "host1",
			ParentID:    "chain_1",
			Time:        t,
		},
		Message: "system is down",
		Code:    types.CodeEntityDown,
	}}
}

func newSystemUnderTest(t *testing.T) (*SystemTransformer, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.New(mr.Addr(), 0, "test_run")
	t.Cleanup(func() { st.Close() })
	return NewSystemTransformer(st), st
}

func TestSystemTransformer_FirstSight(t *testing.T) {
	tr, st := newSystemUnderTest(t)
	ctx := context.Background()

	save, alert, err := tr.Handle(ctx, rawSystemResult(1000, map[string]*float64{
		types.MetricProcessCPUSecondsTotal:    types.Float(100),
		types.MetricNetworkTransmitBytesTotal: types.Float(1000),
	}))
	require.NoError(t, err)

	// No previous round: nothing to derive a rate from.
	assert.Nil(t, save.Result.Data[types.MetricNetworkTransmitPerSecond])

	pairs := alert.Result.Data
	assert.Nil(t, pairs[types.MetricNetworkTransmitBytesTotal].Previous)
	assert.Equal(t, 1000.0, *pairs[types.MetricNetworkTransmitBytesTotal].Current)
	assert.Equal(t, 1000.0, alert.Result.Meta.LastMonitored)

	persisted, err := st.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, *persisted.ProcessCPUSecondsTotal)
	assert.Equal(t, 1000.0, *persisted.NetworkTransmitBytesTotal)
	assert.Equal(t, 1000.0, *persisted.LastMonitored)
}

func TestSystemTransformer_SecondSightRates(t *testing.T) {
	tr, st := newSystemUnderTest(t)
	ctx := context.Background()

	_, _, err := tr.Handle(ctx, rawSystemResult(1000, map[string]*float64{
		types.MetricNetworkTransmitBytesTotal: types.Float(1000),
	}))
	require.NoError(t, err)

	save, alert, err := tr.Handle(ctx, rawSystemResult(1060, map[string]*float64{
		types.MetricNetworkTransmitBytesTotal: types.Float(1600),
	}))
	require.NoError(t, err)

	// (1600 - 1000) / (1060 - 1000)
	assert.Equal(t, 10.0, *save.Result.Data[types.MetricNetworkTransmitPerSecond])

	pair := alert.Result.Data[types.MetricNetworkTransmitBytesTotal]
	assert.Equal(t, 1000.0, *pair.Previous)
	assert.Equal(t, 1600.0, *pair.Current)

	persisted, err := st.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, *persisted.NetworkTransmitPerSecond)
}

func TestSystemTransformer_DowntimeThenRecovery(t *testing.T) {
	tr, st := newSystemUnderTest(t)
	ctx := context.Background()

	_, _, err := tr.Handle(ctx, rawSystemResult(1060, map[string]*float64{
		types.MetricNetworkTransmitBytesTotal: types.Float(1600),
	}))
	require.NoError(t, err)

	// Down at t=1120: went_down_at is set in both streams.
	save, alert, err := tr.Handle(ctx, rawSystemDown(1120))
	require.NoError(t, err)
	require.NotNil(t, alert.Error)
	assert.Equal(t, types.CodeEntityDown, alert.Error.Code)
	pair := alert.Error.Data[types.MetricWentDownAt]
	assert.Nil(t, pair.Previous)
	assert.Equal(t, 1120.0, *pair.Current)
	require.NotNil(t, save.Error)

	persisted, err := st.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Equal(t, 1120.0, *persisted.WentDownAt)

	// Still down at t=1150: the original downtime start is preserved.
	_, alert, err = tr.Handle(ctx, rawSystemDown(1150))
	require.NoError(t, err)
	pair = alert.Error.Data[types.MetricWentDownAt]
	assert.Equal(t, 1120.0, *pair.Previous)
	assert.Equal(t, 1120.0, *pair.Current)

	// Recovery at t=1180 clears it and rates resume over the 120s gap.
	save, alert, err = tr.Handle(ctx, rawSystemResult(1180, map[string]*float64{
		types.MetricNetworkTransmitBytesTotal: types.Float(2800),
	}))
	require.NoError(t, err)
	pair = alert.Result.Data[types.MetricWentDownAt]
	assert.Equal(t, 1120.0, *pair.Previous)
	assert.Nil(t, pair.Current)
	// (2800 - 1600) / (1180 - 1060)
	assert.Equal(t, 10.0, *save.Result.Data[types.MetricNetworkTransmitPerSecond])

	persisted, err = st.HydrateSystemState(ctx, "system_1")
	require.NoError(t, err)
	assert.Nil(t, persisted.WentDownAt)
}

func TestSystemTransformer_NonDowntimeErrorForwarded(t *testing.T) {
	tr, _ := newSystemUnderTest(t)

	msg := rawSystemDown(1120)
	msg.Error.Code = types.CodeInvalidURL
	msg.Error.Message = "invalid node exporter url"

	save, alert, err := tr.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, types.CodeInvalidURL, alert.Error.Code)
	assert.Empty(t, alert.Error.Data)
	assert.NotNil(t, save.Error)
}

func TestSystemTransformer_HydratesFromStore(t *testing.T) {
	mr := miniredis.RunT(t)
	st := store.New(mr.Addr(), 0, "test_run")
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	require.NoError(t, st.PersistSystemState(ctx, "system_1", &types.SystemState{
		NetworkTransmitBytesTotal: types.Float(1000),
		LastMonitored:             types.Float(1000),
	}))

	// A fresh transformer (post-restart) resumes rates from the store.
	tr := NewSystemTransformer(st)
	save, _, err := tr.Handle(ctx, rawSystemResult(1060, map[string]*float64{
		types.MetricNetworkTransmitBytesTotal: types.Float(1600),
	}))
	require.NoError(t, err)
	assert.Equal(t, 10.0, *save.Result.Data[types.MetricNetworkTransmitPerSecond])
}

func TestTransformSystemResult_PureFirstSight(t *testing.T) {
	next, pairs := TransformSystemResult(&types.SystemState{}, &types.RawResult{
		Meta: types.Meta{Time: 1000},
		Data: map[string]*float64{types.MetricSystemCPUUsage: types.Float(50)},
	})
	assert.Equal(t, 50.0, *next.SystemCPUUsage)
	assert.Nil(t, next.NetworkTransmitPerSecond)
	assert.Nil(t, pairs[types.MetricSystemCPUUsage].Previous)
}
