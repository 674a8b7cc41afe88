package chainlink

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/types"
)

var (
	operatorAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	otherAddr      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	thirdAddr      = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	proxyAddr      = common.HexToAddress("0x0000000000000000000000000000000000000111")
	aggregatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000222")
)

type roundTuple struct {
	id, answer, started, updated, answeredIn int64
}

// fakeEVM answers contract calls by method selector and serves a canned
// log set. getRoundData reverts for rounds listed in failRounds, the way
// a FluxAggregator answers before consensus.
type fakeEVM struct {
	syncErr      error
	syncing      bool
	head         uint64
	logs         []ethtypes.Log
	oracles      []common.Address
	transmitters []common.Address
	latest       roundTuple
	rounds       map[int64]roundTuple
	failRounds   map[int64]bool
	payment      int64
}

func (f *fakeEVM) SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	if f.syncing {
		return &ethereum.SyncProgress{CurrentBlock: 1, HighestBlock: 100}, nil
	}
	return nil, nil
}

func (f *fakeEVM) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeEVM) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && lg.Topics[0] != q.Topics[0][0] {
			continue
		}
		if len(q.Topics) > 2 && len(q.Topics[2]) > 0 && lg.Topics[2] != q.Topics[2][0] {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func packRound(t *testing.T, r roundTuple) []byte {
	t.Helper()
	out, err := v3ABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(r.id), big.NewInt(r.answer), big.NewInt(r.started),
		big.NewInt(r.updated), big.NewInt(r.answeredIn))
	require.NoError(t, err)
	return out
}

func (f *fakeEVM) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	selector := [4]byte(msg.Data[:4])
	switch selector {
	case [4]byte(proxyABI.Methods["aggregator"].ID):
		return proxyABI.Methods["aggregator"].Outputs.Pack(aggregatorAddr)
	case [4]byte(proxyABI.Methods["description"].ID):
		return proxyABI.Methods["description"].Outputs.Pack("ETH / USD")
	case [4]byte(v3ABI.Methods["getOracles"].ID):
		return v3ABI.Methods["getOracles"].Outputs.Pack(f.oracles)
	case [4]byte(v4ABI.Methods["transmitters"].ID):
		return v4ABI.Methods["transmitters"].Outputs.Pack(f.transmitters)
	case [4]byte(v3ABI.Methods["latestRoundData"].ID):
		return v3ABI.Methods["latestRoundData"].Outputs.Pack(
			big.NewInt(f.latest.id), big.NewInt(f.latest.answer), big.NewInt(f.latest.started),
			big.NewInt(f.latest.updated), big.NewInt(f.latest.answeredIn))
	case [4]byte(v3ABI.Methods["withdrawablePayment"].ID),
		[4]byte(v4ABI.Methods["owedPayment"].ID):
		return v3ABI.Methods["withdrawablePayment"].Outputs.Pack(big.NewInt(f.payment))
	case [4]byte(v3ABI.Methods["getRoundData"].ID):
		args, err := v3ABI.Methods["getRoundData"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		round := args[0].(*big.Int).Int64()
		if f.failRounds[round] {
			return nil, errors.New("execution reverted: No data present")
		}
		r, ok := f.rounds[round]
		if !ok {
			return nil, errors.New("execution reverted: No data present")
		}
		return v3ABI.Methods["getRoundData"].Outputs.Pack(
			big.NewInt(r.id), big.NewInt(r.answer), big.NewInt(r.started),
			big.NewInt(r.updated), big.NewInt(r.answeredIn))
	}
	return nil, errors.New("unexpected call")
}

func submissionLog(t *testing.T, block uint64, round int64, oracle common.Address, submission int64) ethtypes.Log {
	t.Helper()
	data, err := v3ABI.Events["SubmissionReceived"].Inputs.NonIndexed().Pack(big.NewInt(submission))
	require.NoError(t, err)
	return ethtypes.Log{
		Address:     aggregatorAddr,
		BlockNumber: block,
		Topics: []common.Hash{
			v3ABI.Events["SubmissionReceived"].ID,
			common.BigToHash(big.NewInt(round)),
			common.BytesToHash(oracle.Bytes()),
		},
		Data: data,
	}
}

func transmissionLog(t *testing.T, block uint64, round int64, observations []int64, observers []byte) ethtypes.Log {
	t.Helper()
	obs := make([]*big.Int, len(observations))
	for i, v := range observations {
		obs[i] = big.NewInt(v)
	}
	data, err := v4ABI.Events["NewTransmission"].Inputs.NonIndexed().Pack(
		big.NewInt(2000), otherAddr, obs, observers, [32]byte{})
	require.NoError(t, err)
	return ethtypes.Log{
		Address:     aggregatorAddr,
		BlockNumber: block,
		Topics: []common.Hash{
			v4ABI.Events["NewTransmission"].ID,
			common.BigToHash(big.NewInt(round)),
		},
		Data: data,
	}
}

func v3Entry() CatalogEntry {
	return CatalogEntry{
		ProxyAddress:      proxyAddr.Hex(),
		AggregatorAddress: aggregatorAddr.Hex(),
		ContractVersion:   3,
		Name:              "eth-usd",
	}
}

func TestCollectV3_WatermarkRollsBackOnNoConsensus(t *testing.T) {
	fake := &fakeEVM{
		head:       100,
		latest:     roundTuple{id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40},
		rounds:     map[int64]roundTuple{40: {id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40}},
		failRounds: map[int64]bool{41: true},
		payment:    777,
		logs: []ethtypes.Log{
			submissionLog(t, 95, 40, operatorAddr, 2005),
			submissionLog(t, 99, 41, operatorAddr, 2020),
		},
	}

	data, watermark, err := collectV3(context.Background(), fake, operatorAddr,
		v3Entry(), Window{From: 90, To: 100}, nil)
	require.NoError(t, err)

	// The unconfirmed round pulls the watermark back to just before its
	// block, so the next window re-examines it.
	assert.Equal(t, uint64(98), watermark)
	assert.Equal(t, 41.0, *data.LastRoundObserved)

	require.Len(t, data.HistoricalRounds, 2)
	confirmed := data.HistoricalRounds[0]
	assert.Equal(t, 40.0, confirmed.RoundID)
	assert.Equal(t, 2010.0, *confirmed.RoundAnswer)
	assert.Equal(t, 950.0, *confirmed.RoundTimestamp)
	assert.Equal(t, 2005.0, *confirmed.NodeSubmission)

	pending := data.HistoricalRounds[1]
	assert.Equal(t, 41.0, pending.RoundID)
	assert.Nil(t, pending.RoundAnswer)
	assert.Nil(t, pending.RoundTimestamp)
	assert.Equal(t, 2020.0, *pending.NodeSubmission)

	assert.Equal(t, 777.0, *data.WithdrawablePayment)
	assert.Equal(t, "ETH / USD", data.Description)
	assert.Equal(t, aggregatorAddr.Hex(), data.AggregatorAddress)
	assert.Equal(t, 2010.0, *data.LatestAnswer)
}

// droppingEVM fails getRoundData at the transport layer instead of
// reverting, the way a flaky RPC endpoint does.
type droppingEVM struct {
	*fakeEVM
}

func (f *droppingEVM) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if [4]byte(msg.Data[:4]) == [4]byte(v3ABI.Methods["getRoundData"].ID) {
		return nil, errors.New("read tcp 10.0.0.1:48202->10.0.0.2:8545: read: connection reset by peer")
	}
	return f.fakeEVM.CallContract(ctx, msg, block)
}

func TestCollectV3_TransportErrorFailsCollection(t *testing.T) {
	fake := &droppingEVM{fakeEVM: &fakeEVM{
		head:    100,
		latest:  roundTuple{id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40},
		rounds:  map[int64]roundTuple{40: {id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40}},
		payment: 1,
		logs:    []ethtypes.Log{submissionLog(t, 95, 40, operatorAddr, 2005)},
	}}

	// A dropped connection must not masquerade as a round awaiting
	// consensus: no fabricated null-answer round, no watermark rollback.
	_, _, err := collectV3(context.Background(), fake, operatorAddr,
		v3Entry(), Window{From: 90, To: 100}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsRevert(t *testing.T) {
	assert.True(t, isRevert(errors.New("execution reverted: No data present")))
	assert.False(t, isRevert(errors.New("read tcp: connection reset by peer")))
	assert.False(t, isRevert(context.DeadlineExceeded))
}

func TestCollectV3_CleanWindowAdvancesToHead(t *testing.T) {
	fake := &fakeEVM{
		head:    100,
		latest:  roundTuple{id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40},
		rounds:  map[int64]roundTuple{40: {id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40}},
		payment: 1,
		logs:    []ethtypes.Log{submissionLog(t, 95, 40, operatorAddr, 2005)},
	}

	_, watermark, err := collectV3(context.Background(), fake, operatorAddr,
		v3Entry(), Window{From: 90, To: 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), watermark)
}

func TestCollectV3_FiltersOtherOracles(t *testing.T) {
	fake := &fakeEVM{
		head:    100,
		latest:  roundTuple{id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40},
		rounds:  map[int64]roundTuple{40: {id: 40, answer: 2010, started: 900, updated: 950, answeredIn: 40}},
		payment: 1,
		logs:    []ethtypes.Log{submissionLog(t, 95, 40, otherAddr, 1999)},
	}

	data, _, err := collectV3(context.Background(), fake, operatorAddr,
		v3Entry(), Window{From: 90, To: 100}, types.Float(39))
	require.NoError(t, err)
	assert.Empty(t, data.HistoricalRounds)
	// No new rounds seen: the prior high water round carries forward.
	assert.Equal(t, 39.0, *data.LastRoundObserved)
}

func TestCollectV4_ObserverIndexing(t *testing.T) {
	entry := CatalogEntry{
		ProxyAddress:      proxyAddr.Hex(),
		AggregatorAddress: aggregatorAddr.Hex(),
		ContractVersion:   4,
		Name:              "link-usd",
	}
	fake := &fakeEVM{
		head:         100,
		transmitters: []common.Address{otherAddr, thirdAddr, operatorAddr},
		latest:       roundTuple{id: 8, answer: 15, started: 900, updated: 950, answeredIn: 8},
		payment:      42,
		logs: []ethtypes.Log{
			// Operator is transmitter index 2; it observed at position 1.
			transmissionLog(t, 95, 7, []int64{100, 200, 300}, []byte{0x00, 0x02, 0x01}),
			// Operator absent from observers: it skipped this round.
			transmissionLog(t, 99, 8, []int64{110, 210}, []byte{0x00, 0x01}),
		},
	}

	data, participating, err := collectV4(context.Background(), fake, operatorAddr,
		entry, Window{From: 90, To: 100}, nil)
	require.NoError(t, err)
	require.True(t, participating)

	require.Len(t, data.HistoricalRounds, 2)
	answered := data.HistoricalRounds[0]
	assert.Equal(t, 7.0, answered.RoundID)
	assert.Equal(t, 200.0, *answered.NodeSubmission)
	assert.Equal(t, 3.0, *answered.NoOfObservations)
	assert.Equal(t, 3.0, *answered.NoOfTransmitters)

	skipped := data.HistoricalRounds[1]
	assert.Equal(t, 8.0, skipped.RoundID)
	assert.Nil(t, skipped.NodeSubmission)

	// The skipped round still advances the high water mark.
	assert.Equal(t, 8.0, *data.LastRoundObserved)
	assert.Equal(t, 42.0, *data.OwedPayment)
}

func TestCollectV4_RemovedTransmitter(t *testing.T) {
	entry := CatalogEntry{
		ProxyAddress:      proxyAddr.Hex(),
		AggregatorAddress: aggregatorAddr.Hex(),
		ContractVersion:   4,
	}
	fake := &fakeEVM{
		head:         100,
		transmitters: []common.Address{otherAddr, thirdAddr},
	}

	_, participating, err := collectV4(context.Background(), fake, operatorAddr,
		entry, Window{From: 90, To: 100}, nil)
	require.NoError(t, err)
	assert.False(t, participating)
}

func TestSelectSource(t *testing.T) {
	down := Source{URL: "down", Client: &fakeEVM{syncErr: errors.New("refused")}}
	syncing := Source{URL: "syncing", Client: &fakeEVM{syncing: true}}
	good := Source{URL: "good", Client: &fakeEVM{}}

	src, err := SelectSource(context.Background(), []Source{down, syncing, good})
	require.NoError(t, err)
	assert.Equal(t, "good", src.URL)

	_, err = SelectSource(context.Background(), []Source{down, syncing})
	var pe *monitors.ProbeError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.CodeNoSyncedSource, pe.Code)
}
