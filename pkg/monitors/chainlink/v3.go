package chainlink

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Window is the inclusive block range one collector pass examines.
type Window struct {
	From uint64
	To   uint64
}

// collectV3 gathers one operator's view of a FluxAggregator (v3) feed.
// It returns the feed data and the new block watermark. The watermark
// rolls back to just before a round that has not reached consensus yet,
// so the next tick re-examines that round.
func collectV3(ctx context.Context, client EVMClient, operator common.Address,
	entry CatalogEntry, window Window, priorLastRound *float64) (ContractData, uint64, error) {

	proxy := common.HexToAddress(entry.ProxyAddress)
	aggregator, description, err := resolveAggregator(ctx, client, proxy)
	if err != nil {
		return ContractData{}, 0, err
	}

	data := ContractData{
		ContractVersion:   3,
		AggregatorAddress: aggregator.Hex(),
		Description:       description,
		LastRoundObserved: priorLastRound,
	}
	if err := fillLatestRound(ctx, client, v3ABI, aggregator, &data); err != nil {
		return ContractData{}, 0, err
	}

	payVals, err := call(ctx, client, v3ABI, aggregator, "withdrawablePayment", operator)
	if err != nil {
		return ContractData{}, 0, err
	}
	data.WithdrawablePayment = bigToFloat(payVals[0].(*big.Int))

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(window.From),
		ToBlock:   new(big.Int).SetUint64(window.To),
		Addresses: []common.Address{aggregator},
		Topics: [][]common.Hash{
			{v3ABI.Events["SubmissionReceived"].ID},
			nil,
			{common.BytesToHash(operator.Bytes())},
		},
	})
	if err != nil {
		return ContractData{}, 0, err
	}

	watermark := window.To
	for _, lg := range logs {
		round := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		vals, err := v3ABI.Unpack("SubmissionReceived", lg.Data)
		if err != nil {
			return ContractData{}, 0, err
		}
		submission := bigToFloat(vals[0].(*big.Int))
		roundID, _ := new(big.Float).SetInt(round).Float64()
		advanceLastRound(&data, roundID)

		rd, err := call(ctx, client, v3ABI, aggregator, "getRoundData", round)
		if err != nil {
			// Only a contract revert means consensus has not been reached
			// for this round. A transport failure fails the whole
			// collection: recording a null answer for it would fabricate
			// a round downstream consumers treat as real.
			if !isRevert(err) {
				return ContractData{}, 0, err
			}
			data.HistoricalRounds = append(data.HistoricalRounds, RoundData{
				RoundID:        roundID,
				NodeSubmission: submission,
			})
			if lg.BlockNumber > 0 {
				watermark = lg.BlockNumber - 1
			}
			break
		}
		data.HistoricalRounds = append(data.HistoricalRounds, RoundData{
			RoundID:         roundID,
			RoundAnswer:     bigToFloat(rd[1].(*big.Int)),
			RoundTimestamp:  bigToFloat(rd[3].(*big.Int)),
			AnsweredInRound: bigToFloat(rd[4].(*big.Int)),
			NodeSubmission:  submission,
		})
	}
	return data, watermark, nil
}

func resolveAggregator(ctx context.Context, client EVMClient, proxy common.Address) (common.Address, string, error) {
	vals, err := call(ctx, client, proxyABI, proxy, "aggregator")
	if err != nil {
		return common.Address{}, "", err
	}
	aggregator := vals[0].(common.Address)

	description := ""
	if descVals, err := call(ctx, client, proxyABI, proxy, "description"); err == nil {
		description = descVals[0].(string)
	}
	return aggregator, description, nil
}

func fillLatestRound(ctx context.Context, client EVMClient, a abi.ABI, aggregator common.Address, data *ContractData) error {
	vals, err := call(ctx, client, a, aggregator, "latestRoundData")
	if err != nil {
		return err
	}
	data.LatestRound = bigToFloat(vals[0].(*big.Int))
	data.LatestAnswer = bigToFloat(vals[1].(*big.Int))
	data.LatestTimestamp = bigToFloat(vals[3].(*big.Int))
	data.AnsweredInRound = bigToFloat(vals[4].(*big.Int))
	return nil
}

func advanceLastRound(data *ContractData, roundID float64) {
	if data.LastRoundObserved == nil || roundID > *data.LastRoundObserved {
		data.LastRoundObserved = &roundID
	}
}
