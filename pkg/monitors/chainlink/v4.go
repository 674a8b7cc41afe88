package chainlink

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// collectV4 gathers one operator's view of an OCR (v4) feed. A
// NewTransmission event is itself proof of consensus, so there is no
// watermark rollback; participation per round is decoded from the
// observers byte array instead of a log filter. The bool result is
// false when the operator is no longer in the transmitter set.
func collectV4(ctx context.Context, client EVMClient, operator common.Address,
	entry CatalogEntry, window Window, priorLastRound *float64) (ContractData, bool, error) {

	proxy := common.HexToAddress(entry.ProxyAddress)
	aggregator, description, err := resolveAggregator(ctx, client, proxy)
	if err != nil {
		return ContractData{}, false, err
	}

	transVals, err := call(ctx, client, v4ABI, aggregator, "transmitters")
	if err != nil {
		return ContractData{}, false, err
	}
	transmitters := transVals[0].([]common.Address)
	index := -1
	for i, addr := range transmitters {
		if addr == operator {
			index = i
			break
		}
	}
	if index < 0 {
		return ContractData{}, false, nil
	}

	data := ContractData{
		ContractVersion:   4,
		AggregatorAddress: aggregator.Hex(),
		Description:       description,
		LastRoundObserved: priorLastRound,
	}
	if err := fillLatestRound(ctx, client, v4ABI, aggregator, &data); err != nil {
		return ContractData{}, false, err
	}

	payVals, err := call(ctx, client, v4ABI, aggregator, "owedPayment", operator)
	if err != nil {
		return ContractData{}, false, err
	}
	data.OwedPayment = bigToFloat(payVals[0].(*big.Int))

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(window.From),
		ToBlock:   new(big.Int).SetUint64(window.To),
		Addresses: []common.Address{aggregator},
		Topics:    [][]common.Hash{{v4ABI.Events["NewTransmission"].ID}},
	})
	if err != nil {
		return ContractData{}, false, err
	}

	for _, lg := range logs {
		roundID, _ := new(big.Float).SetInt(new(big.Int).SetBytes(lg.Topics[1].Bytes())).Float64()
		advanceLastRound(&data, roundID)

		vals, err := v4ABI.Unpack("NewTransmission", lg.Data)
		if err != nil {
			return ContractData{}, false, err
		}
		answer := vals[0].(*big.Int)
		observations := vals[2].([]*big.Int)
		observers := vals[3].([]byte)

		// observers lists the transmitter index of each observation in
		// order; absence means this operator did not answer the round.
		var submission *float64
		for pos := 0; pos < len(observations) && pos < len(observers); pos++ {
			if int(observers[pos]) == index {
				submission = bigToFloat(observations[pos])
				break
			}
		}

		data.HistoricalRounds = append(data.HistoricalRounds, RoundData{
			RoundID:          roundID,
			RoundAnswer:      bigToFloat(answer),
			NodeSubmission:   submission,
			NoOfObservations: bigToFloat(big.NewInt(int64(len(observations)))),
			NoOfTransmitters: bigToFloat(big.NewInt(int64(len(transmitters)))),
		})
	}
	return data, true, nil
}
