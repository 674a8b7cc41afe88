package chainlink

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs covering exactly the calls and events the observer uses.
// Proxies rotate aggregators, so the aggregator ABIs are applied to
// whatever address the proxy currently points at.

const proxyABIJSON = `[
  {"type":"function","name":"aggregator","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"description","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"string"}]}
]`

const v3ABIJSON = `[
  {"type":"function","name":"getOracles","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"type":"function","name":"getRoundData","stateMutability":"view",
   "inputs":[{"name":"_roundId","type":"uint80"}],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"type":"function","name":"withdrawablePayment","stateMutability":"view",
   "inputs":[{"name":"_oracle","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"SubmissionReceived","anonymous":false,"inputs":[
     {"name":"submission","type":"int256","indexed":false},
     {"name":"round","type":"uint32","indexed":true},
     {"name":"oracle","type":"address","indexed":true}]}
]`

const v4ABIJSON = `[
  {"type":"function","name":"transmitters","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]},
  {"type":"function","name":"owedPayment","stateMutability":"view",
   "inputs":[{"name":"_transmitter","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"NewTransmission","anonymous":false,"inputs":[
     {"name":"aggregatorRoundId","type":"uint32","indexed":true},
     {"name":"answer","type":"int192","indexed":false},
     {"name":"transmitter","type":"address","indexed":false},
     {"name":"observations","type":"int192[]","indexed":false},
     {"name":"observers","type":"bytes","indexed":false},
     {"name":"rawReportContext","type":"bytes32","indexed":false}]}
]`

var (
	proxyABI = mustABI(proxyABIJSON)
	v3ABI    = mustABI(v3ABIJSON)
	v4ABI    = mustABI(v4ABIJSON)
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}
