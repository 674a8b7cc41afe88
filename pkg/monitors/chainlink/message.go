package chainlink

import (
	"encoding/json"
	"fmt"

	"github.com/praetor-io/watchtower/pkg/types"
)

// RoundData is one observed round of a feed. Nil answer/timestamp mean
// the round had no consensus when observed (v3) or the operator did not
// answer (v4's nil NodeSubmission).
type RoundData struct {
	RoundID          float64  `json:"roundId"`
	RoundAnswer      *float64 `json:"roundAnswer"`
	RoundTimestamp   *float64 `json:"roundTimestamp"`
	AnsweredInRound  *float64 `json:"answeredInRound,omitempty"`
	NodeSubmission   *float64 `json:"nodeSubmission"`
	NoOfObservations *float64 `json:"noOfObservations,omitempty"`
	NoOfTransmitters *float64 `json:"noOfTransmitters,omitempty"`
}

// ContractData is the per-feed slice of an operator's tick output.
type ContractData struct {
	ContractVersion     int         `json:"contractVersion"`
	AggregatorAddress   string      `json:"aggregatorAddress"`
	Description         string      `json:"description"`
	LatestRound         *float64    `json:"latestRound"`
	LatestAnswer        *float64    `json:"latestAnswer"`
	LatestTimestamp     *float64    `json:"latestTimestamp"`
	AnsweredInRound     *float64    `json:"answeredInRound"`
	WithdrawablePayment *float64    `json:"withdrawablePayment,omitempty"`
	OwedPayment         *float64    `json:"owedPayment,omitempty"`
	LastRoundObserved   *float64    `json:"lastRoundObserved"`
	HistoricalRounds    []RoundData `json:"historicalRounds"`
}

// Result is one operator's tick output: proxy address to feed data.
type Result struct {
	Meta types.Meta              `json:"meta_data"`
	Data map[string]ContractData `json:"data"`
}

// Message is the tagged envelope the observer publishes on the raw-data
// exchange. Exactly one of Result or Error is set.
type Message struct {
	Result *Result         `json:"result,omitempty"`
	Error  *types.RawError `json:"error,omitempty"`
}

// MetaData returns the identity of whichever variant is set.
func (m *Message) MetaData() types.Meta {
	if m.Result != nil {
		return m.Result.Meta
	}
	if m.Error != nil {
		return m.Error.Meta
	}
	return types.Meta{}
}

// DecodeMessage parses a contract envelope, enforcing the one-tag rule.
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding contract message: %w", err)
	}
	if (msg.Result == nil) == (msg.Error == nil) {
		return Message{}, types.ErrUnexpectedSchema
	}
	return msg, nil
}
