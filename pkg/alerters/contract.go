package alerters

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/transformers"
	"github.com/praetor-io/watchtower/pkg/types"
)

// ContractAlerter evaluates one chain's price-feed stream: rounds a
// node keeps failing to observe, answers deviating sharply between
// rounds, and access to the contract catalog or RPC sources.
//
// Access conditions are chain-level: the observer reports them with the
// chain as the entity, so their dedup records key on the parent id.
type ContractAlerter struct {
	ladderTable
	factory *ConfigFactory
	logger  zerolog.Logger
	now     func() time.Time
}

// NewContractAlerter builds a contract alerter over the shared config
// factory.
func NewContractAlerter(factory *ConfigFactory) *ContractAlerter {
	return &ContractAlerter{
		ladderTable: newLadderTable(),
		factory:     factory,
		logger:      log.WithComponent("chainlink_contract_alerter"),
		now:         time.Now,
	}
}

// Kind implements the worker's handler contract.
func (a *ContractAlerter) Kind() types.EntityKind {
	return types.KindChainlinkContracts
}

// ResetEntity purges one entity's dedup state (component reset).
func (a *ContractAlerter) ResetEntity(id string) {
	a.dropEntity(id)
}

// Evaluate consumes one transformed message and returns the alerts it
// triggers, mutating the dedup state as it goes.
func (a *ContractAlerter) Evaluate(msg types.TransformedMessage) []alerts.Alert {
	if msg.Result != nil {
		return a.evaluateResult(msg.Result)
	}
	return a.evaluateError(msg.Error)
}

func (a *ContractAlerter) evaluateResult(res *types.TransformedResult) []alerts.Alert {
	meta := res.Meta
	cfg := a.factory.ByParentID(meta.ParentID)
	var out []alerts.Alert

	// A node round coming through means the chain-level access
	// conditions no longer hold.
	if st := a.peek(meta.ParentID, "contracts_access"); st != nil && st.warningSent {
		out = append(out, alerts.New(alerts.CodeContractsRetrievedAgain, alerts.MetricContractsAccess,
			fmt.Sprintf("contracts for %s are being retrieved again", meta.ParentID),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.ParentID))
		a.clear(meta.ParentID, "contracts_access")
	}
	if st := a.peek(meta.ParentID, "synced_sources"); st != nil && st.warningSent {
		out = append(out, alerts.New(alerts.CodeSyncedSourcesFound, alerts.MetricSyncedSources,
			fmt.Sprintf("a connected and synced evm source for %s is available again", meta.ParentID),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.ParentID))
		a.clear(meta.ParentID, "synced_sources")
	}

	for name, pair := range res.Data {
		if proxy, ok := strings.CutSuffix(name, ":"+transformers.FieldMissedObservations); ok {
			out = append(out, a.evaluateMissed(meta, cfg, proxy, pair)...)
			continue
		}
		if proxy, ok := strings.CutSuffix(name, ":"+transformers.FieldLatestAnswer); ok {
			out = append(out, a.evaluateDeviation(meta, cfg, proxy, pair)...)
		}
	}
	return out
}

// evaluateMissed ladders the number of consensus rounds the node has
// not answered for one feed.
func (a *ContractAlerter) evaluateMissed(meta types.TransformedMeta, cfg *ChainConfig, proxy string, pair types.Pair) []alerts.Alert {
	if pair.Current == nil {
		return nil
	}
	mt := cfg.Threshold(alerts.MetricPriceFeedObservation.MetricCode)
	if !mt.Enabled {
		return nil
	}
	missed := *pair.Current
	st := a.state(meta.EntityID, proxy+"|"+alerts.MetricPriceFeedObservation.MetricCode, mt.CriticalRepeat)
	now := a.now()
	var out []alerts.Alert

	emit := func(code alerts.Code, severity alerts.Severity, message string) {
		out = append(out, alerts.New(code, alerts.MetricPriceFeedObservation, message,
			severity, meta.LastMonitored, meta.ParentID, meta.EntityID, proxy))
	}

	switch {
	case mt.CriticalEnabled && missed >= mt.CriticalThreshold:
		if !st.criticalSent {
			emit(alerts.CodePriceFeedNotObserved, alerts.Critical,
				fmt.Sprintf("%s has not observed %.0f rounds of feed %s", meta.EntityName, missed, proxy))
			st.criticalSent = true
			st.warningSent = true
			st.repeatGate.DidTask(now)
		} else if mt.CriticalRepeatEnabled && st.repeatGate.CanDoTask(now) {
			emit(alerts.CodePriceFeedNotObserved, alerts.Critical,
				fmt.Sprintf("%s is still not observing feed %s: %.0f rounds behind", meta.EntityName, proxy, missed))
			st.repeatGate.DidTask(now)
		}
	case mt.WarningEnabled && missed >= mt.WarningThreshold:
		if !st.warningSent {
			emit(alerts.CodePriceFeedNotObserved, alerts.Warning,
				fmt.Sprintf("%s has not observed %.0f rounds of feed %s", meta.EntityName, missed, proxy))
			st.warningSent = true
		}
	default:
		if st.warningSent || st.criticalSent {
			emit(alerts.CodePriceFeedObservedAgain, alerts.Info,
				fmt.Sprintf("%s is observing feed %s again", meta.EntityName, proxy))
			st.warningSent = false
			st.criticalSent = false
			st.repeatGate.Reset()
		}
	}
	return out
}

// evaluateDeviation ladders the percent change of one feed's answer
// between consecutive rounds. First sight carries no previous answer
// and announces nothing.
func (a *ContractAlerter) evaluateDeviation(meta types.TransformedMeta, cfg *ChainConfig, proxy string, pair types.Pair) []alerts.Alert {
	if pair.Previous == nil || pair.Current == nil || *pair.Previous == 0 {
		return nil
	}
	mt := cfg.Threshold(alerts.MetricPriceFeedDeviation.MetricCode)
	if !mt.Enabled {
		return nil
	}
	deviation := math.Abs(*pair.Current-*pair.Previous) / math.Abs(*pair.Previous) * 100
	st := a.state(meta.EntityID, proxy+"|"+alerts.MetricPriceFeedDeviation.MetricCode, mt.CriticalRepeat)
	now := a.now()
	var out []alerts.Alert

	emit := func(code alerts.Code, severity alerts.Severity) {
		out = append(out, alerts.New(code, alerts.MetricPriceFeedDeviation,
			fmt.Sprintf("feed %s deviated %.2f%% between rounds", proxy, deviation),
			severity, meta.LastMonitored, meta.ParentID, meta.EntityID, proxy))
	}

	switch {
	case mt.CriticalEnabled && deviation >= mt.CriticalThreshold:
		if !st.criticalSent {
			emit(alerts.CodePriceFeedDeviationIncreased, alerts.Critical)
			st.criticalSent = true
			st.warningSent = true
			st.repeatGate.DidTask(now)
		} else if mt.CriticalRepeatEnabled && st.repeatGate.CanDoTask(now) {
			emit(alerts.CodePriceFeedDeviationIncreased, alerts.Critical)
			st.repeatGate.DidTask(now)
		}
	case mt.WarningEnabled && deviation >= mt.WarningThreshold:
		if st.criticalSent {
			emit(alerts.CodePriceFeedDeviationDecreased, alerts.Warning)
			st.criticalSent = false
			st.repeatGate.Reset()
		} else if !st.warningSent {
			emit(alerts.CodePriceFeedDeviationIncreased, alerts.Warning)
			st.warningSent = true
		}
	default:
		if st.warningSent || st.criticalSent {
			emit(alerts.CodePriceFeedDeviationDecreased, alerts.Info)
			st.warningSent = false
			st.criticalSent = false
			st.repeatGate.Reset()
		}
	}
	return out
}

func (a *ContractAlerter) evaluateError(terr *types.TransformedError) []alerts.Alert {
	meta := terr.Meta
	switch terr.Code {
	case types.CodeCouldNotRetrieveContracts:
		return a.raiseOnce(meta, "contracts_access", alerts.CodeContractsNotRetrieved,
			alerts.MetricContractsAccess, terr.Message)
	case types.CodeNoSyncedSource:
		return a.raiseOnce(meta, "synced_sources", alerts.CodeNoSyncedSources,
			alerts.MetricSyncedSources, terr.Message)
	default:
		a.logger.Debug().Int("code", terr.Code).Str("entity", meta.EntityID).Msg("no rule for error code")
		return nil
	}
}
