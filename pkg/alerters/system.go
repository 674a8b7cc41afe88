package alerters

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/types"
)

// thresholdMetric wires one percentage metric to its alert codes.
type thresholdMetric struct {
	field     string
	metric    alerts.Metric
	increased alerts.Code
	decreased alerts.Code
}

var thresholdMetrics = []thresholdMetric{
	{types.MetricOpenFileDescriptors, alerts.MetricOpenFD, alerts.CodeOpenFDIncreased, alerts.CodeOpenFDDecreased},
	{types.MetricSystemCPUUsage, alerts.MetricCPUUsage, alerts.CodeCPUUsageIncreased, alerts.CodeCPUUsageDecreased},
	{types.MetricSystemRAMUsage, alerts.MetricRAMUsage, alerts.CodeRAMUsageIncreased, alerts.CodeRAMUsageDecreased},
	{types.MetricSystemStorageUsage, alerts.MetricStorageUsage, alerts.CodeStorageUsageIncreased, alerts.CodeStorageUsageDecreased},
}

// SystemAlerter evaluates system snapshots against the chain's
// configured ladders.
type SystemAlerter struct {
	ladderTable
	factory *ConfigFactory
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSystemAlerter builds a system alerter over the shared config
// factory.
func NewSystemAlerter(factory *ConfigFactory) *SystemAlerter {
	return &SystemAlerter{
		ladderTable: newLadderTable(),
		factory:     factory,
		logger:      log.WithComponent("system_alerter"),
		now:         time.Now,
	}
}

// Kind implements the worker's handler contract.
func (a *SystemAlerter) Kind() types.EntityKind {
	return types.KindSystem
}

// ResetEntity purges one entity's dedup state (component reset).
func (a *SystemAlerter) ResetEntity(id string) {
	a.dropEntity(id)
}

// Evaluate consumes one transformed message and returns the alerts it
// triggers, mutating the dedup state as it goes.
func (a *SystemAlerter) Evaluate(msg types.TransformedMessage) []alerts.Alert {
	if msg.Result != nil {
		return a.evaluateResult(msg.Result)
	}
	return a.evaluateError(msg.Error)
}

func (a *SystemAlerter) evaluateResult(res *types.TransformedResult) []alerts.Alert {
	meta := res.Meta
	cfg := a.factory.ByParentID(meta.ParentID)
	var out []alerts.Alert

	// A successful round resolves any raised transition conditions.
	if st := a.peek(meta.EntityID, types.MetricWentDownAt); st != nil && (st.warningSent || st.criticalSent) {
		out = append(out, alerts.New(alerts.CodeSystemBackUp, alerts.MetricSystemIsDown,
			fmt.Sprintf("%s is back up", meta.EntityName),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.EntityID))
		a.clear(meta.EntityID, types.MetricWentDownAt)
	}
	if st := a.peek(meta.EntityID, "invalid_url"); st != nil && st.warningSent {
		out = append(out, alerts.New(alerts.CodeValidURL, alerts.MetricInvalidURL,
			fmt.Sprintf("%s data source url is valid again", meta.EntityName),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.EntityID))
		a.clear(meta.EntityID, "invalid_url")
	}
	if st := a.peek(meta.EntityID, "metric_not_found"); st != nil && st.warningSent {
		out = append(out, alerts.New(alerts.CodeMetricFound, alerts.MetricNotFoundGroup,
			fmt.Sprintf("all metrics of %s found again", meta.EntityName),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.EntityID))
		a.clear(meta.EntityID, "metric_not_found")
	}

	for _, tm := range thresholdMetrics {
		pair, ok := res.Data[tm.field]
		if !ok || pair.Current == nil {
			continue
		}
		mt := cfg.Threshold(tm.field)
		if !mt.Enabled {
			continue
		}
		out = append(out, a.climb(meta, tm, mt, *pair.Current)...)
	}
	return out
}

// climb walks one value up or down its ladder and emits the rung
// transitions.
func (a *SystemAlerter) climb(meta types.TransformedMeta, tm thresholdMetric, mt MetricThresholds, value float64) []alerts.Alert {
	st := a.state(meta.EntityID, tm.field, mt.CriticalRepeat)
	now := a.now()
	var out []alerts.Alert

	emit := func(code alerts.Code, severity alerts.Severity, direction, boundary string) {
		out = append(out, alerts.New(code, tm.metric,
			fmt.Sprintf("%s of %s %s the %s threshold: %.2f%%", tm.field, meta.EntityName, direction, boundary, value),
			severity, meta.LastMonitored, meta.ParentID, meta.EntityID))
	}

	switch {
	case mt.CriticalEnabled && value >= mt.CriticalThreshold:
		if !st.criticalSent {
			emit(tm.increased, alerts.Critical, "increased above", "critical")
			st.criticalSent = true
			st.warningSent = true
			st.repeatGate.DidTask(now)
		} else if mt.CriticalRepeatEnabled && st.repeatGate.CanDoTask(now) {
			emit(tm.increased, alerts.Critical, "is still above", "critical")
			st.repeatGate.DidTask(now)
		}
	case mt.WarningEnabled && value >= mt.WarningThreshold:
		if st.criticalSent {
			emit(tm.decreased, alerts.Warning, "decreased below", "critical")
			st.criticalSent = false
			st.repeatGate.Reset()
		} else if !st.warningSent {
			emit(tm.increased, alerts.Warning, "increased above", "warning")
			st.warningSent = true
		}
	default:
		if st.warningSent || st.criticalSent {
			emit(tm.decreased, alerts.Info, "decreased below", "warning")
			st.warningSent = false
			st.criticalSent = false
			st.repeatGate.Reset()
		}
	}
	return out
}

func (a *SystemAlerter) evaluateError(terr *types.TransformedError) []alerts.Alert {
	meta := terr.Meta
	switch terr.Code {
	case types.CodeEntityDown:
		return a.evaluateDowntime(terr)
	case types.CodeInvalidURL:
		return a.raiseOnce(meta, "invalid_url", alerts.CodeInvalidURL, alerts.MetricInvalidURL, terr.Message)
	case types.CodeMetricNotFound:
		return a.raiseOnce(meta, "metric_not_found", alerts.CodeMetricNotFound, alerts.MetricNotFoundGroup, terr.Message)
	default:
		a.logger.Debug().Int("code", terr.Code).Str("entity", meta.EntityID).Msg("no rule for error code")
		return nil
	}
}

func (a *SystemAlerter) evaluateDowntime(terr *types.TransformedError) []alerts.Alert {
	meta := terr.Meta
	pair, ok := terr.Data[types.MetricWentDownAt]
	if !ok || pair.Current == nil {
		return nil
	}
	downtime := meta.Time - *pair.Current

	mt := a.factory.ByParentID(meta.ParentID).Threshold(alerts.MetricSystemIsDown.MetricCode)
	if !mt.Enabled {
		return nil
	}

	st := a.state(meta.EntityID, types.MetricWentDownAt, mt.CriticalRepeat)
	now := a.now()
	var out []alerts.Alert

	critical := mt.CriticalEnabled && downtime >= mt.CriticalThreshold
	if !st.warningSent && !st.criticalSent {
		if critical {
			out = append(out, a.downAlert(alerts.CodeSystemWentDown, alerts.Critical, meta, downtime))
			st.warningSent, st.criticalSent = true, true
			st.repeatGate.DidTask(now)
		} else if mt.WarningEnabled && downtime >= mt.WarningThreshold {
			out = append(out, a.downAlert(alerts.CodeSystemWentDown, alerts.Warning, meta, downtime))
			st.warningSent = true
		}
	} else if critical {
		if !st.criticalSent {
			out = append(out, a.downAlert(alerts.CodeSystemStillDown, alerts.Critical, meta, downtime))
			st.criticalSent = true
			st.repeatGate.DidTask(now)
		} else if mt.CriticalRepeatEnabled && st.repeatGate.CanDoTask(now) {
			out = append(out, a.downAlert(alerts.CodeSystemStillDown, alerts.Critical, meta, downtime))
			st.repeatGate.DidTask(now)
		}
	}
	return out
}

func (a *SystemAlerter) downAlert(code alerts.Code, severity alerts.Severity, meta types.Meta, downtime float64) alerts.Alert {
	return alerts.New(code, alerts.MetricSystemIsDown,
		fmt.Sprintf("%s has been down for %.0f seconds", meta.EntityName, downtime),
		severity, meta.Time, meta.ParentID, meta.EntityID)
}

