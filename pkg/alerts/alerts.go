// Package alerts defines the alert record sent from alerters to channel
// handlers, together with the stable alert and metric code tables.
//
// Alerts are plain data records keyed by alert_code. The only two
// capabilities the system needs are serialization to the wire envelope
// and equality on identity, so there is no behaviour here beyond that.
package alerts

import "strings"

// Severity of an alert.
type Severity string

const (
	Info     Severity = "INFO"
	Warning  Severity = "WARNING"
	Error    Severity = "ERROR"
	Critical Severity = "CRITICAL"
)

// Code is the stable identifier of an alert kind.
type Code struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Metric identifies the metric group an alert belongs to.
type Metric struct {
	MetricCode string `json:"metric_code"`
	Name       string `json:"name"`
}

// Alert is the record published to the alert exchange for channel
// handlers. (Metric, MetricStateArgs) is the alert identity: the key
// under which alerters track the last severity emitted.
type Alert struct {
	AlertCode       Code     `json:"alert_code"`
	Message         string   `json:"message"`
	Severity        Severity `json:"severity"`
	Timestamp       float64  `json:"timestamp"`
	ParentID        string   `json:"parent_id"`
	OriginID        string   `json:"origin_id"`
	Metric          Metric   `json:"metric"`
	MetricStateArgs []string `json:"metric_state_args"`
}

// Identity returns the deduplication key of the alert.
func (a Alert) Identity() string {
	return a.Metric.MetricCode + "|" + strings.Join(a.MetricStateArgs, "|")
}

// Alert codes. The numeric suffix is the wire-stable part; names are for
// humans and may be refined.
var (
	CodeSystemWentDown        = Code{"system_alert_1", "SystemWentDown"}
	CodeSystemBackUp          = Code{"system_alert_2", "SystemBackUpAgain"}
	CodeSystemStillDown       = Code{"system_alert_3", "SystemStillDown"}
	CodeOpenFDIncreased       = Code{"system_alert_4", "OpenFileDescriptorsIncreasedAboveThreshold"}
	CodeOpenFDDecreased       = Code{"system_alert_5", "OpenFileDescriptorsDecreasedBelowThreshold"}
	CodeCPUUsageIncreased     = Code{"system_alert_6", "SystemCPUUsageIncreasedAboveThreshold"}
	CodeCPUUsageDecreased     = Code{"system_alert_7", "SystemCPUUsageDecreasedBelowThreshold"}
	CodeRAMUsageIncreased     = Code{"system_alert_8", "SystemRAMUsageIncreasedAboveThreshold"}
	CodeRAMUsageDecreased     = Code{"system_alert_9", "SystemRAMUsageDecreasedBelowThreshold"}
	CodeStorageUsageIncreased = Code{"system_alert_10", "SystemStorageUsageIncreasedAboveThreshold"}
	CodeStorageUsageDecreased = Code{"system_alert_11", "SystemStorageUsageDecreasedBelowThreshold"}
	CodeInvalidURL            = Code{"system_alert_12", "InvalidURL"}
	CodeValidURL              = Code{"system_alert_13", "ValidURL"}
	CodeMetricNotFound        = Code{"system_alert_14", "MetricNotFound"}
	CodeMetricFound           = Code{"system_alert_15", "MetricFound"}

	CodeNewRelease         = Code{"github_alert_1", "NewGithubRelease"}
	CodeCannotAccessRepo   = Code{"github_alert_2", "CannotAccessGithub"}
	CodeRepoAccessRestored = Code{"github_alert_3", "GithubAccessRestored"}

	CodePriceFeedNotObserved        = Code{"chainlink_contract_alert_1", "PriceFeedNotObserved"}
	CodePriceFeedObservedAgain      = Code{"chainlink_contract_alert_2", "PriceFeedObservedAgain"}
	CodePriceFeedDeviationIncreased = Code{"chainlink_contract_alert_3", "PriceFeedDeviationIncreasedAboveThreshold"}
	CodePriceFeedDeviationDecreased = Code{"chainlink_contract_alert_4", "PriceFeedDeviationDecreasedBelowThreshold"}
	CodeContractsNotRetrieved       = Code{"chainlink_contract_alert_5", "ErrorContractsNotRetrieved"}
	CodeContractsRetrievedAgain     = Code{"chainlink_contract_alert_6", "ContractsNowRetrieved"}
	CodeNoSyncedSources             = Code{"chainlink_contract_alert_7", "ErrorNoSyncedDataSources"}
	CodeSyncedSourcesFound          = Code{"chainlink_contract_alert_8", "SyncedDataSourcesFound"}

	CodeComponentReset = Code{"internal_alert_1", "ComponentReset"}
)

// Metric groups.
var (
	MetricSystemIsDown  = Metric{"system_is_down", "System is down"}
	MetricOpenFD        = Metric{"open_file_descriptors", "Open file descriptors"}
	MetricCPUUsage      = Metric{"system_cpu_usage", "System CPU usage"}
	MetricRAMUsage      = Metric{"system_ram_usage", "System RAM usage"}
	MetricStorageUsage  = Metric{"system_storage_usage", "System storage usage"}
	MetricInvalidURL    = Metric{"invalid_url", "Invalid URL"}
	MetricNotFoundGroup = Metric{"metric_not_found", "Metric not found"}

	MetricGithubRelease = Metric{"github_release", "Github release"}
	MetricGithubAccess  = Metric{"github_access", "Github access"}

	MetricPriceFeedObservation = Metric{"price_feed_not_observed", "Price feed observation"}
	MetricPriceFeedDeviation   = Metric{"price_feed_deviation", "Price feed deviation"}
	MetricContractsAccess      = Metric{"contracts_access", "Contracts access"}
	MetricSyncedSources        = Metric{"synced_sources", "Synced data sources"}

	MetricComponentReset = Metric{"component_reset", "Component reset"}
)

// New builds an alert record. originID is the entity the alert is about;
// args pin down the alert identity within the metric group.
func New(code Code, metric Metric, message string, severity Severity,
	timestamp float64, parentID, originID string, args ...string) Alert {
	stateArgs := append([]string{originID}, args...)
	return Alert{
		AlertCode:       code,
		Message:         message,
		Severity:        severity,
		Timestamp:       timestamp,
		ParentID:        parentID,
		OriginID:        originID,
		Metric:          metric,
		MetricStateArgs: stateArgs,
	}
}

// NewComponentReset builds the internal alert that instructs downstream
// components (store, alerter dedup tables) to purge all state belonging
// to the named child before it is restarted.
func NewComponentReset(timestamp float64, componentType, parentID, childName string) Alert {
	return Alert{
		AlertCode:       CodeComponentReset,
		Message:         "Component " + childName + " is being reset",
		Severity:        Info,
		Timestamp:       timestamp,
		ParentID:        parentID,
		OriginID:        childName,
		Metric:          MetricComponentReset,
		MetricStateArgs: []string{componentType, childName},
	}
}

// IsComponentReset reports whether the alert is a reset control message.
func (a Alert) IsComponentReset() bool {
	return a.AlertCode == CodeComponentReset
}
