package types

// Error codes carried on the wire inside error envelopes. Alerters and
// transformers branch on these codes, never on the message text, so the
// values are part of the wire contract and must stay stable.
const (
	// Data-source reachability
	CodeCannotAccessSource = 5001
	CodeDataReading        = 5002
	CodeJSONDecode         = 5003
	CodeInvalidURL         = 5011

	// EntityDown is the dedicated downtime code consumed by the
	// transformer's went_down_at logic and the alerter's downtime rule.
	CodeEntityDown = 5008

	// Schema / contract
	CodeMetricNotFound         = 5004
	CodeReceivedUnexpectedData = 5005
	CodeParentIDMismatch       = 5006

	// Transient internal
	CodeMessageNotDelivered = 5007

	// Chainlink contract observer
	CodeCouldNotRetrieveContracts = 5009
	CodeNoSyncedSource            = 5010
)

// EntityKind identifies a monitorable family. It is used in store keys and
// routing keys.
type EntityKind string

const (
	KindSystem             EntityKind = "system"
	KindGithub             EntityKind = "github"
	KindDockerhub          EntityKind = "dockerhub"
	KindChainlinkContracts EntityKind = "chainlink_contracts"
)
