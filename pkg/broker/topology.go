package broker

// Exchange names. All exchanges are durable topic exchanges except the
// health-check exchange, whose ping key fans out to every manager.
const (
	ExchangeRawData     = "raw_data"
	ExchangeAlert       = "alert"
	ExchangeStore       = "store"
	ExchangeConfig      = "config"
	ExchangeHealthCheck = "health_check"
)

// Queue names, one per long-lived consumer.
const (
	QueueSystemTransformer    = "system_data_transformer_queue"
	QueueGithubTransformer    = "github_data_transformer_queue"
	QueueDockerhubTransformer = "dockerhub_data_transformer_queue"
	QueueChainlinkTransformer = "chainlink_data_transformer_queue"
	QueueSystemAlerter        = "system_alerter_queue"
	QueueGithubAlerter        = "github_alerter_queue"
	QueueDockerhubAlerter     = "dockerhub_alerter_queue"
	QueueChainAlerterPrefix   = "chain_alerter_queue_"
	QueueDataStore            = "data_store_queue"
	QueueChannelHandlerPrefix = "channel_handler_queue_"
	QueueHealthChecker        = "health_checker_heartbeat_queue"
	QueuePingPrefix           = "ping_queue_"
	QueueConfigPrefix         = "config_queue_"
)

// Routing keys on the health-check exchange.
const (
	KeyPing             = "ping"
	KeyWorkerHeartbeat  = "heartbeat.worker"
	KeyManagerHeartbeat = "heartbeat.manager"
)

// RawDataKey builds the routing key a monitor publishes its observations
// under: <monitor_kind>.<parent_id>.
func RawDataKey(kind, parentID string) string {
	return kind + "." + parentID
}

// TransformedKey builds the routing key a transformer publishes under:
// alerter.<monitor_kind>.<parent_id>.
func TransformedKey(kind, parentID string) string {
	return "alerter." + kind + "." + parentID
}

// StoreKey builds the routing key for the store stream.
func StoreKey(kind string) string {
	return "transformer." + kind
}

// ResetKey builds the routing key component-reset control messages
// travel under on the alert exchange: reset.<kind>.<parent_id>.
func ResetKey(kind, parentID string) string {
	return "reset." + kind + "." + parentID
}

// AlertKey builds the routing key an alerter publishes alerts under.
func AlertKey(parentID string) string {
	return "alert_router." + parentID
}

// ConfigKey turns a config file path relative to the config root into
// its routing key: separators become dots and the .ini suffix is
// dropped, so "chains/cosmos/regen/alerts_config.ini" routes as
// "chains.cosmos.regen.alerts_config".
func ConfigKey(relPath string) string {
	key := relPath
	if len(key) > 4 && key[len(key)-4:] == ".ini" {
		key = key[:len(key)-4]
	}
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '/' || c == '\\' {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}
