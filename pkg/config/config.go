// Package config gathers all process configuration from the environment
// into a single immutable record constructed at boot. Every required key
// is validated up front so a misconfigured deployment fails immediately
// instead of part-way through a monitoring round.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable boot configuration shared by every worker family.
type Config struct {
	// Broker
	RabbitHost string
	RabbitPort int

	// Store
	RedisHost string
	RedisPort int
	RedisDB   int

	// Namespace is the deployer-unique identifier prefixed to every store key.
	Namespace string

	// Logging
	LogLevel string
	LogJSON  bool

	// Config fan-out
	ConfigDirectory string

	// Monitoring periods
	SystemMonitorPeriod    time.Duration
	GithubMonitorPeriod    time.Duration
	DockerhubMonitorPeriod time.Duration
	ContractsMonitorPeriod time.Duration

	// GithubReleasesTemplate is the API URL template with a %s repo slot.
	GithubReleasesTemplate string

	// Publishing queue sizes
	TransformerQueueSize int
	AlerterQueueSize     int
	ConfigQueueSize      int

	// DataDirectory holds per-handler spool databases.
	DataDirectory string

	// AlertsLogFile is the file the log channel handler appends to.
	AlertsLogFile string

	// HealthCheckerAddr is the bind address of the health HTTP server.
	HealthCheckerAddr string

	// PingPeriod is the health checker's manager-ping cadence.
	PingPeriod time.Duration

	// ConfigWatchPeriod is the config fan-out's polling cadence.
	ConfigWatchPeriod time.Duration

	// EnableConsoleAlerts gates the console channel handler. Optional,
	// defaults to false; everything else without a default is mandatory.
	EnableConsoleAlerts bool
}

// RabbitURL returns the AMQP connection URL.
func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://guest:guest@%s:%d/", c.RabbitHost, c.RabbitPort)
}

// RedisAddr returns the host:port address of the store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// FromEnv builds the configuration from the process environment. All
// errors are accumulated so the operator sees every missing key at once.
func FromEnv() (*Config, error) {
	e := &envReader{}

	cfg := &Config{
		RabbitHost:             e.str("RABBIT_IP"),
		RabbitPort:             e.integer("RABBIT_PORT"),
		RedisHost:              e.str("REDIS_IP"),
		RedisPort:              e.integer("REDIS_PORT"),
		RedisDB:                e.integer("REDIS_DB"),
		Namespace:              e.str("UNIQUE_IDENTIFIER"),
		LogLevel:               e.str("LOGGING_LEVEL"),
		LogJSON:                e.optionalBool("LOGGING_JSON", true),
		ConfigDirectory:        e.str("CONFIG_DIRECTORY"),
		SystemMonitorPeriod:    e.seconds("SYSTEM_MONITOR_PERIOD_SECONDS"),
		GithubMonitorPeriod:    e.seconds("GITHUB_MONITOR_PERIOD_SECONDS"),
		DockerhubMonitorPeriod: e.seconds("DOCKERHUB_MONITOR_PERIOD_SECONDS"),
		ContractsMonitorPeriod: e.seconds("CHAINLINK_CONTRACTS_MONITOR_PERIOD_SECONDS"),
		GithubReleasesTemplate: e.str("GITHUB_RELEASES_TEMPLATE"),
		TransformerQueueSize:   e.integer("DATA_TRANSFORMER_PUBLISHING_QUEUE_SIZE"),
		AlerterQueueSize:       e.integer("ALERTER_PUBLISHING_QUEUE_SIZE"),
		ConfigQueueSize:        e.integer("CONFIG_PUBLISHING_QUEUE_SIZE"),
		DataDirectory:          e.optionalStr("DATA_DIRECTORY", "/data"),
		AlertsLogFile:          e.optionalStr("ALERTS_LOG_FILE", "/data/alerts.log"),
		HealthCheckerAddr:      e.optionalStr("HEALTH_CHECKER_ADDR", ":9000"),
		PingPeriod:             e.optionalSeconds("PING_PERIOD_SECONDS", 30*time.Second),
		ConfigWatchPeriod:      e.optionalSeconds("CONFIG_WATCH_PERIOD_SECONDS", 5*time.Second),
		EnableConsoleAlerts:    e.optionalBool("ENABLE_CONSOLE_ALERTS", false),
	}

	if len(e.missing) > 0 {
		return nil, fmt.Errorf("missing or invalid environment variables: %s",
			strings.Join(e.missing, ", "))
	}
	return cfg, nil
}

type envReader struct {
	missing []string
}

func (e *envReader) str(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		e.missing = append(e.missing, key)
		return ""
	}
	return v
}

func (e *envReader) integer(key string) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		e.missing = append(e.missing, key)
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.missing = append(e.missing, key)
		return 0
	}
	return n
}

func (e *envReader) seconds(key string) time.Duration {
	return time.Duration(e.integer(key)) * time.Second
}

func (e *envReader) optionalStr(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	return v
}

func (e *envReader) optionalSeconds(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.missing = append(e.missing, key)
		return fallback
	}
	return time.Duration(n) * time.Second
}

func (e *envReader) optionalBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}
