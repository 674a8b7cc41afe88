// Package alerters evaluates threshold ladders and transition rules over
// the transformed alert stream and publishes alert records for the
// channel handlers.
package alerters

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrParentIDMismatch flags a config document whose sub-records do not
// all carry the same parent_id. Such a document is rejected whole; any
// previously accepted config stays in force.
var ErrParentIDMismatch = errors.New("config sub-records carry different parent_ids")

// MetricThresholds is the alert ladder for one metric.
type MetricThresholds struct {
	Enabled               bool
	WarningEnabled        bool
	WarningThreshold      float64
	CriticalEnabled       bool
	CriticalThreshold     float64
	CriticalRepeat        time.Duration
	CriticalRepeatEnabled bool
}

// ChainConfig is one chain's parsed alerts configuration.
type ChainConfig struct {
	ParentID string
	Metrics  map[string]MetricThresholds
}

// Threshold returns the ladder for a metric; disabled if unconfigured.
func (c *ChainConfig) Threshold(metric string) MetricThresholds {
	if c == nil {
		return MetricThresholds{}
	}
	return c.Metrics[metric]
}

// ConfigFactory holds the active alerts config per chain, fed by the
// config fan-out.
type ConfigFactory struct {
	mu      sync.RWMutex
	configs map[string]*ChainConfig // keyed by chain name
}

// NewConfigFactory builds an empty factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{configs: map[string]*ChainConfig{}}
}

// Add parses and installs a chain's config document. Sub-records are
// keyed "1", "2", ... and must agree on parent_id.
func (f *ConfigFactory) Add(chainName string, doc map[string]map[string]string) error {
	cfg, err := ParseChainConfig(doc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.configs[chainName] = cfg
	f.mu.Unlock()
	return nil
}

// Remove drops a chain's config.
func (f *ConfigFactory) Remove(chainName string) {
	f.mu.Lock()
	delete(f.configs, chainName)
	f.mu.Unlock()
}

// ByParentID finds the config whose sub-records carry the parent id.
func (f *ConfigFactory) ByParentID(parentID string) *ChainConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, cfg := range f.configs {
		if cfg.ParentID == parentID {
			return cfg
		}
	}
	return nil
}

// ParseChainConfig validates and parses one alerts config document.
func ParseChainConfig(doc map[string]map[string]string) (*ChainConfig, error) {
	cfg := &ChainConfig{Metrics: map[string]MetricThresholds{}}
	for key, record := range doc {
		// Every sub-record must name the parent. Allowing an empty one
		// through would leave acceptance dependent on which record the
		// map yields first.
		parentID := record["parent_id"]
		if parentID == "" {
			return nil, fmt.Errorf("sub-record %s has no parent_id", key)
		}
		if cfg.ParentID == "" {
			cfg.ParentID = parentID
		} else if parentID != cfg.ParentID {
			return nil, fmt.Errorf("sub-record %s: %w", key, ErrParentIDMismatch)
		}

		name := record["name"]
		if name == "" {
			return nil, fmt.Errorf("sub-record %s has no metric name", key)
		}
		mt := MetricThresholds{
			Enabled:               parseBool(record["enabled"], true),
			WarningEnabled:        parseBool(record["warning_enabled"], true),
			WarningThreshold:      parseFloat(record["warning_threshold"], 0),
			CriticalEnabled:       parseBool(record["critical_enabled"], true),
			CriticalThreshold:     parseFloat(record["critical_threshold"], 0),
			CriticalRepeat:        time.Duration(parseFloat(record["critical_repeat"], 300)) * time.Second,
			CriticalRepeatEnabled: parseBool(record["critical_repeat_enabled"], true),
		}
		cfg.Metrics[name] = mt
	}
	return cfg, nil
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func parseFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
