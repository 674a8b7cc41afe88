package managers

import (
	"context"
	"encoding/json"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/praetor-io/watchtower/pkg/alerters"
	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/configwatcher"
)

// ChainChildFactory builds the alerter children for one configured
// chain: the system alerter and the contract alerter, each under its
// own name so resets stay per-kind.
type ChainChildFactory func(chainName, parentID string) []Child

// AlertersManager is the config-driven manager for chain alerters. It
// follows the alerts-config slice of the config fan-out: a new or
// changed chain config installs the ruleset and (re)starts that chain's
// child, a deleted config tears both down.
type AlertersManager struct {
	*Manager
	factory  *alerters.ConfigFactory
	newChild ChainChildFactory
}

// NewAlertersManager builds the manager around a shared config factory.
func NewAlertersManager(name string, client *broker.Client,
	factory *alerters.ConfigFactory, newChild ChainChildFactory) *AlertersManager {
	return &AlertersManager{
		Manager:  New(name, client),
		factory:  factory,
		newChild: newChild,
	}
}

// Run consumes the config slice alongside the ping loop until either
// consumer fails or the context is cancelled.
func (am *AlertersManager) Run(ctx context.Context) error {
	if err := am.client.DeclareExchange(broker.ExchangeConfig, "topic"); err != nil {
		return err
	}
	queue := broker.QueueConfigPrefix + am.name
	if _, err := am.client.DeclareQueue(queue); err != nil {
		return err
	}
	if err := am.client.Bind(queue, broker.ExchangeConfig, "chains.*.*.alerts_config"); err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- am.Manager.Run(ctx) }()
	go func() {
		errs <- am.client.Consume(ctx, queue, 1, func(d amqp.Delivery) {
			am.handleConfig(ctx, d)
		})
	}()
	return <-errs
}

func (am *AlertersManager) handleConfig(ctx context.Context, d amqp.Delivery) {
	defer d.Ack(false)

	chainName, ok := chainFromConfigKey(d.RoutingKey)
	if !ok {
		am.logger.Error().Str("key", d.RoutingKey).Msg("dropping config with unexpected key")
		return
	}

	var doc configwatcher.Document
	if err := json.Unmarshal(d.Body, &doc); err != nil {
		am.logger.Error().Err(err).Str("chain", chainName).Msg("dropping undecodable config")
		return
	}

	if len(doc) == 0 {
		am.removeChain(ctx, chainName)
		return
	}

	cfg, err := alerters.ParseChainConfig(doc)
	if err != nil {
		// The previously accepted config stays in force.
		am.logger.Error().Err(err).Str("chain", chainName).Msg("rejecting config document")
		return
	}
	if err := am.factory.Add(chainName, doc); err != nil {
		am.logger.Error().Err(err).Str("chain", chainName).Msg("installing config failed")
		return
	}

	// Restart the chain's children under the new ruleset. StartChildren
	// emits the ComponentReset before each start.
	for _, name := range chainChildNames(chainName) {
		am.StopChild(name)
	}
	for _, child := range am.newChild(chainName, cfg.ParentID) {
		am.AddChild(child)
	}
	am.StartChildren(ctx)
	am.logger.Info().Str("chain", chainName).Str("parent", cfg.ParentID).Msg("chain alerters (re)configured")
}

// removeChain tears down a chain whose config file was deleted. The
// resets go out after termination so no fresh state can race them.
func (am *AlertersManager) removeChain(ctx context.Context, chainName string) {
	am.factory.Remove(chainName)

	removed := false
	for _, name := range chainChildNames(chainName) {
		am.mu.Lock()
		spec, ok := am.specs[name]
		am.mu.Unlock()
		if !ok {
			continue
		}
		am.StopChild(name)
		am.publishReset(ctx, spec)
		removed = true
	}
	if removed {
		am.logger.Info().Str("chain", chainName).Msg("chain alerters removed")
	}
}

func chainChildNames(chainName string) []string {
	return []string{chainName + "_alerter", chainName + "_contract_alerter"}
}

// chainFromConfigKey extracts the chain segment from
// chains.<network>.<chain>.alerts_config.
func chainFromConfigKey(key string) (string, bool) {
	parts := strings.Split(key, ".")
	if len(parts) != 4 || parts[0] != "chains" || parts[3] != "alerts_config" {
		return "", false
	}
	return parts[2], true
}
