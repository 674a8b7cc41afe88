package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "system.chain_1", RawDataKey("system", "chain_1"))
	assert.Equal(t, "alerter.system.chain_1", TransformedKey("system", "chain_1"))
	assert.Equal(t, "transformer.github", StoreKey("github"))
	assert.Equal(t, "alert_router.chain_1", AlertKey("chain_1"))
	assert.Equal(t, "reset.system.chain_1", ResetKey("system", "chain_1"))
}

func TestConfigKey(t *testing.T) {
	cases := map[string]string{
		"chains/cosmos/regen/alerts_config.ini": "chains.cosmos.regen.alerts_config",
		"general/systems_config.ini":            "general.systems_config",
		"channels/telegram_config.ini":          "channels.telegram_config",
		"no_suffix":                             "no_suffix",
	}
	for in, want := range cases {
		assert.Equal(t, want, ConfigKey(in), in)
	}
}

func TestConfigKey_WindowsSeparators(t *testing.T) {
	assert.Equal(t, "chains.cosmos.regen.nodes_config",
		ConfigKey(`chains\cosmos\regen\nodes_config.ini`))
}
