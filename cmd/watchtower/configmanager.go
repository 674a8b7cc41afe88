package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/configwatcher"
)

var configManagerCmd = &cobra.Command{
	Use:   "config-manager",
	Short: "Run the config fan-out",
	Long: `Poll the config directory and publish every change on the config
exchange. The first round publishes all existing files so late-starting
consumers hydrate without waiting for an edit.`,
	RunE: runConfigManager,
}

func init() {
	rootCmd.AddCommand(configManagerCmd)
}

func runConfigManager(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		return configwatcher.New(r.cfg.ConfigDirectory, r.cfg.ConfigWatchPeriod, r.cfg.ConfigQueueSize, r.client), nil
	})
}
