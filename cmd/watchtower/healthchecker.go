package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/health"
	"github.com/praetor-io/watchtower/pkg/managers"
)

var healthCheckerCmd = &cobra.Command{
	Use:   "health-checker",
	Short: "Run the health checker",
	Long: `Run the health checker: the manager ping publisher, the heartbeat
recorder and the HTTP endpoint that reports component liveness and
serves prometheus metrics.`,
	RunE: runHealthChecker,
}

func init() {
	rootCmd.AddCommand(healthCheckerCmd)
}

func runHealthChecker(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		m := managers.New("health_checker_manager", r.client)

		ping := health.NewPingPublisher(r.client, r.cfg.PingPeriod)
		recorder := health.NewRecorder(r.client, r.store)
		server := health.NewServer(r.cfg.HealthCheckerAddr, r.store)

		m.AddChild(managers.Child{
			Name: "ping_publisher", Kind: "health", ParentID: "general", Run: ping.Run,
		})
		m.AddChild(managers.Child{
			Name: "heartbeat_recorder", Kind: "health", ParentID: "general", Run: recorder.Run,
		})
		m.AddChild(managers.Child{
			Name: "health_http_server", Kind: "health", ParentID: "general", Run: server.Run,
		})
		return m, nil
	})
}
