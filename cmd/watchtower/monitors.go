package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/managers"
	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/monitors/chainlink"
	"github.com/praetor-io/watchtower/pkg/types"
)

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "Run the monitors family",
	Long: `Run every configured monitor under the monitors manager: one system
monitor per node host, one repository monitor per followed repo and one
Chainlink contract observer per chain.`,
	RunE: runMonitors,
}

func init() {
	rootCmd.AddCommand(monitorsCmd)
}

func runMonitors(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		found, err := loadTargets(r.cfg.ConfigDirectory)
		if err != nil {
			return nil, err
		}
		if len(found.Systems)+len(found.Github)+len(found.Dockerhub)+len(found.Chains) == 0 {
			return nil, fmt.Errorf("no monitoring targets under %s", r.cfg.ConfigDirectory)
		}

		m := managers.New("monitors_manager", r.client)

		for _, target := range found.Systems {
			worker := monitors.NewWorker(
				"system_monitor_"+target.Entity.ID, types.KindSystem, target.Entity,
				monitors.NewSystemProber(target.URL), r.client, r.cfg.SystemMonitorPeriod)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     string(types.KindSystem),
				ParentID: target.Entity.ParentID,
				Run:      worker.Run,
			})
		}
		for _, target := range found.Github {
			worker := monitors.NewWorker(
				"github_monitor_"+target.Entity.ID, types.KindGithub, target.Entity,
				monitors.NewGithubProber(r.cfg.GithubReleasesTemplate, target.Path),
				r.client, r.cfg.GithubMonitorPeriod)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     string(types.KindGithub),
				ParentID: target.Entity.ParentID,
				Run:      worker.Run,
			})
		}
		for _, target := range found.Dockerhub {
			worker := monitors.NewWorker(
				"dockerhub_monitor_"+target.Entity.ID, types.KindDockerhub, target.Entity,
				monitors.NewDockerhubProber(target.Path), r.client, r.cfg.DockerhubMonitorPeriod)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     string(types.KindDockerhub),
				ParentID: target.Entity.ParentID,
				Run:      worker.Run,
			})
		}
		for _, chain := range found.Chains {
			m.AddChild(contractObserverChild(r, chain))
		}
		return m, nil
	})
}

// contractObserverChild dials the chain's RPC endpoints inside the child
// so a chain with every endpoint down keeps retrying through manager
// restarts instead of failing the whole family at boot.
func contractObserverChild(r *runtime, chain chainTarget) managers.Child {
	cfg := chainlink.Config{
		MonitorName: "chainlink_contracts_monitor_" + chain.Name,
		ParentID:    chain.ParentID,
		CatalogURL:  chain.CatalogURL,
		Nodes:       chain.Nodes,
		Period:      r.cfg.ContractsMonitorPeriod,
	}
	return managers.Child{
		Name:     cfg.MonitorName,
		Kind:     string(types.KindChainlinkContracts),
		ParentID: chain.ParentID,
		Run: func(ctx context.Context) error {
			sources, err := chainlink.DialSources(ctx, chain.EVMURLs)
			if err != nil {
				return fmt.Errorf("dialling %s rpc endpoints: %w", chain.Name, err)
			}
			return chainlink.NewObserver(cfg, r.client, sources).Run(ctx)
		},
	}
}
