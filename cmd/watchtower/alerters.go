package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/alerters"
	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/managers"
	"github.com/praetor-io/watchtower/pkg/types"
)

var alertersCmd = &cobra.Command{
	Use:   "alerters",
	Short: "Run the alerters family",
	Long: `Run the repository alerters plus one system alerter per configured
chain. Chain alerters are config-driven: the manager follows the
alerts-config slice of the config fan-out and (re)starts chain children
as their rulesets change.`,
	RunE: runAlerters,
}

func init() {
	rootCmd.AddCommand(alertersCmd)
}

func runAlerters(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		factory := alerters.NewConfigFactory()
		size := r.cfg.AlerterQueueSize

		m := managers.NewAlertersManager("alerters_manager", r.client, factory,
			func(chainName, parentID string) []managers.Child {
				system := alerters.NewWorker(chainName+"_alerter",
					broker.QueueChainAlerterPrefix+chainName, parentID, size,
					alerters.NewSystemAlerter(factory), r.client)
				contract := alerters.NewWorker(chainName+"_contract_alerter",
					broker.QueueChainAlerterPrefix+chainName+"_contracts", parentID, size,
					alerters.NewContractAlerter(factory), r.client)
				return []managers.Child{
					{
						Name:     system.Name(),
						Kind:     string(types.KindSystem),
						ParentID: parentID,
						Run:      system.Run,
					},
					{
						Name:     contract.Name(),
						Kind:     string(types.KindChainlinkContracts),
						ParentID: parentID,
						Run:      contract.Run,
					},
				}
			})

		singletons := []struct {
			name  string
			queue string
			kind  types.EntityKind
		}{
			{"github_alerter", broker.QueueGithubAlerter, types.KindGithub},
			{"dockerhub_alerter", broker.QueueDockerhubAlerter, types.KindDockerhub},
		}
		for _, s := range singletons {
			worker := alerters.NewWorker(s.name, s.queue, "*", size,
				alerters.NewGithubAlerter(s.kind), r.client)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     string(s.kind),
				ParentID: "general",
				Run:      worker.Run,
			})
		}
		return m, nil
	})
}
