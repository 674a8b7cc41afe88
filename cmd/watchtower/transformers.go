package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/managers"
	"github.com/praetor-io/watchtower/pkg/store"
	"github.com/praetor-io/watchtower/pkg/transformers"
	"github.com/praetor-io/watchtower/pkg/types"
)

var transformersCmd = &cobra.Command{
	Use:   "transformers",
	Short: "Run the transformers family",
	Long: `Run one transformer per entity kind plus the data-store worker under
the transformers manager. Transformers turn raw observations into
alertable state; the data-store worker persists the save stream.`,
	RunE: runTransformers,
}

func init() {
	rootCmd.AddCommand(transformersCmd)
}

func runTransformers(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		m := managers.New("transformers_manager", r.client)
		size := r.cfg.TransformerQueueSize

		kinds := []struct {
			name    string
			queue   string
			kind    types.EntityKind
			handler transformers.Handler
		}{
			{"system_data_transformer", broker.QueueSystemTransformer,
				types.KindSystem, transformers.NewSystemTransformer(r.store)},
			{"github_data_transformer", broker.QueueGithubTransformer,
				types.KindGithub, transformers.NewRepoTransformer(types.KindGithub, r.store)},
			{"dockerhub_data_transformer", broker.QueueDockerhubTransformer,
				types.KindDockerhub, transformers.NewRepoTransformer(types.KindDockerhub, r.store)},
		}
		for _, k := range kinds {
			worker := transformers.NewWorker(k.name, k.queue, size, k.handler, r.client)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     string(k.kind),
				ParentID: "general",
				Run:      worker.Run,
			})
		}

		contractWorker := transformers.NewContractWorker("chainlink_data_transformer",
			broker.QueueChainlinkTransformer, size, transformers.NewContractTransformer(r.store), r.client)
		m.AddChild(managers.Child{
			Name:     contractWorker.Name(),
			Kind:     string(types.KindChainlinkContracts),
			ParentID: "general",
			Run:      contractWorker.Run,
		})

		storeWorker := store.NewWorker("data_store_worker", r.client, r.store)
		m.AddChild(managers.Child{
			Name:     storeWorker.Name(),
			Kind:     string(types.KindSystem),
			ParentID: "general",
			Run:      storeWorker.Run,
		})
		return m, nil
	})
}
