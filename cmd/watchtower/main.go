package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/config"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "watchtower",
	Short: "Watchtower - multi-chain infrastructure monitoring and alerting",
	Long: `Watchtower monitors node hosts, repositories and Chainlink price
feed contracts, transforms the raw observations into alertable state,
and routes alerts to the configured channels over a RabbitMQ topic bus.

Each subcommand runs one worker family under its manager; a deployment
runs one process per family.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Watchtower version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

// runtime is the boot context every family command shares: validated
// environment, a connected broker client and the store adapter.
type runtime struct {
	ctx    context.Context
	stop   context.CancelFunc
	cfg    *config.Config
	client *broker.Client
	store  *store.Store
}

func bootstrap() (*runtime, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	client := broker.NewClient(cfg.RabbitURL())
	if err := client.ConnectUntilSuccessful(ctx); err != nil {
		stop()
		return nil, err
	}

	st := store.New(cfg.RedisAddr(), cfg.RedisDB, cfg.Namespace)
	if err := st.Ping(ctx); err != nil {
		client.Close()
		stop()
		return nil, fmt.Errorf("reaching store: %w", err)
	}

	return &runtime{ctx: ctx, stop: stop, cfg: cfg, client: client, store: st}, nil
}

func (r *runtime) close() {
	r.client.Close()
	r.store.Close()
	r.stop()
}

// runFamily boots, hands the runtime to the family builder and blocks on
// its Run until a signal arrives. Signal-driven cancellation is a clean
// exit.
func runFamily(build func(r *runtime) (interface {
	Run(ctx context.Context) error
}, error)) error {
	r, err := bootstrap()
	if err != nil {
		return err
	}
	defer r.close()

	family, err := build(r)
	if err != nil {
		return err
	}
	if err := family.Run(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
