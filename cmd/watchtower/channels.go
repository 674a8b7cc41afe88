package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/praetor-io/watchtower/pkg/channels"
	"github.com/praetor-io/watchtower/pkg/configwatcher"
	"github.com/praetor-io/watchtower/pkg/managers"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Run the channel handlers family",
	Long: `Run one channel handler per configured destination. The log handler
is always on; Slack and Telegram come from the channels config files and
the console handler from the console-alerts flag.`,
	RunE: runChannels,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}

func runChannels(cmd *cobra.Command, args []string) error {
	return runFamily(func(r *runtime) (interface {
		Run(ctx context.Context) error
	}, error) {
		handlers, err := buildHandlers(r)
		if err != nil {
			return nil, err
		}

		m := managers.New("channel_handlers_manager", r.client)
		for _, handler := range handlers {
			spool, err := channels.NewSpool(r.cfg.DataDirectory, handler.Name())
			if err != nil {
				return nil, fmt.Errorf("opening %s spool: %w", handler.Name(), err)
			}
			worker := channels.NewWorker(handler, spool, r.client)
			m.AddChild(managers.Child{
				Name:     worker.Name(),
				Kind:     "channel",
				ParentID: "general",
				Run:      worker.Run,
			})
		}
		return m, nil
	})
}

func buildHandlers(r *runtime) ([]channels.Handler, error) {
	logHandler, err := channels.NewLogHandler(r.cfg.AlertsLogFile)
	if err != nil {
		return nil, err
	}
	handlers := []channels.Handler{logHandler}
	if r.cfg.EnableConsoleAlerts {
		handlers = append(handlers, channels.ConsoleHandler{})
	}

	channelsDir := filepath.Join(r.cfg.ConfigDirectory, "channels")
	if doc, err := configwatcher.ParseFile(filepath.Join(channelsDir, "slack_config.ini")); err == nil {
		for _, record := range doc {
			if record["bot_token"] == "" || record["bot_channel_id"] == "" {
				continue
			}
			handlers = append(handlers,
				channels.NewSlackHandler(record["bot_token"], record["bot_channel_id"]))
			break
		}
	}
	if doc, err := configwatcher.ParseFile(filepath.Join(channelsDir, "telegram_config.ini")); err == nil {
		for _, record := range doc {
			if record["bot_token"] == "" || record["chat_id"] == "" {
				continue
			}
			handlers = append(handlers,
				channels.NewTelegramHandler(record["bot_token"], record["chat_id"]))
			break
		}
	}
	return handlers, nil
}
