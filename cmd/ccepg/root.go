package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voyagen/ccepg/internal/config"
	"github.com/voyagen/ccepg/internal/logging"
)

type commandContext struct {
	configFlag string
	memoryFlag bool
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(c.configFlag); path != "" {
		cfg, err = config.LoadFromFile(path, !c.memoryFlag)
	} else {
		cfg, err = config.Load(!c.memoryFlag)
	}
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// withApp loads config, opens the app, and runs fn with it.
func (c *commandContext) withApp(ctx context.Context, fn func(*app) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, c.memoryFlag)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "ccepg",
		Short:         "Live-TV guide aggregator for Channels DVR",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Optional config file path (YAML); else use environment")
	root.PersistentFlags().BoolVar(&ctx.memoryFlag, "memory", false, "Use the in-memory store instead of Postgres")

	root.AddCommand(
		newServeCommand(ctx),
		newRefreshCommand(ctx),
		newChannelsCommand(ctx),
		newExportCommand(ctx),
	)
	return root
}
