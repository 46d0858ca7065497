package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/voyagen/ccepg/internal/cache"
	"github.com/voyagen/ccepg/internal/server"
	"github.com/voyagen/ccepg/internal/service"
	"github.com/voyagen/ccepg/internal/store"
)

func newServeCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and serve the playlist, guide and API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return c.withApp(ctx, func(a *app) error {
				var refresher service.Refresher = a.runner
				if a.rds != nil {
					refresher = service.NewQueueRefresher(a.rds)
					go service.RunQueueWorker(ctx, a.rds, a.runner)
				}

				schedulerDone := make(chan struct{})
				go func() {
					a.runner.Start(ctx)
					close(schedulerDone)
				}()

				srv := server.New(server.Deps{
					Store:     a.store,
					Settings:  a.settings,
					Exporter:  a.exporter,
					Refresher: refresher,
					Metrics:   a.metrics,
					Port:      a.cfg.ServerPort,
				})
				err := srv.ListenAndServe(ctx)
				stop()
				<-schedulerDone
				return err
			})
		},
	}
}

func newRefreshCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run the guide pipeline once and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				report, err := a.runner.RunOnce(cmd.Context())
				if errors.Is(err, cache.ErrLocked) {
					return fmt.Errorf("another ccepg process is running the pipeline")
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderRunReport(report))
				return err
			})
		},
	}
}

func renderRunReport(r service.RunReport) string {
	keys := make([]string, 0, len(r.Providers))
	for k := range r.Providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		p := r.Providers[k]
		status := "ok"
		switch {
		case !p.Enabled:
			status = "disabled"
		case p.Error != "":
			status = "error: " + p.Error
		}
		rows = append(rows, []string{
			k,
			status,
			strconv.Itoa(p.Channels),
			strconv.Itoa(p.ChannelsCreated),
			strconv.Itoa(p.Created),
			strconv.Itoa(p.Duplicates),
			strconv.Itoa(p.OutOfWindow),
			strconv.Itoa(p.Invalid),
		})
	}
	table := renderTable(
		[]string{"Provider", "Status", "Channels", "New", "Entries", "Duplicate", "Out of window", "Invalid"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
	return fmt.Sprintf("%s\nswept %d orphaned and %d ended entries; assigned %d, unresolved %d",
		table, r.Sweep.Orphans, r.Sweep.Ended, r.Assign.Assigned, r.Assign.Unresolved)
}

func newChannelsCommand(c *commandContext) *cobra.Command {
	var providerFlag string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List registered channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				var filter store.ChannelFilter
				if providerFlag != "" {
					filter.Provider = &providerFlag
				}
				channels, err := a.store.ListChannels(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(channels) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "No channels registered")
					return err
				}
				rows := make([][]string, 0, len(channels))
				for _, ch := range channels {
					rows = append(rows, []string{
						strconv.Itoa(ch.Number), ch.Provider, ch.ID, ch.Name, ch.Kind, ch.GuideID, yesNo(ch.Enabled),
					})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"#", "Provider", "ID", "Name", "Kind", "Guide ID", "Enabled"},
					rows,
					[]columnAlignment{alignRight},
				))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&providerFlag, "provider", "", "Only list channels of this provider")
	return cmd
}

func newExportCommand(c *commandContext) *cobra.Command {
	var (
		output  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:       "export {m3u|xmltv}",
		Short:     "Write the playlist or guide to stdout or a file",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"m3u", "xmltv"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				if refresh {
					if _, err := a.runner.RunOnce(ctx); err != nil {
						return err
					}
				}
				ready, err := a.exporter.Ready(ctx)
				if err != nil {
					return err
				}
				if !ready {
					return fmt.Errorf("no pipeline run has completed yet; run `ccepg refresh` or pass --refresh")
				}

				body, err := render(ctx, a, args[0])
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if _, err := w.Write(body); err != nil {
					return err
				}
				if output != "" && output != "-" {
					log.Info().Str("path", output).Int("bytes", len(body)).Msg("export written")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Run the pipeline before exporting")
	return cmd
}

func render(ctx context.Context, a *app, format string) ([]byte, error) {
	switch format {
	case "m3u":
		s, err := a.exporter.RenderPlaylist(ctx)
		return []byte(s), err
	case "xmltv":
		return a.exporter.RenderGuide(ctx)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
