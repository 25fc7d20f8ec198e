//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint"
	"trpc.group/trpc-go/trpc-agent-checkpoint/checkpoint/sqlstore"
	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
	"trpc.group/trpc-go/trpc-agent-checkpoint/storage/sqldb"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-checkpoint/telemetry/trace"
)

type app struct {
	configPath string
	dialect    string
	dsn        string
	logLevel   string
	cfg        Config
	cleanups   []func() error
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

// execute runs root and stops telemetry afterwards, also when a command
// fails and cobra skips the post run hooks.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	defer a.stopTelemetry()
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "checkpointctl",
		Short:         "Inspect and maintain a checkpoint database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			return a.startTelemetry(cmd.Context())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.dialect, "dialect", "", "database dialect (postgres or sqlite), overrides the config")
	flags.StringVar(&a.dsn, "dsn", "", "database connection string, overrides the config")
	flags.StringVar(&a.logLevel, "log-level", "", "log level, overrides the config")

	root.AddCommand(a.migrateCmd(), a.getCmd(), a.listCmd(), a.deleteCmd())
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dialect") {
		cfg.Database.Dialect = a.dialect
	}
	if cmd.Flags().Changed("dsn") {
		cfg.Database.DSN = a.dsn
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.Log.Level != "" {
		log.SetLevel(cfg.Log.Level)
	}
	a.cfg = cfg
	return nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	if tc.Endpoint == "" {
		return nil
	}
	cleanTrace, err := trace.Start(ctx, trace.WithEndpoint(tc.Endpoint), trace.WithProtocol(tc.Protocol))
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	a.cleanups = append(a.cleanups, cleanTrace)
	cleanMetric, err := metric.Start(ctx, metric.WithEndpoint(tc.Endpoint), metric.WithProtocol(tc.Protocol))
	if err != nil {
		a.stopTelemetry()
		return fmt.Errorf("start metrics: %w", err)
	}
	a.cleanups = append(a.cleanups, cleanMetric)
	return nil
}

func (a *app) stopTelemetry() {
	for _, clean := range a.cleanups {
		if err := clean(); err != nil {
			log.Warnf("checkpointctl: %v", err)
		}
	}
	a.cleanups = nil
}

func (a *app) openClient(ctx context.Context) (sqldb.Client, error) {
	return sqldb.GetClientBuilder()(ctx,
		sqldb.WithClientConnString(a.cfg.Database.DSN),
		sqldb.WithDialect(sqldb.Dialect(a.cfg.Database.Dialect)),
	)
}

// withSaver opens the database and runs fn with a saver that has no
// conversation pipeline.
func (a *app) withSaver(ctx context.Context, fn func(*checkpoint.Saver) error) error {
	client, err := a.openClient(ctx)
	if err != nil {
		return err
	}
	repo, err := sqlstore.New(ctx, client, sqlstore.WithSkipMigrate(a.cfg.Database.SkipMigrate))
	if err != nil {
		client.Close()
		return err
	}
	saver, err := checkpoint.NewSaver(repo)
	if err != nil {
		repo.Close()
		return err
	}
	defer saver.Close()
	return fn(saver)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the checkpoint tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := sqlstore.Migrate(ctx, client); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "ok"})
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	var ns, id string
	cmd := &cobra.Command{
		Use:   "get <thread>",
		Short: "Print a checkpoint with its pending writes, the latest one by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := checkpoint.Config{ThreadID: args[0], Namespace: ns, CheckpointID: id}
			return a.withSaver(cmd.Context(), func(s *checkpoint.Saver) error {
				tuple, err := s.GetTuple(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), tuple)
			})
		},
	}
	cmd.Flags().StringVar(&ns, "ns", checkpoint.DefaultNamespace, "checkpoint namespace")
	cmd.Flags().StringVar(&id, "id", "", "checkpoint id")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var (
		ns     string
		before string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list <thread>",
		Short: "Print the checkpoints of a thread, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := checkpoint.Config{ThreadID: args[0], Namespace: ns}
			opts := []checkpoint.ListOption{checkpoint.WithLimit(limit)}
			if before != "" {
				opts = append(opts, checkpoint.WithBefore(before))
			}
			return a.withSaver(cmd.Context(), func(s *checkpoint.Saver) error {
				tuples := make([]*checkpoint.Tuple, 0)
				for tuple, err := range s.List(cmd.Context(), cfg, opts...) {
					if err != nil {
						return err
					}
					tuples = append(tuples, tuple)
				}
				return writeJSON(cmd.OutOrStdout(), tuples)
			})
		},
	}
	cmd.Flags().StringVar(&ns, "ns", checkpoint.DefaultNamespace, "checkpoint namespace")
	cmd.Flags().StringVar(&before, "before", "", "skip this checkpoint id")
	cmd.Flags().IntVar(&limit, "limit", checkpoint.DefaultListLimit, "maximum number of checkpoints")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread>",
		Short: "Soft delete every checkpoint and write of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSaver(cmd.Context(), func(s *checkpoint.Saver) error {
				if err := s.DeleteThread(cmd.Context(), args[0]); err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
