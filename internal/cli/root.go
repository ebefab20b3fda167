// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package cli provides the tributary command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/validation"
)

// Version is set at build time.
var Version = "0.1.0"

// skipAppAnnotation marks commands that run without a warehouse connection.
const skipAppAnnotation = "tributary/skip-app"

// options are the seams tests replace.
type options struct {
	load       func() (*config.Config, error)
	httpClient *http.Client
}

// state is shared by the commands of one root.
type state struct {
	opts       options
	configPath string
	logLevel   string
	cfg        *config.Config
	app        *App
}

// Execute runs the CLI with os.Args and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	return Run(os.Args[1:])
}

// Run executes the CLI with args.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(options{load: config.LoadWithKoanf})
}

func newRootCmd(opts options) *cobra.Command {
	s := &state{opts: opts}

	root := &cobra.Command{
		Use:   "tributary",
		Short: "Resilient ServiceTitan to DuckDB ingestion pipeline",
		Long: `Tributary fetches entities and reports from the ServiceTitan API and
loads them into DuckDB, tracking a watermark per entity so repeated runs only
fetch what changed.

Configuration is read from config.yaml (or --config) and environment
variables; see the serve command for the HTTP interface.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "config file path (overrides CONFIG_PATH)")
	root.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(s),
		newSyncCmd(s),
		newSyncAllCmd(s),
		newSyncRefsCmd(s),
		newReportCmd(s),
		newBackfillCmd(s),
		newCompactCmd(s),
		newEntitiesCmd(s),
		newStatusCmd(s),
	)
	return root
}

func (s *state) setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipAppAnnotation] == "true" || cmd.Name() == "help" {
		return nil
	}

	if s.configPath != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, s.configPath); err != nil {
			return fmt.Errorf("set config path: %w", err)
		}
	}

	cfg, err := s.opts.load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if s.logLevel != "" {
		cfg.Logging.Level = s.logLevel
	}
	s.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	app, err := NewApp(cfg, s.opts.httpClient)
	if err != nil {
		return err
	}
	s.app = app
	return nil
}

// withApp adapts a command body that needs the wired pipeline. The app is
// closed however the body returns; cobra skips post-run hooks on error.
func (s *state) withApp(fn func(cmd *cobra.Command, args []string, app *App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer s.teardown()
		return fn(cmd, args, s.app)
	}
}

func (s *state) teardown() {
	if s.app == nil {
		return
	}
	if err := s.app.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close warehouse")
	}
	s.app = nil
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// validateFlags runs the shared validator over a flag struct.
func validateFlags(v interface{}) error {
	if verr := validation.ValidateStruct(v); verr != nil {
		return fmt.Errorf("invalid arguments: %w", verr)
	}
	return nil
}
