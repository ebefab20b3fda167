// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tributary/internal/ingest"
)

type syncFlags struct {
	Mode  string `validate:"required,syncmode"`
	Since string `validate:"omitempty,datetime=2006-01-02"`
}

func newSyncCmd(s *state) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync <entity>",
		Short: "Sync one entity",
		Long: `Sync one entity into its warehouse table.

Incremental runs start at the stored watermark minus the lookback margin.
--since overrides the window start for this run only.

Examples:
  tributary sync jobs
  tributary sync invoices --mode full
  tributary sync payments --since 2024-01-01`,
		Args: cobra.ExactArgs(1),
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			if err := validateFlags(&flags); err != nil {
				return err
			}

			var (
				res *ingest.Result
				err error
			)
			if flags.Since != "" {
				since, _ := time.Parse(time.DateOnly, flags.Since)
				res, err = app.Orchestrator.SyncWindow(cmd.Context(), args[0], since)
			} else {
				res, err = app.Orchestrator.Sync(cmd.Context(), args[0], flags.Mode)
			}
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		}),
	}

	cmd.Flags().StringVarP(&flags.Mode, "mode", "m", ingest.ModeIncremental, "sync mode: incremental or full")
	cmd.Flags().StringVar(&flags.Since, "since", "", "window start (YYYY-MM-DD), implies incremental")
	return cmd
}

type syncAllFlags struct {
	Mode     string `validate:"required,syncmode"`
	Parallel bool
}

func newSyncAllCmd(s *state) *cobra.Command {
	var flags syncAllFlags

	cmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Sync every entity",
		Long: `Sync every registered entity. One entity failing does not stop the
others; the command exits non-zero when any failed.

Examples:
  tributary sync-all
  tributary sync-all --mode full --parallel`,
		Args: cobra.NoArgs,
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			if err := validateFlags(&flags); err != nil {
				return err
			}
			results := app.Orchestrator.SyncAll(cmd.Context(), flags.Mode, flags.Parallel)
			return reportResults(cmd, results)
		}),
	}

	cmd.Flags().StringVarP(&flags.Mode, "mode", "m", ingest.ModeIncremental, "sync mode: incremental or full")
	cmd.Flags().BoolVarP(&flags.Parallel, "parallel", "p", false, "run up to sync.max_parallel entities at once")
	return cmd
}

func newSyncRefsCmd(s *state) *cobra.Command {
	var parallel bool

	cmd := &cobra.Command{
		Use:   "sync-refs",
		Short: "Refresh every reference dimension",
		Args:  cobra.NoArgs,
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			results := app.Orchestrator.SyncReferences(cmd.Context(), parallel)
			return reportResults(cmd, results)
		}),
	}

	cmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "run up to sync.max_parallel references at once")
	return cmd
}

func reportResults(cmd *cobra.Command, results []*ingest.Result) error {
	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}

type reportFlags struct {
	Mode string `validate:"required,syncmode"`
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

func newReportCmd(s *state) *cobra.Command {
	var flags reportFlags

	cmd := &cobra.Command{
		Use:   "report <name>",
		Short: "Load a report date range",
		Long: `Load a report. The date range defaults to the span of the mode and
is replaced in the warehouse, so rerunning a range is idempotent.

Examples:
  tributary report collections
  tributary report collections --from 2024-01-01 --to 2024-01-31`,
		Args: cobra.ExactArgs(1),
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			if err := validateFlags(&flags); err != nil {
				return err
			}
			var rng ingest.ReportRange
			if flags.From != "" {
				rng.From, _ = time.Parse(time.DateOnly, flags.From)
			}
			if flags.To != "" {
				rng.To, _ = time.Parse(time.DateOnly, flags.To)
			}

			res, err := app.Orchestrator.SyncReport(cmd.Context(), args[0], flags.Mode, rng)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		}),
	}

	cmd.Flags().StringVarP(&flags.Mode, "mode", "m", ingest.ModeIncremental, "range: incremental (recent) or full (long)")
	cmd.Flags().StringVar(&flags.From, "from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.To, "to", "", "range end (YYYY-MM-DD)")
	return cmd
}
