// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/tributary/internal/ingest"
)

type backfillFlags struct {
	From  string        `validate:"required,yearmonth"`
	Pause time.Duration `validate:"gte=0"`
}

func newBackfillCmd(s *state) *cobra.Command {
	var flags backfillFlags

	cmd := &cobra.Command{
		Use:   "backfill <entity>",
		Short: "Backfill an entity month by month",
		Long: `Walk an entity from --from to now in monthly windows, one incremental
run per window. A failed window is reported and the walk continues.

Examples:
  tributary backfill invoices --from 2021-01
  tributary backfill jobs --from 2023-06 --pause 5s`,
		Args: cobra.ExactArgs(1),
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			if err := validateFlags(&flags); err != nil {
				return err
			}
			from, err := ingest.ParseMonth(flags.From)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary, err := app.Orchestrator.Backfill(cmd.Context(), args[0], from, flags.Pause,
				func(w ingest.WindowResult) {
					month := w.Window.Format("2006-01")
					if w.Err != nil {
						fmt.Fprintf(out, "%s  failed: %v\n", month, w.Err)
						return
					}
					fmt.Fprintf(out, "%s  %d records\n", month, w.Result.RecordsProcessed)
				})
			if err != nil {
				return err
			}
			if perr := printJSON(out, summary); perr != nil {
				return perr
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d windows failed", summary.Failed, summary.Windows)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&flags.From, "from", "", "first month (YYYY-MM)")
	cmd.Flags().DurationVar(&flags.Pause, "pause", 2*time.Second, "pause between windows")
	return cmd
}

func newCompactCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "compact [entity]",
		Short: "Deduplicate tables by primary key",
		Long: `Rewrite a table keeping the latest row per primary key. Without an
argument, every table that took a fallback append is compacted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			if len(args) == 1 {
				res, err := app.Orchestrator.Compact(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			results, err := app.Orchestrator.CompactDirty(cmd.Context())
			if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
				return perr
			}
			return err
		}),
	}
}

func newEntitiesCmd(_ *state) *cobra.Command {
	return &cobra.Command{
		Use:         "entities",
		Short:       "List registered entities, references and reports",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := ingest.DefaultRegistry()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tTABLE\tPRIMARY KEY\tINCREMENTAL")
			for _, name := range reg.Entities() {
				e, _ := reg.Get(name)
				fmt.Fprintf(tw, "%s\tentity\t%s\t%s\t%t\n", e.Name, e.Table, e.PrimaryKey, e.Incremental)
			}
			for _, name := range reg.References() {
				e, _ := reg.Get(name)
				fmt.Fprintf(tw, "%s\treference\t%s\t%s\t%t\n", e.Name, e.Table, e.PrimaryKey, e.Incremental)
			}
			for _, name := range reg.Reports() {
				r, _ := reg.Report(name)
				fmt.Fprintf(tw, "%s\treport\t%s\t%s\t-\n", r.Name, r.Table, r.PrimaryKey)
			}
			return tw.Flush()
		},
	}
}

func newStatusCmd(s *state) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status <entity>",
		Short: "Show the watermark and recent runs of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: s.withApp(func(cmd *cobra.Command, args []string, app *App) error {
			reg := app.Orchestrator.Registry()
			name := args[0]
			if e, err := reg.Get(name); err == nil {
				name = e.RunName()
			} else if _, rerr := reg.Report(name); rerr != nil {
				return err
			}

			wm, err := app.DB.GetWatermark(cmd.Context(), name)
			if err != nil {
				return err
			}
			runs, err := app.DB.RecentRuns(cmd.Context(), name, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"entity":    name,
				"watermark": wm,
				"runs":      runs,
			})
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}
