package ctl

import (
	"fmt"

	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type sweepReport = lifecycle.SweepReport

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app serverApp) error {
				if err := app.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired buckets and soft-deleted buckets past their grace period",
		Long:  "Runs one lifecycle sweep. Use it from cron when the server's in-process sweep is disabled.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app serverApp) error {
				rep, err := app.Sweep(cmd.Context())
				printSweep(cmd, rep)
				return err
			})
		},
	}
}

func printSweep(cmd *cobra.Command, rep sweepReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "candidates:    %d\n", rep.Candidates)
	fmt.Fprintf(out, "purged:        %d\n", rep.Purged)
	fmt.Fprintf(out, "files deleted: %s\n", humanize.Comma(rep.FilesDeleted))
	fmt.Fprintf(out, "orphans:       %d\n", rep.Orphans)
}

func newUsageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <owner-id>",
		Short: "Show how much of the storage quota an owner uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(app serverApp) error {
				used, capBytes, err := app.Usage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s of %s used\n", humanize.IBytes(uint64(used)), humanize.IBytes(uint64(capBytes)))
				return nil
			})
		},
	}
}
