package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/disgoorg/repbot/internal/domain/jobs"
	"github.com/disgoorg/repbot/internal/domain/keys"
	"github.com/disgoorg/repbot/repbot"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the cleanup log from the all-time scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			res, err := app.Cleanup.Reconcile(ctx, app.Settings())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, removed %d, rescheduled %d\n", res.Added, res.Removed, res.Rescheduled)
			return nil
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the leaderboard pages now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			res, err := app.Leaderboard.Rebuild(ctx, app.Settings())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d users, %d writes, %d permission updates\n", res.Users, res.Writes, res.PermissionUpdates)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one cleanup sweep for deleted accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			res, err := app.Cleanup.Sweep(ctx, app.Settings())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, alive %d, removed %d, decision: %s\n",
				res.Checked, res.Alive, len(res.Removed), res.Decision)

			next, ok, err := jobs.NextRun(ctx, app.Jobs, keys.JobCleanupSweep)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "next sweep at %s\n", next.UTC().Format(time.RFC3339))
			}
			return nil
		})
	},
}

var setScoreCommunity string

var setScoreCmd = &cobra.Command{
	Use:   "set-score <username> <score>",
	Short: "Override a user's all-time score; 0 removes them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[1], err)
		}
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			if err := app.Gate.SetScore(ctx, app.Settings(), setScoreCommunity, args[0], score); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %d\n", args[0], score)
			return nil
		})
	},
}

var jobsCancel string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List pending scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			if jobsCancel != "" {
				name, err := keys.ParseJobName(jobsCancel)
				if err != nil {
					return err
				}
				n, err := jobs.CancelAll(ctx, app.Jobs, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d jobs\n", n)
				return nil
			}

			pending, err := app.Jobs.ListPending(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRUN AT\tCRON")
			for _, p := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.RunAt.UTC().Format(time.RFC3339), p.Cron)
			}
			return w.Flush()
		})
	},
}

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Truncate every application table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirm {
			return errors.New("refusing to reset without --yes")
		}
		return withApp(cmd, func(ctx context.Context, app *repbot.App) error {
			return app.DB.ResetAppTables(ctx)
		})
	},
}

func init() {
	setScoreCmd.Flags().StringVar(&setScoreCommunity, "community", "", "community whose label to refresh")
	jobsCmd.Flags().StringVar(&jobsCancel, "cancel", "", "cancel every pending job with this name")
	resetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "confirm the reset")

	rootCmd.AddCommand(reconcileCmd, rebuildCmd, sweepCmd, setScoreCmd, jobsCmd, resetCmd)
}
