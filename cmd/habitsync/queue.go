package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/errors"
)

func (c *cli) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply queued mutations to the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				if a.Prober != nil {
					a.Monitor.Set(a.Prober.Probe(ctx))
				}
				if !a.Monitor.Online() {
					return errors.New(errors.ErrOffline, "remote store is unreachable")
				}

				result := a.Engine.SyncQueue(ctx, user)
				pending, err := a.Queue.Count(ctx, user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"result":  result,
					"pending": pending,
				})
			})
		},
	}
}

func (c *cli) newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect the offline queue"}

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Show queued mutations by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				stats, err := a.Queue.Stats(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued mutations in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				items, err := a.Queue.DrainOrdered(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	})

	var force bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued mutation of every user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New(errors.ErrInvalid, "queue clear discards unsynced changes; pass --force")
			}
			return c.withApp(func(a *app.App) error {
				if err := a.Queue.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared")
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&force, "force", false, "Confirm discarding unsynced changes")
	cmd.AddCommand(clearCmd)

	return cmd
}
