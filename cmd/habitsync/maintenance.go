package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/lock"
)

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Maintain local caches"}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Drop expired cache entries and unreferenced recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				expired, err := a.Store.ClearExpired(cmd.Context())
				if err != nil {
					return err
				}
				objects, err := a.Recordings.Cache().Prune()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"expiredEntries":    expired,
					"recordingsRemoved": objects,
				})
			})
		},
	})
	return cmd
}

func newPINCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pin", Short: "Manage the app lock PIN"}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <pin>",
		Short: "Print the hash to set as HABITSYNC_PIN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := lock.HashPIN(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "verify <hash> <pin>",
		Short: "Check a PIN against a stored hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := lock.VerifyPIN(args[0], args[1])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "PIN matches")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "PIN does not match")
			}
			return nil
		},
	})
	return cmd
}
