package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/blob"
	"github.com/kimhsiao/habitsync/internal/errors"
)

func (c *cli) newAudioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audio", Short: "Manage stored recordings"}

	var (
		mimeType string
		duration float64
		date     string
	)
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrInvalid, "read recording", err)
			}
			payload := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				id, err := a.Recordings.Upload(cmd.Context(), user, payload, blob.UploadMeta{
					Duration: duration,
					MimeType: mimeType,
					Date:     date,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	upload.Flags().StringVar(&mimeType, "mime", "audio/webm", "Media type of the recording")
	upload.Flags().Float64Var(&duration, "duration", 0, "Length in seconds")
	upload.Flags().StringVar(&date, "date", "", "Day the recording belongs to (YYYY-MM-DD)")
	cmd.AddCommand(upload)

	var out string
	download := &cobra.Command{
		Use:   "download <id>",
		Short: "Reassemble a recording and write it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				rec, err := a.Recordings.Download(cmd.Context(), user, args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return errors.Newf(errors.ErrNotFound, "recording %s not found or incomplete", args[0])
				}

				_, body := blob.SplitPrefix(rec.Payload)
				data, err := base64.StdEncoding.DecodeString(body)
				if err != nil {
					return errors.Wrap(errors.ErrIntegrity, "decode recording", err)
				}
				target := out
				if target == "" {
					target = args[0]
				}
				if err := os.WriteFile(target, data, 0644); err != nil {
					return errors.Wrap(errors.ErrStorageUnavailable, "write recording", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), target)
				return nil
			})
		},
	}
	download.Flags().StringVarP(&out, "out", "o", "", "Output file (default: the recording id)")
	cmd.AddCommand(download)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				items, err := a.Recordings.List(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				user, err := c.userFor(a)
				if err != nil {
					return err
				}
				if err := a.Recordings.Delete(cmd.Context(), user, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted", args[0])
				return nil
			})
		},
	})

	return cmd
}
