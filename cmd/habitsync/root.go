package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/config"
)

// opener builds the App a command runs against. The returned func releases it.
type opener func(envFile string) (*app.App, func(), error)

type cli struct {
	envFile string
	user    string
	open    opener
}

func newRootCmd(version string, open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "habitsync",
		Short:         "Offline queue and recording store tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env", "", "Load configuration from this .env file")
	root.PersistentFlags().StringVar(&c.user, "user", "", "User to act for (default HABITSYNC_USER_ID)")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(c.newSyncCmd())
	root.AddCommand(c.newQueueCmd())
	root.AddCommand(c.newAudioCmd())
	root.AddCommand(c.newCacheCmd())
	root.AddCommand(newPINCmd())
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "habitsync %s\n", version)
		},
	}
}

// openApp loads configuration and builds the App against the real data dir.
func openApp(envFile string) (*app.App, func(), error) {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.LoadFile(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	logCloser := app.SetupLogging(cfg)

	a, err := app.New(cfg)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		logCloser.Close()
	}, nil
}

// withApp opens the App for the duration of fn.
func (c *cli) withApp(fn func(a *app.App) error) error {
	a, release, err := c.open(c.envFile)
	if err != nil {
		return err
	}
	defer release()
	return fn(a)
}

// userFor returns the --user flag, else the configured user.
func (c *cli) userFor(a *app.App) (string, error) {
	if c.user != "" {
		return c.user, nil
	}
	return a.Config.RequireUser()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
