package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/buddybot/buddybot/version"
)

var (
	checkUpdate bool
	versionURL  string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints BuddyBot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(version.BuddyBotVersion())
			if !checkUpdate {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			u, err := version.NewChecker(versionURL, nil).Check(ctx)
			if err != nil {
				return err
			}
			if u.Available {
				cmd.Printf("BuddyBot %s is available: %s\n", u.Latest, version.DownloadURL)
			} else {
				cmd.Println("BuddyBot is up to date")
			}
			return nil
		},
	}
)

func init() {
	versionCmd.PersistentFlags().BoolVar(&checkUpdate, "check", false, "check whether a newer release is available")
	versionCmd.PersistentFlags().StringVar(&versionURL, "version-url", version.DefaultVersionURL, "URL publishing the latest release version")
}
