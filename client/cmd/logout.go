package cmd

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/buddybot/buddybot/client/internal/auth"
	"github.com/buddybot/buddybot/client/internal/tokenstore"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "log out and remove the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openTokenStore()
		if err != nil {
			return err
		}

		session, err := store.Load()
		if errors.Is(err, tokenstore.ErrNoSession) {
			cmd.Println("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		// the token is dropped locally even when the server can't be reached
		if err := auth.NewClient(serverURL, nil).Logout(ctx, session.Token); err != nil {
			log.Warnf("failed to notify the server about the logout: %v", err)
		}

		if err := store.Delete(); err != nil {
			return fmt.Errorf("logout: %v", err)
		}

		cmd.Println("Logged out successfully")
		return nil
	},
}
