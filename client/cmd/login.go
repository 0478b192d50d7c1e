package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/buddybot/buddybot/client/internal/auth"
)

const (
	emailFlag    = "email"
	passwordFlag = "password"
	usernameFlag = "username"

	requestTimeout = 30 * time.Second
)

var (
	email    string
	password string
	username string

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "log in to BuddyBot and store the session token",
		RunE:  loginFunc,
	}

	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "create a BuddyBot account and store the session token",
		RunE:  registerFunc,
	}
)

func init() {
	loginCmd.PersistentFlags().StringVar(&email, emailFlag, "", "account email")
	loginCmd.PersistentFlags().StringVar(&password, passwordFlag, "", "account password, prompted when omitted")

	registerCmd.PersistentFlags().StringVar(&email, emailFlag, "", "account email")
	registerCmd.PersistentFlags().StringVar(&username, usernameFlag, "", "name BuddyBot calls you")
	registerCmd.PersistentFlags().StringVar(&password, passwordFlag, "", "account password, prompted when omitted")
}

func loginFunc(cmd *cobra.Command, args []string) error {
	if email == "" {
		return fmt.Errorf("--%s is required", emailFlag)
	}
	pass, err := readPassword(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client := auth.NewClient(serverURL, nil)
	var session *auth.Session
	err = WithBackOff(func() error {
		var err error
		session, err = client.Login(ctx, email, pass)
		return retryable(err)
	})
	if err != nil {
		return fmt.Errorf("login failed: %v", err)
	}

	if err := storeSession(session); err != nil {
		return err
	}
	cmd.Printf("Logged in as %s\n", displayName(session.User))
	return nil
}

func registerFunc(cmd *cobra.Command, args []string) error {
	if email == "" || username == "" {
		return fmt.Errorf("--%s and --%s are required", emailFlag, usernameFlag)
	}
	pass, err := readPassword(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client := auth.NewClient(serverURL, nil)
	var session *auth.Session
	err = WithBackOff(func() error {
		var err error
		session, err = client.Register(ctx, email, username, pass)
		return retryable(err)
	})
	if err != nil {
		return fmt.Errorf("registration failed: %v", err)
	}

	if err := storeSession(session); err != nil {
		return err
	}
	cmd.Printf("Welcome to BuddyBot, %s!\n", displayName(session.User))
	return nil
}

func storeSession(session *auth.Session) error {
	store, err := openTokenStore()
	if err != nil {
		return err
	}
	return store.Save(session)
}

// readPassword returns --password or prompts for it without echo
func readPassword(cmd *cobra.Command) (string, error) {
	if password != "" {
		return password, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1024))
		if err != nil {
			return "", fmt.Errorf("read password: %v", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	cmd.Print("Password: ")
	data, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %v", err)
	}
	if len(data) == 0 {
		return "", errors.New("password is required")
	}
	return string(data), nil
}

func displayName(user *auth.User) string {
	switch {
	case user == nil:
		return "unknown user"
	case user.Username != "":
		return user.Username
	default:
		return user.Email
	}
}
