package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/buddybot/buddybot/client/internal/auth"
	"github.com/buddybot/buddybot/client/internal/tokenstore"
	"github.com/buddybot/buddybot/util"
)

const (
	defaultServerURL = "http://localhost:8080"
	relayPath        = "/ws"
)

var (
	serverURL string
	relayURL  string
	logLevel  string
	logFile   string
	rootCmd   = &cobra.Command{
		Use:          "buddybot",
		Short:        "chat with BuddyBot from the terminal",
		SilenceUsage: true,
	}

	// openTokenStore is replaced in tests
	openTokenStore = tokenstore.Open
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentPreRunE = setupCmd

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server-url", "u", defaultServerURL, "BuddyBot relay server URL [http|https]://[host]:[port]")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay-url", "", "realtime relay URL [ws|wss]://[host]:[port]/ws (default derived from --server-url)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "sets BuddyBot log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets BuddyBot log path. If console is specified the log will be output to stderr")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupCmd(cmd *cobra.Command, args []string) error {
	util.SetFlagsFromEnvVars(rootCmd)
	util.SetFlagsFromEnvVars(cmd)
	cmd.SetOut(cmd.OutOrStdout())

	if err := util.InitLog(logLevel, logFile); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}
	return nil
}

// WithBackOff execute function in backoff cycle.
func WithBackOff(bf func() error) error {
	return backoff.RetryNotify(bf, CLIBackOffSettings(), func(err error, duration time.Duration) {
		log.Warnf("retrying request to the BuddyBot server in %v due to error %v", duration, err)
	})
}

// CLIBackOffSettings is default backoff settings for CLI commands.
var CLIBackOffSettings = func() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// retryable keeps retrying transport failures only, a rejected request is final
func retryable(err error) error {
	var apiErr *auth.APIError
	if errors.As(err, &apiErr) || errors.Is(err, auth.ErrNoToken) {
		return backoff.Permanent(err)
	}
	return err
}

// getRelayURL returns --relay-url or derives the WebSocket endpoint from the server URL
func getRelayURL() (string, error) {
	if relayURL != "" {
		return relayURL, nil
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %v", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + relayPath
	return u.String(), nil
}
