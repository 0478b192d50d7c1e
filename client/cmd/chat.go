package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/buddybot/buddybot/client/internal/tokenstore"
	relayclient "github.com/buddybot/buddybot/relay/client"
	"github.com/buddybot/buddybot/relay/messages"
)

const (
	authTimeout      = 15 * time.Second
	defaultRobotName = "BuddyBot"
)

var (
	chatToken   string
	dialectName string
	speakDir    string
	robotName   string

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "ask BuddyBot questions, one per line",
		RunE:  chatFunc,
	}
)

func init() {
	chatCmd.PersistentFlags().StringVar(&chatToken, "token", "", "session token, defaults to the one stored by login")
	chatCmd.PersistentFlags().StringVar(&dialectName, "dialect", messages.QueryDialect.Name(), "relay protocol dialect [query|ai_request]")
	chatCmd.PersistentFlags().StringVar(&speakDir, "speak-dir", "", "ask the relay to speak every answer and save the audio in this directory")
	chatCmd.PersistentFlags().StringVar(&robotName, "robot-name", defaultRobotName, "name the robot greets you with and answers under")
}

// asker is the part of the relay client the chat loop needs
type asker interface {
	Ask(ctx context.Context, text string) (string, error)
	Speak(ctx context.Context, text string) (*messages.AudioPayload, error)
}

func chatFunc(cmd *cobra.Command, args []string) error {
	token, err := sessionToken()
	if err != nil {
		return err
	}
	dialect, err := messages.DialectByName(dialectName)
	if err != nil {
		return err
	}
	wsURL, err := getRelayURL()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := relayclient.NewClient(ctx, wsURL, relayclient.WithDialect(dialect), relayclient.WithToken(token))
	defer c.Disconnect()

	c.OnStatusChange(func(s relayclient.Status) {
		log.Debugf("relay status: %s", s)
	})
	c.OnClose(func(ev relayclient.CloseEvent) {
		if !ev.Clean {
			cmd.PrintErrf("connection to BuddyBot lost: %v\n", ev.Err)
		}
	})

	if err := waitAuthenticated(ctx, c); err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		cmd.Println("Connected to the relay, type /quit to leave.")
	}
	return chatLoop(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout(), robotName, speakDir, interactive)
}

func sessionToken() (string, error) {
	if chatToken != "" {
		return chatToken, nil
	}

	store, err := openTokenStore()
	if err != nil {
		return "", err
	}
	session, err := store.Load()
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoSession) {
			return "", err
		}
		return "", fmt.Errorf("load session: %v", err)
	}
	return session.Token, nil
}

// waitAuthenticated connects the client and waits for the relay to accept the cached token
func waitAuthenticated(ctx context.Context, c *relayclient.Client) error {
	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	success := c.OnAuthSuccess(func() {
		report(nil)
	})
	defer success.Unsubscribe()
	failure := c.OnAuthFailure(func(reason string) {
		report(fmt.Errorf("authentication failed: %s", reason))
	})
	defer failure.Unsubscribe()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect to relay: %v", err)
	}

	timer := time.NewTimer(authTimeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return errors.New("relay did not answer the authentication request")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func chatLoop(ctx context.Context, c asker, in io.Reader, out io.Writer, name, speakDir string, interactive bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultRobotName
	}
	_, _ = fmt.Fprintf(out, "%s: Hi! I'm %s. Ask me any educational question!\n", name, name)

	prompt := func() {
		if interactive {
			_, _ = fmt.Fprint(out, "> ")
		}
	}

	scanner := bufio.NewScanner(in)
	spoken := 0
	prompt()
	for scanner.Scan() {
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			prompt()
			continue
		case "/quit", "/exit":
			return nil
		}

		answer, err := c.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_, _ = fmt.Fprintf(out, "%s could not answer: %v\n", name, err)
			prompt()
			continue
		}
		_, _ = fmt.Fprintf(out, "%s: %s\n", name, answer)

		if speakDir != "" {
			spoken++
			path, err := saveSpeech(ctx, c, answer, speakDir, spoken)
			if err != nil {
				_, _ = fmt.Fprintf(out, "%s could not speak: %v\n", name, err)
			} else {
				_, _ = fmt.Fprintf(out, "(audio saved to %s)\n", path)
			}
		}
		prompt()
	}
	return scanner.Err()
}

func saveSpeech(ctx context.Context, c asker, text, dir string, n int) (string, error) {
	audio, err := c.Speak(ctx, text)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create speech dir: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("answer-%03d%s", n, audioExtension(audio.ContentType)))
	if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %v", err)
	}
	return path, nil
}

func audioExtension(contentType string) string {
	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
