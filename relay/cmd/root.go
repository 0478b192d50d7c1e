package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/buddybot/buddybot/assistant"
	"github.com/buddybot/buddybot/encryption"
	"github.com/buddybot/buddybot/relay/auth"
	"github.com/buddybot/buddybot/relay/auth/jwt"
	"github.com/buddybot/buddybot/relay/metrics"
	"github.com/buddybot/buddybot/relay/server"
	"github.com/buddybot/buddybot/speech"
	"github.com/buddybot/buddybot/util"
	"github.com/buddybot/buddybot/version"
)

const shutdownTimeout = 30 * time.Second

type Config struct {
	ConfigFile    string
	ListenAddress string
	// the address clients use to reach the relay, it is a domain:port or ip:port
	ExposedAddress     string
	MetricsPort        int
	LetsencryptDataDir string
	LetsencryptDomains []string
	TlsCertFile        string
	TlsKeyFile         string
	AuthSecret         string
	TokenTTL           time.Duration
	// DevAuth accepts any non empty token, never enable it on a public relay
	DevAuth  bool
	LogLevel string
	LogFile  string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	AnswerCache   time.Duration

	ElevenLabsKey     string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string

	QueriesPerMinute int
	AnswerTimeout    time.Duration
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
	AllowedOrigins   []string
}

func (c Config) Validate() error {
	if c.AuthSecret == "" && !c.DevAuth {
		return fmt.Errorf("auth secret is required")
	}
	if (c.TlsCertFile == "") != (c.TlsKeyFile == "") {
		return fmt.Errorf("both --tls-cert-file and --tls-key-file are required for TLS")
	}
	if c.HasCertConfig() && c.HasLetsEncrypt() {
		return fmt.Errorf("file based TLS and Let's Encrypt are mutually exclusive")
	}
	if c.QueriesPerMinute < 0 {
		return fmt.Errorf("queries per minute must not be negative")
	}
	return nil
}

func (c Config) HasCertConfig() bool {
	return c.TlsCertFile != "" && c.TlsKeyFile != ""
}

func (c Config) HasLetsEncrypt() bool {
	return c.LetsencryptDataDir != "" && len(c.LetsencryptDomains) > 0
}

var (
	cobraConfig *Config
	rootCmd     = &cobra.Command{
		Use:           "buddybot-relay",
		Short:         "BuddyBot relay service",
		Long:          "Realtime relay between BuddyBot clients and the answer and speech providers",
		Version:       version.BuddyBotVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       loadConfigFile,
		RunE:          execute,
	}
)

func init() {
	_ = util.InitLog("info", util.LogConsole)
	cobraConfig = &Config{}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cobraConfig.ConfigFile, "config", "", "YAML config file, keys are flag names")
	flags.StringVarP(&cobraConfig.ListenAddress, "listen-address", "l", ":8080", "listen address")
	flags.StringVarP(&cobraConfig.ExposedAddress, "exposed-address", "e", "", "instance domain address (or ip) and port clients use to reach the relay")
	flags.IntVar(&cobraConfig.MetricsPort, "metrics-port", 9090, "metrics endpoint http port. Metrics are accessible under host:metrics-port/metrics")
	flags.StringVarP(&cobraConfig.LetsencryptDataDir, "letsencrypt-data-dir", "d", "", "a directory to store Let's Encrypt data. Required if Let's Encrypt is enabled.")
	flags.StringSliceVarP(&cobraConfig.LetsencryptDomains, "letsencrypt-domains", "a", nil, "list of domains to issue Let's Encrypt certificate for. Enables TLS using Let's Encrypt")
	flags.StringVarP(&cobraConfig.TlsCertFile, "tls-cert-file", "c", "", "TLS certificate file")
	flags.StringVarP(&cobraConfig.TlsKeyFile, "tls-key-file", "k", "", "TLS key file")
	flags.StringVarP(&cobraConfig.AuthSecret, "auth-secret", "s", "", "secret used to sign session tokens")
	flags.DurationVar(&cobraConfig.TokenTTL, "token-ttl", jwt.DefaultTokenTTL, "lifetime of issued session tokens")
	flags.BoolVar(&cobraConfig.DevAuth, "dev-auth", false, "accept any token, for local development only")
	flags.StringVar(&cobraConfig.LogLevel, "log-level", "info", "log level")
	flags.StringVar(&cobraConfig.LogFile, "log-file", util.LogConsole, "log file")
	flags.StringVar(&cobraConfig.OpenAIKey, "openai-api-key", "", "OpenAI API key. Without it the relay answers with demo answers")
	flags.StringVar(&cobraConfig.OpenAIBaseURL, "openai-base-url", assistant.DefaultOpenAIURL, "OpenAI API base URL")
	flags.StringVar(&cobraConfig.OpenAIModel, "openai-model", assistant.DefaultOpenAIModel, "chat completions model")
	flags.DurationVar(&cobraConfig.AnswerCache, "answer-cache-ttl", 10*time.Minute, "how long answers are reused for the same question, 0 disables the cache")
	flags.StringVar(&cobraConfig.ElevenLabsKey, "elevenlabs-api-key", "", "ElevenLabs API key. Without it speech requests are refused")
	flags.StringVar(&cobraConfig.ElevenLabsBaseURL, "elevenlabs-base-url", speech.DefaultElevenLabsURL, "ElevenLabs API base URL")
	flags.StringVar(&cobraConfig.ElevenLabsVoiceID, "elevenlabs-voice-id", speech.DefaultVoiceID, "default voice")
	flags.IntVar(&cobraConfig.QueriesPerMinute, "queries-per-minute", server.DefaultQueriesPerMinute, "questions a single connection may ask per minute, 0 disables the limit")
	flags.DurationVar(&cobraConfig.AnswerTimeout, "answer-timeout", server.DefaultAnswerTimeout, "deadline for the answer and speech providers")
	flags.DurationVar(&cobraConfig.PingInterval, "ping-interval", 0, "ping connected clients at this interval, 0 relies on the clients' heartbeat")
	flags.DurationVar(&cobraConfig.HeartbeatTimeout, "heartbeat-timeout", 0, "close connections silent for this long")
	flags.StringSliceVar(&cobraConfig.AllowedOrigins, "allowed-origins", nil, "origins allowed to open sessions, empty allows any")

	util.SetFlagsFromEnvVars(rootCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfigFile(cmd *cobra.Command, args []string) error {
	if cobraConfig.ConfigFile == "" {
		return nil
	}
	return setFlagsFromConfigFile(cmd.Flags(), cobraConfig.ConfigFile)
}

func execute(cmd *cobra.Command, args []string) error {
	err := cobraConfig.Validate()
	if err != nil {
		log.Debugf("invalid config: %s", err)
		return fmt.Errorf("invalid config: %s", err)
	}

	err = util.InitLog(cobraConfig.LogLevel, cobraConfig.LogFile)
	if err != nil {
		log.Debugf("failed to initialize log: %s", err)
		return fmt.Errorf("failed to initialize log: %s", err)
	}

	// Resource creation phase (fail fast before starting any goroutines)

	metricsServer, err := metrics.NewServer(cobraConfig.MetricsPort, "")
	if err != nil {
		log.Debugf("setup metrics: %v", err)
		return fmt.Errorf("setup metrics: %v", err)
	}

	tlsConfig, tlsSupport, err := handleTLSConfig(cobraConfig)
	if err != nil {
		log.Debugf("failed to setup TLS config: %s", err)
		return fmt.Errorf("failed to setup TLS config: %s", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := relayConfig(ctx, cobraConfig, metricsServer, tlsSupport)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create relay server: %v", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("running metrics server: %s%s", metricsServer.Addr, metricsServer.Endpoint)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Listen(cobraConfig.ListenAddress, tlsConfig); err != nil {
			return fmt.Errorf("failed to bind relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownServers(shutdownCtx, metricsServer, srv)
	})

	return g.Wait()
}

func relayConfig(ctx context.Context, c *Config, metricsServer *metrics.Server, tlsSupport bool) (server.Config, error) {
	relayMetrics, err := metrics.NewMetrics(ctx, metricsServer.Meter)
	if err != nil {
		return server.Config{}, fmt.Errorf("setup relay metrics: %v", err)
	}

	cfg := server.Config{
		ExposedAddress:   c.ExposedAddress,
		TLSSupport:       tlsSupport,
		Metrics:          relayMetrics,
		QueriesPerMinute: c.QueriesPerMinute,
		AnswerTimeout:    c.AnswerTimeout,
		PingInterval:     c.PingInterval,
		HeartbeatTimeout: c.HeartbeatTimeout,
		AllowedOrigins:   c.AllowedOrigins,
	}
	if c.QueriesPerMinute == 0 {
		// the server reads zero as unset
		cfg.QueriesPerMinute = -1
	}

	if c.AuthSecret != "" {
		cfg.Tokens, err = jwt.NewManager(c.AuthSecret, c.TokenTTL)
		if err != nil {
			return server.Config{}, fmt.Errorf("setup token manager: %v", err)
		}
	}
	if c.DevAuth {
		log.Warnf("development authentication is enabled, any token is accepted")
		cfg.Validator = &auth.AllowAllAuth{}
	}

	cfg.Answerer, err = createAnswerer(c)
	if err != nil {
		return server.Config{}, err
	}

	if c.ElevenLabsKey != "" {
		cfg.Synthesizer, err = speech.NewElevenLabs(speech.ElevenLabsConfig{
			APIKey:  c.ElevenLabsKey,
			BaseURL: c.ElevenLabsBaseURL,
			VoiceID: c.ElevenLabsVoiceID,
		}, nil)
		if err != nil {
			return server.Config{}, fmt.Errorf("setup speech: %v", err)
		}
	} else {
		log.Infof("no ElevenLabs API key configured, speech is disabled")
	}

	return cfg, nil
}

func createAnswerer(c *Config) (assistant.Answerer, error) {
	if c.OpenAIKey == "" {
		log.Warnf("no OpenAI API key configured, the relay answers with demo answers")
		return assistant.Demo{}, nil
	}

	openAI, err := assistant.NewOpenAI(assistant.OpenAIConfig{
		APIKey:  c.OpenAIKey,
		BaseURL: c.OpenAIBaseURL,
		Model:   c.OpenAIModel,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("setup answer backend: %v", err)
	}
	if c.AnswerCache <= 0 {
		return openAI, nil
	}
	return assistant.NewCached(openAI, c.AnswerCache), nil
}

func shutdownServers(ctx context.Context, metricsServer *metrics.Server, srv *server.Server) error {
	var errs error

	if err := srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close relay server: %w", err))
	}

	log.Infof("shutting down metrics server")
	if err := metricsServer.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
	}

	return errs
}

func handleTLSConfig(cfg *Config) (*tls.Config, bool, error) {
	if cfg.HasLetsEncrypt() {
		log.Infof("setting up TLS with Let's Encrypt.")
		certManager, err := encryption.CreateCertManager(cfg.LetsencryptDataDir, cfg.LetsencryptDomains...)
		if err != nil {
			return nil, false, fmt.Errorf("failed creating LetsEncrypt cert manager: %v", err)
		}
		return certManager.TLSConfig(), true, nil
	}

	if cfg.HasCertConfig() {
		log.Debugf("using file based TLS config")
		tlsCfg, err := encryption.LoadTLSConfig(cfg.TlsCertFile, cfg.TlsKeyFile)
		if err != nil {
			return nil, false, err
		}
		return tlsCfg, true, nil
	}
	return nil, false, nil
}
