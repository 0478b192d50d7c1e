package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/buddybot/buddybot/assistant"
	"github.com/buddybot/buddybot/relay/auth"
	"github.com/buddybot/buddybot/relay/auth/jwt"
	"github.com/buddybot/buddybot/relay/client/dialer/ws"
	"github.com/buddybot/buddybot/relay/healthcheck"
	"github.com/buddybot/buddybot/relay/messages"
	"github.com/buddybot/buddybot/relay/metrics"
	"github.com/buddybot/buddybot/speech"
)

const (
	DefaultQueriesPerMinute = 20
	DefaultAnswerTimeout    = 30 * time.Second
)

// Config is the configuration of the relay server
type Config struct {
	// ExposedAddress is the address clients use to reach the relay, used for logging and the health endpoint
	ExposedAddress string
	TLSSupport     bool

	// Validator checks the tokens sent in auth messages. Defaults to Tokens when set.
	Validator auth.Validator
	// Tokens issues session tokens on register and login. Without it the REST auth routes are not served.
	Tokens   *jwt.Manager
	Accounts *Accounts

	Answerer    assistant.Answerer
	Synthesizer speech.Synthesizer
	Metrics     *metrics.Metrics

	QueriesPerMinute int
	AnswerTimeout    time.Duration
	// PingInterval makes the server ping its peers. When zero the server only expects the peers' heartbeats.
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration

	AllowedOrigins []string
}

func (c *Config) validate() error {
	if c.Validator == nil && c.Tokens == nil {
		return errors.New("no token validator configured")
	}
	if c.Answerer == nil {
		return errors.New("no answer backend configured")
	}
	return nil
}

// Server serves the realtime relay and the account endpoints
type Server struct {
	store       *Store
	peerCfg     *peerConfig
	tokens      *jwt.Manager
	accounts    *Accounts
	instanceURL string
	origins     []string
	metrics     *metrics.Metrics

	handler    http.Handler
	httpServer *http.Server

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup

	closed  bool
	closeMu sync.RWMutex
}

func NewServer(config Config) (*Server, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	validator := config.Validator
	if validator == nil {
		validator = config.Tokens
	}
	if config.QueriesPerMinute == 0 {
		config.QueriesPerMinute = DefaultQueriesPerMinute
	}
	if config.AnswerTimeout <= 0 {
		config.AnswerTimeout = DefaultAnswerTimeout
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = healthcheck.DefaultHeartbeatTimeout
	}
	if config.Accounts == nil {
		config.Accounts = NewAccounts()
	}

	instanceURL := ""
	if config.ExposedAddress != "" {
		u, err := getInstanceURL(config.ExposedAddress, config.TLSSupport)
		if err != nil {
			return nil, err
		}
		instanceURL = u
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store: NewStore(),
		peerCfg: &peerConfig{
			validator:        validator,
			answerer:         config.Answerer,
			synthesizer:      config.Synthesizer,
			metrics:          config.Metrics,
			queriesPerMinute: config.QueriesPerMinute,
			answerTimeout:    config.AnswerTimeout,
			pingInterval:     config.PingInterval,
			heartbeatTimeout: config.HeartbeatTimeout,
		},
		tokens:      config.Tokens,
		accounts:    config.Accounts,
		instanceURL: instanceURL,
		origins:     config.AllowedOrigins,
		metrics:     config.Metrics,
		ctx:         ctx,
		ctxCancel:   cancel,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(requestMiddleware)
	router.HandleFunc(wsPath, s.handleWS).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.tokens != nil {
		authRouter := router.PathPrefix("/auth").Subrouter()
		authRouter.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost, http.MethodOptions)
		authRouter.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
		authRouter.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost, http.MethodOptions)
	}

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: len(s.origins) > 0,
	})
	return corsMiddleware.Handler(router)
}

// Handler returns the HTTP handler of the relay
func (s *Server) Handler() http.Handler {
	return s.handler
}

// InstanceURL returns the WebSocket URL clients should use
func (s *Server) InstanceURL() string {
	return s.instanceURL
}

// Listen serves the relay on address until Shutdown is called. With a TLS config the relay is served over HTTPS.
func (s *Server) Listen(address string, tlsConfig *tls.Config) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.closeMu.Unlock()

	if s.instanceURL != "" {
		log.Infof("relay server is listening on %s, instance url: %s", address, s.instanceURL)
	} else {
		log.Infof("relay server is listening on %s", address)
	}

	var err error
	if tlsConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and closes every peer with a normal closure
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	s.closeMu.Unlock()

	var merr *multierror.Error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("http server: %w", err))
		}
	}

	log.Infof("close connection with all peers")
	wg := sync.WaitGroup{}
	for _, peer := range s.store.Peers() {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			p.CloseGracefully(ctx)
		}(peer)
	}
	wg.Wait()

	s.ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		merr = multierror.Append(merr, fmt.Errorf("wait for peers: %w", ctx.Err()))
	}

	return merr.ErrorOrNil()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.closeMu.RUnlock()
	defer s.wg.Done()

	acceptOpts := &websocket.AcceptOptions{OriginPatterns: s.originPatterns()}
	wsConn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		log.Errorf("failed to accept ws connection: %s", err)
		return
	}
	wsConn.SetReadLimit(messages.MaxMessageSize)

	peer := NewPeer(s.ctx, s.peerCfg, ws.NewConn(wsConn, r.RemoteAddr))
	peer.log.Infof("peer connected from: %s", r.RemoteAddr)
	s.store.AddPeer(peer)
	if s.metrics != nil {
		s.metrics.PeerConnected(peer.String())
	}

	peer.Work()

	_ = wsConn.CloseNow()
	s.store.DeletePeer(peer)
	if s.metrics != nil {
		s.metrics.PeerDisconnected(peer.String())
	}
	peer.log.Debugf("relay connection closed")
}

func (s *Server) originPatterns() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	var patterns []string
	for _, o := range s.origins {
		if o == "*" {
			return []string{"*"}
		}
		patterns = append(patterns, hostOf(o))
	}
	return patterns
}

type healthResponse struct {
	Status      string `json:"status"`
	Peers       int    `json:"peers"`
	InstanceURL string `json:"instanceUrl,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONObject(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Peers:       s.store.Len(),
		InstanceURL: s.instanceURL,
	})
}
