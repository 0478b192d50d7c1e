package client

import (
	"net/http"
	"time"

	"github.com/buddybot/buddybot/relay/healthcheck"
	"github.com/buddybot/buddybot/relay/messages"
)

const (
	DefaultReconnectBase        = time.Second
	DefaultReconnectCap         = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultRequestTimeout       = 30 * time.Second

	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 10 * time.Second
)

type options struct {
	dialer  Dialer
	dialect messages.Dialect
	token   string
	header  http.Header

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	reconnectBase        time.Duration
	reconnectCap         time.Duration
	reconnectJitter      float64
	maxReconnectAttempts int

	requestTimeout time.Duration
	writeTimeout   time.Duration
	dialTimeout    time.Duration
}

func defaultOptions() options {
	return options{
		dialect:              messages.QueryDialect,
		heartbeatInterval:    healthcheck.DefaultHealthCheckInterval,
		heartbeatTimeout:     healthcheck.DefaultHealthCheckTimeout,
		reconnectBase:        DefaultReconnectBase,
		reconnectCap:         DefaultReconnectCap,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		requestTimeout:       DefaultRequestTimeout,
		writeTimeout:         defaultWriteTimeout,
		dialTimeout:          defaultDialTimeout,
	}
}

type Option func(*options)

// WithDialer replaces the WebSocket dialer, mostly useful in tests
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithDialect selects the question/answer message shapes spoken by the relay
func WithDialect(d messages.Dialect) Option {
	return func(o *options) {
		if d != nil {
			o.dialect = d
		}
	}
}

// WithToken caches a token that is sent right after the first successful connect
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithHeader adds headers to the WebSocket upgrade request
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithHeartbeat sets the ping period and the pong deadline. A negative timeout disables missed heartbeat detection,
// a non-positive interval disables the heartbeat entirely.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = interval
		o.heartbeatTimeout = timeout
	}
}

// WithReconnect sets the backoff policy: the n-th retry waits min(base * 2^n, limit). Zero attempts disables
// automatic reconnection.
func WithReconnect(base, limit time.Duration, maxAttempts int) Option {
	return func(o *options) {
		o.reconnectBase = base
		o.reconnectCap = limit
		o.maxReconnectAttempts = maxAttempts
	}
}

// WithReconnectJitter randomizes reconnect delays by the given factor (0..1)
func WithReconnectJitter(factor float64) Option {
	return func(o *options) {
		o.reconnectJitter = factor
	}
}

// WithRequestTimeout bounds how long a correlated request waits for its reply
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}
