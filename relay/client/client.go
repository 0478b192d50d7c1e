package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/buddybot/buddybot/relay/healthcheck"
	"github.com/buddybot/buddybot/relay/messages"
)

// connectAttempt is shared by every caller waiting for the same dial
type connectAttempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{done: make(chan struct{})}
}

func (a *connectAttempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *connectAttempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Client is a realtime connection to the BuddyBot relay. It owns at most one transport at a time, keeps it alive with
// heartbeats, authenticates it and reconnects with exponential backoff after an unclean close.
type Client struct {
	log     *log.Entry
	ctx     context.Context
	url     string
	opts    options
	dialect messages.Dialect

	mu            sync.Mutex // protects the fields below
	status        Status
	session       *session
	attempt       *connectAttempt
	token         string
	authenticated bool
	inflight      *pendingRequest
	guard         *Guard

	events events
}

// NewClient creates a disconnected client. When ctx is canceled the client disconnects and stops reconnecting.
func NewClient(ctx context.Context, url string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = WebsocketDialer(o.header, o.dialTimeout)
	}

	logger := log.WithField("relay", url)
	c := &Client{
		log:     logger,
		ctx:     ctx,
		url:     url,
		opts:    o,
		dialect: o.dialect,
		status:  StatusDisconnected,
		token:   o.token,
		guard:   NewGuard(logger, o.reconnectBase, o.reconnectCap, o.reconnectJitter, o.maxReconnectAttempts),
	}
	context.AfterFunc(ctx, c.Disconnect)
	return c
}

// Connect opens the transport. It returns immediately when already connected and joins the running attempt when a
// dial is in progress. An explicit Connect restores the full reconnect budget.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	if a := c.attempt; a != nil {
		c.mu.Unlock()
		return a.wait(ctx)
	}

	c.guard.Reset()
	a, changed := c.startAttemptLocked()
	c.mu.Unlock()

	c.emitStatus(changed, StatusConnecting)
	return c.dial(ctx, a)
}

// Disconnect closes the transport gracefully, cancels any pending reconnect and fails the in-flight request.
// The cached token is kept for the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.guard.Stop()
	a := c.attempt
	c.attempt = nil
	s := c.session
	c.session = nil
	c.authenticated = false
	p := c.takeInflightLocked()
	changed := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if a != nil {
		a.finish(ErrDisconnected)
	}
	if s != nil {
		if err := s.close(); err != nil {
			c.log.Debugf("failed to close relay connection: %s", err)
		}
		c.log.Infof("disconnected from relay server")
	}
	if p != nil {
		p.resolve(reply{err: ErrDisconnected})
	}

	c.emitStatus(changed, StatusDisconnected)
	if s != nil {
		c.events.close.fire(CloseEvent{Clean: true})
	}
}

// Authenticate caches the token and sends it when connected. Without a connection the token is sent on the next open.
func (c *Client) Authenticate(token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	c.mu.Lock()
	c.token = token
	s := c.session
	c.mu.Unlock()

	if s == nil {
		c.log.Debugf("not connected, token will be sent on connect")
		return nil
	}
	return c.sendAuth(s, token)
}

// SendQuery sends a question without waiting for the answer. The answer is delivered to the OnResponse handlers, a
// timeout or a relay error to the OnError handlers.
func (c *Client) SendQuery(text string) error {
	msg, err := c.dialect.EncodeQuestion(text, "")
	if err != nil {
		return err
	}
	_, err = c.beginRequest(kindQuery, msg, true, true)
	return err
}

// Ask sends a question and waits for the answer
func (c *Client) Ask(ctx context.Context, text string) (string, error) {
	msg, err := c.dialect.EncodeQuestion(text, "")
	if err != nil {
		return "", err
	}
	p, err := c.beginRequest(kindQuery, msg, true, false)
	if err != nil {
		return "", err
	}

	r, err := c.await(ctx, p)
	if err != nil {
		return "", err
	}
	if !c.dialect.IsAnswer(r.Type) {
		return "", &UnexpectedReplyError{RequestID: p.id, Type: string(r.Type)}
	}
	return c.dialect.DecodeAnswer(r)
}

// Speak asks the relay to synthesize text and waits for the audio
func (c *Client) Speak(ctx context.Context, text string) (*messages.AudioPayload, error) {
	msg, err := messages.NewMessage(messages.TypeSpeak, messages.SpeakPayload{Text: text}, "")
	if err != nil {
		return nil, err
	}
	p, err := c.beginRequest(kindSpeak, msg, true, false)
	if err != nil {
		return nil, err
	}

	r, err := c.await(ctx, p)
	if err != nil {
		return nil, err
	}
	if r.Type != messages.TypeAudio {
		return nil, &UnexpectedReplyError{RequestID: p.id, Type: string(r.Type)}
	}

	var audio messages.AudioPayload
	if err := r.DecodePayload(&audio); err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return &audio, nil
}

// SendMessage sends an arbitrary message. With a request id the message becomes the correlated in-flight request and
// the next message carrying the same id completes it.
func (c *Client) SendMessage(msgType messages.Type, payload any, requestID string) error {
	msg, err := messages.NewMessage(msgType, payload, requestID)
	if err != nil {
		return err
	}
	if requestID == "" {
		return c.send(msg)
	}
	_, err = c.beginRequest(kindMessage, msg, false, true)
	return err
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) startAttemptLocked() (*connectAttempt, bool) {
	a := newConnectAttempt()
	c.attempt = a
	return a, c.setStatusLocked(StatusConnecting)
}

func (c *Client) dial(ctx context.Context, a *connectAttempt) error {
	c.log.Debugf("connecting to relay server")
	transport, err := c.opts.dialer(ctx, c.url)

	c.mu.Lock()
	if c.attempt != a {
		// Disconnect won the race
		c.mu.Unlock()
		if err == nil {
			_ = transport.Abort()
		}
		a.finish(ErrDisconnected)
		return ErrDisconnected
	}
	c.attempt = nil

	if err != nil {
		c.setStatusLocked(StatusError)
		c.setStatusLocked(StatusDisconnected)
		if c.ctx.Err() == nil {
			c.guard.Schedule(c.reconnect)
		}
		c.mu.Unlock()

		c.log.Errorf("failed to connect to relay server: %s", err)
		c.emitStatus(true, StatusError)
		c.events.err.fire(err)
		c.emitStatus(true, StatusDisconnected)
		c.events.close.fire(CloseEvent{Err: err})
		a.finish(err)
		return err
	}

	s := newSession(c.ctx, transport, c.opts.writeTimeout)
	if c.opts.heartbeatInterval > 0 {
		s.hc = healthcheck.NewSenderWithOpts(c.log, healthcheck.SenderOptions{
			HealthCheckInterval: c.opts.heartbeatInterval,
			HealthCheckTimeout:  c.opts.heartbeatTimeout,
		})
	}
	c.session = s
	c.guard.Reset()
	changed := c.setStatusLocked(StatusConnected)
	token := c.token
	c.mu.Unlock()

	c.log.Infof("connected to relay server")
	c.emitStatus(changed, StatusConnected)
	c.events.open.fire(struct{}{})

	// auth goes out before anything the read loop or the heartbeat could write
	if token != "" {
		if err := c.sendAuth(s, token); err != nil {
			c.log.Errorf("failed to send auth message: %s", err)
		}
	}

	go c.readLoop(s)
	if s.hc != nil {
		go c.heartbeat(s)
	}

	a.finish(nil)
	return nil
}

func (c *Client) reconnect(generation uint64) {
	if c.ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	// Disconnect or Connect may have run while the timer was waiting for the lock
	if !c.guard.Claim(generation) || c.session != nil || c.attempt != nil {
		c.mu.Unlock()
		return
	}
	a, changed := c.startAttemptLocked()
	c.mu.Unlock()

	c.emitStatus(changed, StatusConnecting)

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.dialTimeout)
	defer cancel()
	if err := c.dial(ctx, a); err != nil {
		c.log.Errorf("failed to reconnect to relay server: %s", err)
	}
}

func (c *Client) readLoop(s *session) {
	for {
		data, err := s.transport.Read(s.ctx)
		if err != nil {
			c.onTransportClosed(s, s.closeCause(err))
			return
		}
		c.handleFrame(s, data)
	}
}

func (c *Client) heartbeat(s *session) {
	go s.hc.StartHealthCheck(s.ctx)
	c.watchHeartbeat(s)
}

// watchHeartbeat sends a ping on every health check signal and drops the session on timeout
func (c *Client) watchHeartbeat(s *session) {
	ping, err := messages.MarshalNew(messages.TypePing, nil, "")
	if err != nil {
		c.log.Errorf("failed to marshal ping: %s", err)
		return
	}

	for {
		select {
		case _, ok := <-s.hc.HealthCheck:
			if !ok {
				// the sender closes both channels when it stops, a buffered timeout may still be waiting
				select {
				case _, timedOut := <-s.hc.Timeout:
					if timedOut {
						c.heartbeatTimedOut(s)
					}
				default:
				}
				return
			}
			if err := s.write(ping); err != nil {
				c.log.Debugf("failed to send ping: %s", err)
			}
		case _, ok := <-s.hc.Timeout:
			if ok {
				c.heartbeatTimedOut(s)
			}
			return
		}
	}
}

func (c *Client) heartbeatTimedOut(s *session) {
	c.log.Warnf("relay connection is unresponsive, dropping it")
	c.events.err.fire(ErrHeartbeatTimeout)
	s.abort(ErrHeartbeatTimeout)
}

func (c *Client) onTransportClosed(s *session, cause error) {
	clean := errors.Is(cause, io.EOF)

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.authenticated = false
	p := c.takeInflightLocked()
	changed := c.setStatusLocked(StatusDisconnected)
	if !clean && c.ctx.Err() == nil {
		c.guard.Schedule(c.reconnect)
	}
	c.mu.Unlock()

	s.abort(cause)
	if clean {
		c.log.Infof("relay server closed the connection")
	} else {
		c.log.Warnf("relay connection lost: %s", cause)
	}

	if p != nil {
		p.resolve(reply{err: ErrDisconnected})
	}
	c.emitStatus(changed, StatusDisconnected)

	ev := CloseEvent{Clean: clean}
	if !clean {
		ev.Err = cause
	}
	c.events.close.fire(ev)
}

func (c *Client) handleFrame(s *session, data []byte) {
	msg, err := messages.Unmarshal(data)
	if err != nil {
		c.log.Warnf("discarding message from relay: %s", err)
		return
	}

	// any traffic proves the connection is alive
	s.ackHeartbeat()

	switch {
	case msg.Type == messages.TypePing:
		if err := c.writeMessage(s, messages.TypePong, msg.RequestID); err != nil {
			c.log.Debugf("failed to answer ping: %s", err)
		}
	case msg.Type == messages.TypePong:
	case msg.Type == messages.TypeAuthResult:
		c.handleAuthResult(s, msg)
	case msg.Type == messages.TypeError:
		c.handleServerError(msg)
	case c.dialect.IsAnswer(msg.Type):
		c.handleAnswer(msg)
	default:
		c.resolvePending(msg, nil)
	}

	c.events.message.fire(msg)
}

func (c *Client) handleAuthResult(s *session, msg messages.Message) {
	var res messages.AuthResultPayload
	if err := msg.DecodePayload(&res); err != nil {
		c.log.Warnf("discarding auth result: %s", err)
		return
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.authenticated = res.Success
	var changed bool
	if res.Success {
		changed = c.setStatusLocked(StatusAuthenticated)
	} else {
		changed = c.setStatusLocked(StatusConnected)
	}
	c.mu.Unlock()

	if res.Success {
		c.log.Infof("authenticated with relay server")
		c.emitStatus(changed, StatusAuthenticated)
		c.events.authSuccess.fire(struct{}{})
		return
	}

	c.log.Warnf("relay rejected authentication: %s", res.Error)
	c.emitStatus(changed, StatusConnected)
	c.events.authFailure.fire(res.Error)
}

func (c *Client) handleServerError(msg messages.Message) {
	var payload messages.ErrorPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.log.Warnf("discarding error message: %s", err)
		return
	}

	srvErr := &ServerError{RequestID: msg.RequestID, Message: payload.Message}
	c.log.Warnf("%s", srvErr)
	c.resolvePending(msg, srvErr)
	c.events.err.fire(srvErr)
}

func (c *Client) handleAnswer(msg messages.Message) {
	text, err := c.dialect.DecodeAnswer(msg)
	if err != nil {
		c.log.Warnf("discarding answer: %s", err)
		return
	}

	c.resolvePending(msg, nil)
	c.events.response.fire(Response{RequestID: msg.RequestID, Text: text})
}

// resolvePending completes the in-flight request when msg is its reply
func (c *Client) resolvePending(msg messages.Message, err error) {
	c.mu.Lock()
	p := c.inflight
	if p == nil || !p.matches(msg, c.dialect) {
		c.mu.Unlock()
		return
	}
	c.inflight = nil
	c.mu.Unlock()

	p.resolve(reply{msg: msg, err: err})
}

// beginRequest registers the in-flight request and writes msg. Only one correlated request may be outstanding.
func (c *Client) beginRequest(kind requestKind, msg messages.Message, needsAuth, detached bool) (*pendingRequest, error) {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if needsAuth && !c.authenticated {
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	if c.inflight != nil {
		c.mu.Unlock()
		return nil, ErrRequestInProgress
	}

	p := newPendingRequest(kind, msg.RequestID, detached)
	msg.RequestID = p.id
	if c.opts.requestTimeout > 0 {
		p.timer = time.AfterFunc(c.opts.requestTimeout, func() { c.expire(p) })
	}
	c.inflight = p
	c.mu.Unlock()

	data, err := messages.Marshal(msg)
	if err == nil {
		err = s.write(data)
	}
	if err != nil {
		c.dropPending(p)
		return nil, err
	}
	return p, nil
}

func (c *Client) await(ctx context.Context, p *pendingRequest) (messages.Message, error) {
	select {
	case r := <-p.result:
		return r.msg, r.err
	case <-ctx.Done():
		c.dropPending(p)
		return messages.Message{}, ctx.Err()
	}
}

func (c *Client) expire(p *pendingRequest) {
	c.mu.Lock()
	if c.inflight != p {
		c.mu.Unlock()
		return
	}
	c.inflight = nil
	c.mu.Unlock()

	err := fmt.Errorf("%w: %s", ErrRequestTimeout, p.id)
	c.log.Warnf("%s", err)
	p.resolve(reply{err: err})
	if p.detached {
		c.events.err.fire(err)
	}
}

func (c *Client) dropPending(p *pendingRequest) {
	c.mu.Lock()
	if c.inflight == p {
		c.inflight = nil
	}
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
}

func (c *Client) takeInflightLocked() *pendingRequest {
	p := c.inflight
	c.inflight = nil
	return p
}

func (c *Client) sendAuth(s *session, token string) error {
	data, err := messages.MarshalNew(messages.TypeAuth, messages.AuthPayload{Token: token}, "")
	if err != nil {
		return err
	}
	return s.write(data)
}

func (c *Client) send(msg messages.Message) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	data, err := messages.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (c *Client) writeMessage(s *session, msgType messages.Type, requestID string) error {
	data, err := messages.MarshalNew(msgType, nil, requestID)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (c *Client) setStatusLocked(st Status) bool {
	if c.status == st {
		return false
	}
	c.status = st
	return true
}

func (c *Client) emitStatus(changed bool, st Status) {
	if !changed {
		return
	}
	c.log.Debugf("relay client status: %s", st)
	c.events.status.fire(st)
}
