package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/buddybot/buddybot/assistant"
	"github.com/buddybot/buddybot/relay/auth"
	"github.com/buddybot/buddybot/relay/client/dialer/ws"
	"github.com/buddybot/buddybot/relay/healthcheck"
	"github.com/buddybot/buddybot/relay/messages"
	"github.com/buddybot/buddybot/relay/metrics"
	"github.com/buddybot/buddybot/speech"
	"github.com/buddybot/buddybot/util"
)

const (
	errMsgNotAuthenticated = "not authenticated"
	errMsgInProgress       = "request in progress"
	errMsgRateLimited      = "too many questions, please slow down"
	errMsgInvalidMessage   = "invalid message"
	errMsgInvalidToken     = "Invalid token"
	errMsgNoSpeech         = "speech is not available"
	errMsgSpeechFailed     = "could not synthesize speech"

	writeTimeout = 10 * time.Second
)

// peerConfig is shared by every peer of a server
type peerConfig struct {
	validator        auth.Validator
	answerer         assistant.Answerer
	synthesizer      speech.Synthesizer
	metrics          *metrics.Metrics
	queriesPerMinute int
	answerTimeout    time.Duration
	pingInterval     time.Duration
	heartbeatTimeout time.Duration
}

// Peer represents a connected BuddyBot client
type Peer struct {
	log  *log.Entry
	id   string
	conn *ws.Conn
	cfg  *peerConfig

	limiter *rate.Limiter
	// busy is set while an answer or speech request is being served
	busy atomic.Bool

	identityMu sync.RWMutex
	identity   *auth.Identity

	writeMu sync.Mutex

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewPeer creates a new Peer instance
func NewPeer(ctx context.Context, cfg *peerConfig, conn *ws.Conn) *Peer {
	id := xid.New().String()
	ctx, cancel := context.WithCancel(ctx)

	var limiter *rate.Limiter
	if cfg.queriesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.queriesPerMinute)), cfg.queriesPerMinute)
	}

	logCtx := context.WithValue(util.WithLogSource(ctx, util.RelaySource), util.PeerIDKey, id)
	return &Peer{
		log:       log.WithContext(logCtx),
		id:        id,
		conn:      conn,
		cfg:       cfg,
		limiter:   limiter,
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// Work reads the messages of the peer until the connection is closed
func (p *Peer) Work() {
	defer p.ctxCancel()

	var hcSender *healthcheck.Sender
	var hcReceiver *healthcheck.Receiver
	if p.cfg.pingInterval > 0 {
		hcSender = healthcheck.NewSenderWithOpts(p.log, healthcheck.SenderOptions{
			HealthCheckInterval: p.cfg.pingInterval,
		})
		go hcSender.StartHealthCheck(p.ctx)
		go p.sendHealthChecks(hcSender)
	} else {
		hcReceiver = healthcheck.NewReceiver(p.log, p.cfg.heartbeatTimeout)
		defer hcReceiver.Stop()
		go p.watchHeartbeat(hcReceiver)
	}

	for {
		data, err := p.conn.Read(p.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debugf("peer closed the connection")
			} else if p.ctx.Err() == nil {
				p.log.Debugf("failed to read message: %s", err)
			}
			return
		}

		if hcSender != nil {
			hcSender.OnHCResponse()
		}
		if hcReceiver != nil {
			hcReceiver.Heartbeat()
		}
		if p.cfg.metrics != nil {
			p.cfg.metrics.PeerActivity(p.id)
		}

		p.handleMsg(data)
	}
}

// CloseGracefully closes the connection with a normal closure
func (p *Peer) CloseGracefully(ctx context.Context) {
	p.writeMu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.conn.Close(); err != nil {
			p.log.Debugf("failed to close connection gracefully: %s", err)
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = p.conn.Abort()
	}
	p.writeMu.Unlock()
	p.ctxCancel()
}

func (p *Peer) Close() {
	_ = p.conn.Abort()
	p.ctxCancel()
}

// String returns the peer ID
func (p *Peer) String() string {
	return p.id
}

// Identity returns the authenticated user or nil
func (p *Peer) Identity() *auth.Identity {
	p.identityMu.RLock()
	defer p.identityMu.RUnlock()
	return p.identity
}

func (p *Peer) handleMsg(data []byte) {
	msg, err := messages.Unmarshal(data)
	if err != nil {
		p.log.Debugf("%s", err)
		p.sendError("", errMsgInvalidMessage)
		return
	}

	switch msg.Type {
	case messages.TypePing:
		p.sendNew(messages.TypePong, nil, msg.RequestID)
	case messages.TypePong:
	case messages.TypeAuth:
		p.handleAuth(msg)
	case messages.TypeSpeak:
		p.handleSpeak(msg)
	default:
		dialect, ok := messages.DialectForQuestion(msg.Type)
		if !ok {
			p.log.Debugf("unsupported message type: %s", msg.Type)
			p.sendError(msg.RequestID, fmt.Sprintf("unsupported message type: %s", msg.Type))
			return
		}
		p.handleQuestion(dialect, msg)
	}
}

func (p *Peer) handleAuth(msg messages.Message) {
	var payload messages.AuthPayload
	if err := msg.DecodePayload(&payload); err != nil {
		p.sendAuthResult(false, errMsgInvalidToken)
		return
	}

	identity, err := p.cfg.validator.Validate(payload.Token)
	if err != nil {
		p.log.Debugf("failed to authenticate peer: %s", err)
		if p.cfg.metrics != nil {
			p.cfg.metrics.AuthFailed()
		}
		p.identityMu.Lock()
		p.identity = nil
		p.identityMu.Unlock()
		p.sendAuthResult(false, errMsgInvalidToken)
		return
	}

	p.identityMu.Lock()
	p.identity = identity
	p.identityMu.Unlock()

	p.log.WithField("user_id", identity.UserID).Infof("peer authenticated")
	p.sendAuthResult(true, "")
}

// admit applies the checks every question and speech request goes through.
// On success the peer is marked busy and the caller must release it.
func (p *Peer) admit(requestID string) bool {
	if p.Identity() == nil {
		p.sendError(requestID, errMsgNotAuthenticated)
		return false
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.sendError(requestID, errMsgRateLimited)
		return false
	}
	if !p.busy.CompareAndSwap(false, true) {
		p.sendError(requestID, errMsgInProgress)
		return false
	}
	return true
}

func (p *Peer) handleQuestion(dialect messages.Dialect, msg messages.Message) {
	question, err := dialect.DecodeQuestion(msg)
	if err != nil {
		p.sendError(msg.RequestID, errMsgInvalidMessage)
		return
	}
	if !p.admit(msg.RequestID) {
		return
	}
	if p.cfg.metrics != nil {
		p.cfg.metrics.QueryReceived(dialect.Name())
	}

	go p.answer(dialect, question, msg.RequestID)
}

func (p *Peer) answer(dialect messages.Dialect, question, requestID string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.answerTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.cfg.answerer.Answer(ctx, question)
	failed := err != nil
	if failed {
		p.log.Errorf("failed to answer question: %s", err)
		text = assistant.FallbackAnswer
	}
	if p.cfg.metrics != nil {
		p.cfg.metrics.AnswerDuration(time.Since(start), failed)
	}

	reply, err := dialect.EncodeAnswer(text, requestID)
	// release before replying, the client may ask again as soon as it has the answer
	p.busy.Store(false)
	if err != nil {
		p.log.Errorf("failed to encode answer: %s", err)
		p.sendError(requestID, errMsgInvalidMessage)
		return
	}
	p.send(reply)
}

func (p *Peer) handleSpeak(msg messages.Message) {
	var payload messages.SpeakPayload
	if err := msg.DecodePayload(&payload); err != nil {
		p.sendError(msg.RequestID, errMsgInvalidMessage)
		return
	}
	if p.cfg.synthesizer == nil {
		p.sendError(msg.RequestID, errMsgNoSpeech)
		return
	}
	if !p.admit(msg.RequestID) {
		return
	}

	go p.speak(payload, msg.RequestID)
}

func (p *Peer) speak(payload messages.SpeakPayload, requestID string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.answerTimeout)
	defer cancel()

	audio, err := p.cfg.synthesizer.Synthesize(ctx, payload.Text, payload.VoiceID)
	p.busy.Store(false)
	if err != nil {
		p.log.Errorf("failed to synthesize speech: %s", err)
		p.sendError(requestID, errMsgSpeechFailed)
		return
	}

	p.sendNew(messages.TypeAudio, messages.AudioPayload{ContentType: audio.ContentType, Data: audio.Data}, requestID)
}

func (p *Peer) sendHealthChecks(hc *healthcheck.Sender) {
	for {
		select {
		case _, ok := <-hc.HealthCheck:
			if !ok {
				return
			}
			p.sendNew(messages.TypePing, nil, "")
		case _, ok := <-hc.Timeout:
			if !ok {
				return
			}
			p.log.Errorf("peer did not answer health check, closing connection")
			p.Close()
			return
		}
	}
}

func (p *Peer) watchHeartbeat(hc *healthcheck.Receiver) {
	select {
	case _, ok := <-hc.OnTimeout:
		// closed without a value when the receiver is stopped on a regular disconnect
		if !ok {
			return
		}
		p.log.Errorf("peer did not send heartbeat in time, closing connection")
		p.Close()
	case <-p.ctx.Done():
	}
}

func (p *Peer) sendAuthResult(success bool, reason string) {
	p.sendNew(messages.TypeAuthResult, messages.AuthResultPayload{Success: success, Error: reason}, "")
}

func (p *Peer) sendError(requestID, reason string) {
	p.sendNew(messages.TypeError, messages.ErrorPayload{Message: reason}, requestID)
}

func (p *Peer) sendNew(msgType messages.Type, payload any, requestID string) {
	msg, err := messages.NewMessage(msgType, payload, requestID)
	if err != nil {
		p.log.Errorf("failed to create %s message: %s", msgType, err)
		return
	}
	p.send(msg)
}

func (p *Peer) send(msg messages.Message) {
	data, err := messages.Marshal(msg)
	if err != nil {
		p.log.Errorf("failed to marshal %s message: %s", msg.Type, err)
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, writeTimeout)
	defer cancel()
	if err := p.conn.Write(ctx, data); err != nil {
		p.log.Debugf("failed to write %s message: %s", msg.Type, err)
	}
}
