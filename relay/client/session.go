package client

import (
	"context"
	"sync"
	"time"

	"github.com/buddybot/buddybot/relay/healthcheck"
)

// session is the state bound to one transport. A new session is created for every successful dial.
type session struct {
	transport    Transport
	ctx          context.Context
	cancel       context.CancelFunc
	hc           *healthcheck.Sender
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  bool

	causeMu sync.Mutex
	cause   error
}

func newSession(parent context.Context, transport Transport, writeTimeout time.Duration) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		transport:    transport,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
	}
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return s.transport.Write(ctx, data)
}

// close runs the closing handshake. No write is started after it returns.
func (s *session) close() error {
	s.writeMu.Lock()
	s.closed = true
	err := s.transport.Close()
	s.writeMu.Unlock()

	s.cancel()
	return err
}

// abort drops the transport, the read loop reports cause as the close reason
func (s *session) abort(cause error) {
	s.causeMu.Lock()
	if s.cause == nil {
		s.cause = cause
	}
	s.causeMu.Unlock()

	_ = s.transport.Abort()
	s.cancel()
}

func (s *session) closeCause(readErr error) error {
	s.causeMu.Lock()
	defer s.causeMu.Unlock()
	if s.cause != nil {
		return s.cause
	}
	return readErr
}

func (s *session) ackHeartbeat() {
	if s.hc != nil {
		s.hc.OnHCResponse()
	}
}
