package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/buddybot/buddybot/relay/messages"
)

type requestKind int

const (
	kindMessage requestKind = iota
	kindQuery
	kindSpeak
)

type reply struct {
	msg messages.Message
	err error
}

// pendingRequest is the single outstanding correlated request
type pendingRequest struct {
	id   string
	kind requestKind
	// detached requests have no waiting caller, failures go to the error handlers
	detached bool
	result   chan reply
	timer    *time.Timer
}

func newPendingRequest(kind requestKind, id string, detached bool) *pendingRequest {
	if id == "" {
		id = uuid.NewString()
	}
	return &pendingRequest{
		id:       id,
		kind:     kind,
		detached: detached,
		result:   make(chan reply, 1),
	}
}

// matches tells whether msg is the reply to this request. Legacy relays do not echo the request id on answers.
func (p *pendingRequest) matches(msg messages.Message, dialect messages.Dialect) bool {
	if msg.RequestID != "" {
		return msg.RequestID == p.id
	}

	switch p.kind {
	case kindQuery:
		return dialect.IsAnswer(msg.Type)
	case kindSpeak:
		return msg.Type == messages.TypeAudio
	default:
		return false
	}
}

func (p *pendingRequest) resolve(r reply) {
	if p.timer != nil {
		p.timer.Stop()
	}
	select {
	case p.result <- r:
	default:
	}
}
