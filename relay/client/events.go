package client

import (
	"sync"

	"github.com/buddybot/buddybot/relay/messages"
)

// CloseEvent describes the end of a relay connection
type CloseEvent struct {
	// Clean is true when the connection was closed on purpose by either side
	Clean bool
	// Err is the transport failure of an unclean close
	Err error
}

// Response is an answer delivered by the relay
type Response struct {
	RequestID string
	Text      string
}

// Subscription is returned by the On* registration methods
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Calling it more than once has no effect.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type handlerEntry[T any] struct {
	id uint64
	fn func(T)
}

// handlerList keeps the handlers of one event kind in registration order
type handlerList[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers []handlerEntry[T]
}

func (l *handlerList[T]) add(fn func(T)) *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.handlers = append(l.handlers, handlerEntry[T]{id: id, fn: fn})
	return &Subscription{cancel: func() { l.remove(id) }}
}

func (l *handlerList[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return
		}
	}
}

// fire calls a snapshot of the handlers, a handler may unsubscribe itself while running
func (l *handlerList[T]) fire(v T) {
	l.mu.Lock()
	snapshot := make([]handlerEntry[T], len(l.handlers))
	copy(snapshot, l.handlers)
	l.mu.Unlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}

type events struct {
	open        handlerList[struct{}]
	close       handlerList[CloseEvent]
	err         handlerList[error]
	message     handlerList[messages.Message]
	authSuccess handlerList[struct{}]
	authFailure handlerList[string]
	response    handlerList[Response]
	status      handlerList[Status]
}

// OnOpen registers a handler called every time a connection is established
func (c *Client) OnOpen(fn func()) *Subscription {
	return c.events.open.add(func(struct{}) { fn() })
}

// OnClose registers a handler called when a connection ends
func (c *Client) OnClose(fn func(CloseEvent)) *Subscription {
	return c.events.close.add(fn)
}

// OnError registers a handler for transport failures, relay reported errors and request timeouts
func (c *Client) OnError(fn func(error)) *Subscription {
	return c.events.err.add(fn)
}

// OnMessage registers a handler receiving every well-formed inbound message
func (c *Client) OnMessage(fn func(messages.Message)) *Subscription {
	return c.events.message.add(fn)
}

func (c *Client) OnAuthSuccess(fn func()) *Subscription {
	return c.events.authSuccess.add(func(struct{}) { fn() })
}

// OnAuthFailure registers a handler receiving the reason reported by the relay
func (c *Client) OnAuthFailure(fn func(reason string)) *Subscription {
	return c.events.authFailure.add(fn)
}

// OnResponse registers a handler receiving every answer to a question
func (c *Client) OnResponse(fn func(Response)) *Subscription {
	return c.events.response.add(fn)
}

// OnStatusChange registers a handler called on every status transition
func (c *Client) OnStatusChange(fn func(Status)) *Subscription {
	return c.events.status.add(fn)
}
