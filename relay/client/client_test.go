package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buddybot/buddybot/relay/healthcheck"
	"github.com/buddybot/buddybot/relay/messages"
)

const testURL = "ws://relay.test/ws"

type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func newTestClient(t *testing.T, d *fakeDialer, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	base := []Option{
		WithDialer(d.dial),
		WithHeartbeat(time.Hour, -1),
		WithReconnect(10*time.Millisecond, 40*time.Millisecond, 3),
	}
	c := NewClient(ctx, testURL, append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c
}

func connect(t *testing.T, c *Client, d *fakeDialer) *fakeTransport {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	return d.next(t)
}

func authenticate(t *testing.T, c *Client, tr *fakeTransport) {
	t.Helper()
	require.NoError(t, c.Authenticate("token"))
	msg := tr.expectWrite(t)
	for msg.Type == messages.TypePing {
		msg = tr.expectWrite(t)
	}
	require.Equal(t, messages.TypeAuth, msg.Type)
	tr.send(t, messages.TypeAuthResult, messages.AuthResultPayload{Success: true}, "")
	require.Eventually(t, c.IsAuthenticated, 2*time.Second, 5*time.Millisecond)
}

func TestConnectIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	connect(t, c, d)
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Connect(context.Background()))
	}

	assert.Equal(t, 1, d.count())
	assert.Equal(t, StatusConnected, c.Status())
	assert.True(t, c.IsConnected())
}

func TestStatusSequence(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	statuses := &recorder[Status]{}
	c.OnStatusChange(statuses.add)
	opened := &recorder[struct{}]{}
	c.OnOpen(func() { opened.add(struct{}{}) })

	tr := connect(t, c, d)
	authenticate(t, c, tr)

	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusAuthenticated}, statuses.snapshot())
	assert.Equal(t, 1, opened.len())
	assert.Equal(t, StatusAuthenticated, c.Status())
}

func TestCachedTokenSentOnOpen(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithToken("cached"))

	tr := connect(t, c, d)

	msg := tr.expectWrite(t)
	require.Equal(t, messages.TypeAuth, msg.Type)
	var auth messages.AuthPayload
	require.NoError(t, msg.DecodePayload(&auth))
	assert.Equal(t, "cached", auth.Token)
}

func TestAuthenticateWhileDisconnected(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	require.NoError(t, c.Authenticate("later"))
	assert.Equal(t, 0, d.count())
	assert.False(t, c.IsAuthenticated())

	tr := connect(t, c, d)
	msg := tr.expectWrite(t)
	require.Equal(t, messages.TypeAuth, msg.Type)
	var auth messages.AuthPayload
	require.NoError(t, msg.DecodePayload(&auth))
	assert.Equal(t, "later", auth.Token)
}

func TestAuthenticateEmptyToken(t *testing.T) {
	c := newTestClient(t, newFakeDialer())
	assert.ErrorIs(t, c.Authenticate(""), ErrEmptyToken)
}

func TestAuthFailure(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	reasons := &recorder[string]{}
	c.OnAuthFailure(reasons.add)

	tr := connect(t, c, d)
	require.NoError(t, c.Authenticate("bad"))
	tr.expectWrite(t)
	tr.send(t, messages.TypeAuthResult, messages.AuthResultPayload{Success: false, Error: "Invalid token"}, "")

	require.Eventually(t, func() bool { return reasons.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Invalid token"}, reasons.snapshot())
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, StatusConnected, c.Status())
}

func TestQueryRequiresConnection(t *testing.T) {
	c := newTestClient(t, newFakeDialer())
	assert.ErrorIs(t, c.SendQuery("hello"), ErrNotConnected)
}

func TestQueryRequiresAuthentication(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)

	assert.ErrorIs(t, c.SendQuery("hello"), ErrNotAuthenticated)
	_, err := c.Ask(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	tr.expectNoWrite(t, 50*time.Millisecond)
}

func TestSingleRequestInFlight(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	responses := &recorder[Response]{}
	c.OnResponse(responses.add)

	require.NoError(t, c.SendQuery("what is the sun?"))
	query := tr.expectWrite(t)
	require.Equal(t, messages.TypeQuery, query.Type)
	require.NotEmpty(t, query.RequestID)

	assert.ErrorIs(t, c.SendQuery("second"), ErrRequestInProgress)
	tr.expectNoWrite(t, 50*time.Millisecond)

	tr.send(t, messages.TypeResponse, messages.ResponsePayload{Text: "A star."}, query.RequestID)
	require.Eventually(t, func() bool { return responses.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Response{RequestID: query.RequestID, Text: "A star."}, responses.snapshot()[0])

	require.NoError(t, c.SendQuery("third"))
	assert.Equal(t, messages.TypeQuery, tr.expectWrite(t).Type)
}

func TestAsk(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		query := tr.expectWrite(t)
		text, err := messages.QueryDialect.DecodeQuestion(query)
		if err != nil {
			return
		}
		tr.send(t, messages.TypeResponse, messages.ResponsePayload{Text: "echo: " + text}, query.RequestID)
	}()

	answer, err := c.Ask(context.Background(), "why is the sky blue?")
	require.NoError(t, err)
	assert.Equal(t, "echo: why is the sky blue?", answer)
}

func TestAnswerWithoutRequestID(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		tr.expectWrite(t)
		tr.send(t, messages.TypeResponse, messages.ResponsePayload{Text: "legacy"}, "")
	}()

	answer, err := c.Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "legacy", answer)
}

func TestAskServerError(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		query := tr.expectWrite(t)
		tr.send(t, messages.TypeError, messages.ErrorPayload{Message: "boom"}, query.RequestID)
	}()

	_, err := c.Ask(context.Background(), "hi")
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, "boom", srvErr.Message)
	assert.Eventually(t, func() bool { return c.SendQuery("again") == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestAskContextCanceled(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Ask(ctx, "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tr.expectWrite(t)
	assert.NoError(t, c.SendQuery("next"))
}

func TestRequestTimeout(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithRequestTimeout(50*time.Millisecond))
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	errs := &recorder[error]{}
	c.OnError(errs.add)

	require.NoError(t, c.SendQuery("slow"))
	tr.expectWrite(t)

	require.Eventually(t, func() bool { return errs.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, errs.snapshot()[0], ErrRequestTimeout)
	assert.NoError(t, c.SendQuery("next"))
}

func TestPingAnsweredWithPong(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)

	tr.send(t, messages.TypePing, nil, "")
	msg := tr.expectWrite(t)
	assert.Equal(t, messages.TypePong, msg.Type)
	assert.Empty(t, msg.Payload)
}

func TestHeartbeatSendsPing(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithHeartbeat(20*time.Millisecond, -1))
	tr := connect(t, c, d)

	assert.Equal(t, messages.TypePing, tr.expectWrite(t).Type)
	tr.send(t, messages.TypePong, nil, "")
	assert.Equal(t, messages.TypePing, tr.expectWrite(t).Type)
}

func TestHeartbeatTimeoutReconnects(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithHeartbeat(30*time.Millisecond, 30*time.Millisecond))

	errs := &recorder[error]{}
	c.OnError(errs.add)
	closes := &recorder[CloseEvent]{}
	c.OnClose(closes.add)

	first := connect(t, c, d)
	second := d.next(t)

	assert.True(t, first.isClosed())
	assert.NotSame(t, first, second)
	require.GreaterOrEqual(t, errs.len(), 1)
	assert.ErrorIs(t, errs.snapshot()[0], ErrHeartbeatTimeout)
	require.Eventually(t, func() bool { return closes.len() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, closes.snapshot()[0].Clean)
}

func TestUncleanCloseReconnects(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithToken("token"))

	first := connect(t, c, d)
	first.expectWrite(t)
	first.send(t, messages.TypeAuthResult, messages.AuthResultPayload{Success: true}, "")
	require.Eventually(t, c.IsAuthenticated, 2*time.Second, 5*time.Millisecond)

	first.drop()

	second := d.next(t)
	assert.Equal(t, 2, d.count())
	msg := second.expectWrite(t)
	assert.Equal(t, messages.TypeAuth, msg.Type)
	assert.Eventually(t, func() bool { return c.Status() == StatusConnected }, 2*time.Second, 5*time.Millisecond)
}

func TestUncleanCloseFailsPendingRequest(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithReconnect(time.Second, time.Second, 0))
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		tr.expectWrite(t)
		tr.drop()
	}()

	_, err := c.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.False(t, c.IsAuthenticated())
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	closes := &recorder[CloseEvent]{}
	c.OnClose(closes.add)

	tr := connect(t, c, d)
	tr.closeClean()

	require.Eventually(t, func() bool { return closes.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, closes.snapshot()[0].Clean)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestReconnectGivesUp(t *testing.T) {
	d := newFakeDialer()
	d.failAfter(1, errors.New("connection refused"))
	c := newTestClient(t, d)

	tr := connect(t, c, d)
	tr.drop()

	require.Eventually(t, func() bool { return d.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 4, d.count())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestExplicitConnectRestoresBudget(t *testing.T) {
	d := newFakeDialer()
	d.failAfter(0, errors.New("connection refused"))
	c := newTestClient(t, d)

	require.Error(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return d.count() == 4 && c.Status() == StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	require.Error(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return d.count() == 8 }, 2*time.Second, 5*time.Millisecond)
}

func TestDialFailureStatusSequence(t *testing.T) {
	d := newFakeDialer()
	d.failAfter(0, errors.New("connection refused"))
	c := newTestClient(t, d, WithReconnect(time.Second, time.Second, 0))

	statuses := &recorder[Status]{}
	c.OnStatusChange(statuses.add)
	errs := &recorder[error]{}
	c.OnError(errs.add)

	err := c.Connect(context.Background())
	require.Error(t, err)

	assert.Equal(t, []Status{StatusConnecting, StatusError, StatusDisconnected}, statuses.snapshot())
	assert.Equal(t, 1, errs.len())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestDisconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithHeartbeat(20*time.Millisecond, -1))

	closes := &recorder[CloseEvent]{}
	c.OnClose(closes.add)

	tr := connect(t, c, d)
	authenticate(t, c, tr)
	assert.Equal(t, messages.TypePing, tr.expectWrite(t).Type)

	c.Disconnect()
	tr.drain()

	assert.True(t, tr.isClosed())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
	assert.False(t, c.IsAuthenticated())
	assert.Equal(t, []CloseEvent{{Clean: true}}, closes.snapshot())

	tr.expectNoWrite(t, 100*time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.ErrorIs(t, c.SendQuery("hi"), ErrNotConnected)
}

func TestDisconnectFailsAsk(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		tr.expectWrite(t)
		c.Disconnect()
	}()

	_, err := c.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithReconnect(50*time.Millisecond, 50*time.Millisecond, 3))

	tr := connect(t, c, d)
	tr.drop()
	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected }, 2*time.Second, 5*time.Millisecond)

	c.Disconnect()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestContextCancelDisconnects(t *testing.T) {
	d := newFakeDialer()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ctx, testURL, WithDialer(d.dial), WithHeartbeat(time.Hour, -1))

	tr := connect(t, c, d)
	cancel()

	require.Eventually(t, tr.isClosed, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Error(t, c.Connect(context.Background()))
}

func TestMalformedMessagesAreDiscarded(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	received := &recorder[messages.Message]{}
	c.OnMessage(received.add)

	tr := connect(t, c, d)
	tr.sendRaw("not json")
	tr.sendRaw(`{"payload":{}}`)
	tr.sendRaw(`{"type":"something_new","payload":{"x":1}}`)

	require.Eventually(t, func() bool { return received.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, messages.Type("something_new"), received.snapshot()[0].Type)
	assert.True(t, c.IsConnected())
}

func TestUnsolicitedServerError(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	errs := &recorder[error]{}
	c.OnError(errs.add)

	tr := connect(t, c, d)
	tr.send(t, messages.TypeError, messages.ErrorPayload{Message: "Not authenticated"}, "")

	require.Eventually(t, func() bool { return errs.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	var srvErr *ServerError
	require.ErrorAs(t, errs.snapshot()[0], &srvErr)
	assert.Equal(t, "Not authenticated", srvErr.Message)
}

func TestUnsubscribe(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	first := &recorder[messages.Message]{}
	second := &recorder[messages.Message]{}
	sub := c.OnMessage(first.add)
	c.OnMessage(second.add)

	tr := connect(t, c, d)
	tr.send(t, messages.TypePong, nil, "")
	require.Eventually(t, func() bool { return second.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()
	tr.send(t, messages.TypePong, nil, "")
	require.Eventually(t, func() bool { return second.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, first.len())
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)

	order := &recorder[int]{}
	for i := 0; i < 3; i++ {
		i := i
		c.OnOpen(func() { order.add(i) })
	}

	connect(t, c, d)
	assert.Equal(t, []int{0, 1, 2}, order.snapshot())
}

func TestAIRequestDialect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithDialect(messages.AIRequestDialect))
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		req := tr.expectWrite(t)
		if req.Type != messages.TypeAIRequest {
			return
		}
		tr.send(t, messages.TypeAIResponse, messages.AIResponsePayload{Content: "Plants make food from light."}, req.RequestID)
	}()

	answer, err := c.Ask(context.Background(), "what is photosynthesis?")
	require.NoError(t, err)
	assert.Equal(t, "Plants make food from light.", answer)
}

func TestSpeak(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)
	authenticate(t, c, tr)

	go func() {
		req := tr.expectWrite(t)
		tr.send(t, messages.TypeAudio, messages.AudioPayload{ContentType: "audio/mpeg", Data: []byte("mp3")}, req.RequestID)
	}()

	audio, err := c.Speak(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", audio.ContentType)
	assert.Equal(t, []byte("mp3"), audio.Data)
}

func TestSendMessageCorrelated(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	tr := connect(t, c, d)

	require.NoError(t, c.SendMessage("custom", map[string]string{"a": "b"}, "req-1"))
	msg := tr.expectWrite(t)
	assert.Equal(t, messages.Type("custom"), msg.Type)
	assert.Equal(t, "req-1", msg.RequestID)

	assert.ErrorIs(t, c.SendMessage("custom", nil, "req-2"), ErrRequestInProgress)
	require.NoError(t, c.SendMessage("note", nil, ""))
	assert.Equal(t, messages.Type("note"), tr.expectWrite(t).Type)

	tr.send(t, "custom_result", nil, "req-1")
	assert.Eventually(t, func() bool { return c.SendMessage("custom", nil, "req-3") == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentConnectSharesAttempt(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "dial succeeds"},
		{name: "dial fails", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer()
			if tt.err != nil {
				d.failAfter(0, tt.err)
			}
			release := d.hold()
			c := newTestClient(t, d, WithReconnect(time.Second, time.Second, 0))

			results := make(chan error, 5)
			for i := 0; i < 5; i++ {
				go func() {
					results <- c.Connect(context.Background())
				}()
			}
			require.Eventually(t, func() bool { return d.count() == 1 }, 2*time.Second, 5*time.Millisecond)
			// let every caller join the running attempt
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, StatusConnecting, c.Status())
			release()

			for i := 0; i < 5; i++ {
				select {
				case err := <-results:
					if tt.err == nil {
						assert.NoError(t, err)
					} else {
						assert.ErrorIs(t, err, tt.err)
					}
				case <-time.After(2 * time.Second):
					t.Fatal("timeout waiting for Connect")
				}
			}
			assert.Equal(t, 1, d.count())
			if tt.err == nil {
				assert.Equal(t, StatusConnected, c.Status())
			} else {
				assert.Equal(t, StatusDisconnected, c.Status())
			}
		})
	}
}

func TestFiredReconnectYieldsToDisconnect(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d, WithReconnect(20*time.Millisecond, 20*time.Millisecond, 3))

	tr := connect(t, c, d)
	tr.drop()

	// grab the client lock as soon as the reconnect is armed and keep it while the timer fires
	require.Eventually(t, func() bool {
		c.mu.Lock()
		if c.guard.Pending() {
			return true
		}
		c.mu.Unlock()
		return false
	}, 2*time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	c.guard.Stop()
	c.mu.Unlock()
	c.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestAuthPrecedesPongOnOpen(t *testing.T) {
	ping, err := messages.MarshalNew(messages.TypePing, nil, "")
	require.NoError(t, err)

	d := newFakeDialer()
	d.onDial(func(tr *fakeTransport) {
		tr.inbound <- ping
	})
	c := newTestClient(t, d, WithToken("token"))
	tr := connect(t, c, d)

	assert.Equal(t, messages.TypeAuth, tr.expectWrite(t).Type)
	assert.Equal(t, messages.TypePong, tr.expectWrite(t).Type)
}

func TestHeartbeatTimeoutSurvivesStoppedSender(t *testing.T) {
	d := newFakeDialer()
	c := newTestClient(t, d)
	errs := &recorder[error]{}
	c.OnError(errs.add)

	// a stopped sender leaves the timeout buffered behind two closed channels, either select case may win
	for i := 0; i < 20; i++ {
		tr := newFakeTransport()
		s := newSession(context.Background(), tr, time.Second)
		s.hc = healthcheck.NewSender(c.log)
		s.hc.Timeout <- struct{}{}
		close(s.hc.Timeout)
		close(s.hc.HealthCheck)

		c.watchHeartbeat(s)

		assert.True(t, tr.isClosed(), "iteration %d", i)
		assert.ErrorIs(t, s.closeCause(nil), ErrHeartbeatTimeout, "iteration %d", i)
	}
	assert.Equal(t, 20, errs.len())
}
