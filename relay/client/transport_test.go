package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buddybot/buddybot/relay/messages"
)

var errConnReset = errors.New("connection reset by peer")

// fakeTransport is an in-memory relay connection. The test plays the server side.
type fakeTransport struct {
	inbound chan []byte
	written chan messages.Message
	closed  chan struct{}

	once     sync.Once
	mu       sync.Mutex
	closeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		written: make(chan messages.Message, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.inbound:
		return b, nil
	case <-f.closed:
		return nil, f.err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, b []byte) error {
	select {
	case <-f.closed:
		return f.err()
	default:
	}

	msg, err := messages.Unmarshal(b)
	if err != nil {
		return err
	}
	select {
	case f.written <- msg:
	default:
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.shut(io.EOF)
	return nil
}

func (f *fakeTransport) Abort() error {
	f.shut(errors.New("connection aborted"))
	return nil
}

func (f *fakeTransport) shut(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.closeErr = err
		f.mu.Unlock()
		close(f.closed)
	})
}

func (f *fakeTransport) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) send(t *testing.T, msgType messages.Type, payload any, requestID string) {
	t.Helper()
	data, err := messages.MarshalNew(msgType, payload, requestID)
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeTransport) sendRaw(data string) {
	f.inbound <- []byte(data)
}

func (f *fakeTransport) drop() {
	f.shut(errConnReset)
}

func (f *fakeTransport) closeClean() {
	f.shut(io.EOF)
}

func (f *fakeTransport) expectWrite(t *testing.T) messages.Message {
	t.Helper()
	select {
	case msg := <-f.written:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client write")
		return messages.Message{}
	}
}

func (f *fakeTransport) expectNoWrite(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-f.written:
		t.Fatalf("unexpected client write: %s", msg)
	case <-time.After(d):
	}
}

func (f *fakeTransport) drain() {
	for {
		select {
		case <-f.written:
		default:
			return
		}
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	failFrom   int
	err        error
	gate       chan struct{}
	prepare    func(*fakeTransport)
	transports chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: make(chan *fakeTransport, 16)}
}

// failAfter makes every dial after the first n fail
func (d *fakeDialer) failAfter(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failFrom = n
	d.err = err
}

// hold blocks every dial until the returned release func is called
func (d *fakeDialer) hold() func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	return func() { close(gate) }
}

// onDial runs fn on every new transport before the client sees it, e.g. to queue server messages
func (d *fakeDialer) onDial(fn func(*fakeTransport)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepare = fn
}

func (d *fakeDialer) dial(ctx context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	dials := d.dials
	err := d.err
	failFrom := d.failFrom
	gate := d.gate
	prepare := d.prepare
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil && dials > failFrom {
		return nil, err
	}

	tr := newFakeTransport()
	if prepare != nil {
		prepare(tr)
	}
	d.transports <- tr
	return tr, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.transports:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}
