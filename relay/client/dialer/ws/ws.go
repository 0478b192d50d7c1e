package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/buddybot/buddybot/relay/messages"
)

const defaultDialTimeout = 10 * time.Second

type Options struct {
	// Header is sent with the upgrade request, e.g. Origin for relays that check it
	Header http.Header
	// HTTPClient overrides the client used for the upgrade request
	HTTPClient *http.Client
	// DialTimeout bounds the upgrade when the caller context has no deadline
	DialTimeout time.Duration
}

// Dial opens a WebSocket connection to the relay. Only ws and wss URLs are accepted.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", address, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}

	if _, ok := ctx.Deadline(); !ok {
		timeout := opts.DialTimeout
		if timeout <= 0 {
			timeout = defaultDialTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialOpts := &websocket.DialOptions{
		HTTPHeader: opts.Header,
		HTTPClient: opts.HTTPClient,
	}

	wsConn, resp, err := websocket.Dial(ctx, u.String(), dialOpts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Debugf("failed to dial to relay server '%s': %s", u.Redacted(), err)
		return nil, err
	}
	wsConn.SetReadLimit(messages.MaxMessageSize)

	return NewConn(wsConn, u.Host), nil
}
