package client

import (
	"context"
	"net/http"
	"time"

	"github.com/buddybot/buddybot/relay/client/dialer/ws"
)

// Transport is one open connection to the relay carrying JSON text frames.
// Read must report a clean close by the remote side as io.EOF, any other read error is treated as an unclean close.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
	// Close closes the connection gracefully
	Close() error
	// Abort drops the connection immediately
	Abort() error
}

// Dialer opens a transport to the relay url
type Dialer func(ctx context.Context, url string) (Transport, error)

// WebsocketDialer returns the default dialer
func WebsocketDialer(header http.Header, timeout time.Duration) Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		conn, err := ws.Dial(ctx, url, ws.Options{
			Header:      header,
			DialTimeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
