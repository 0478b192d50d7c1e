package ws

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
)

var ErrUnexpectedFrame = errors.New("unexpected binary frame")

// Conn carries JSON text frames over a WebSocket connection
type Conn struct {
	*websocket.Conn
	remote string
}

func NewConn(wsConn *websocket.Conn, remote string) *Conn {
	return &Conn{
		Conn:   wsConn,
		remote: remote,
	}
}

// Read returns the next text frame. A normal or going-away close from the remote side is reported as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	t, data, err := c.Conn.Read(ctx)
	if err != nil {
		return nil, ioErrHandling(err)
	}

	if t != websocket.MessageText {
		return nil, ErrUnexpectedFrame
	}
	return data, nil
}

func (c *Conn) Write(ctx context.Context, b []byte) error {
	return c.Conn.Write(ctx, websocket.MessageText, b)
}

// Close performs the closing handshake
func (c *Conn) Close() error {
	return c.Conn.Close(websocket.StatusNormalClosure, "")
}

// Abort drops the connection without a closing handshake
func (c *Conn) Abort() error {
	return c.Conn.CloseNow()
}

func (c *Conn) String() string {
	return fmt.Sprintf("ws://%s", c.remote)
}

func ioErrHandling(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return io.EOF
	default:
		return err
	}
}
