package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/buddybot/buddybot/relay/messages"
)

// Probe dials the relay WebSocket endpoint, sends a ping and waits for the pong. It returns the round trip time.
// The probe never authenticates, the relay answers pings on unauthenticated sessions.
func Probe(ctx context.Context, wsURL string) (time.Duration, error) {
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "probe done")
	}()

	ping, err := messages.MarshalNew(messages.TypePing, nil, "")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ping message: %w", err)
	}

	start := time.Now()
	if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
		return 0, fmt.Errorf("failed to write ping message: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read pong message: %w", err)
		}

		msg, err := messages.Unmarshal(data)
		if err != nil {
			return 0, err
		}
		if msg.Type == messages.TypePong {
			return time.Since(start), nil
		}
	}
}
