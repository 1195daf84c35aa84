package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/colonyops/crew/internal/coordinator"
)

// maxFrameSize bounds one event frame. Init snapshots carry every task.
const maxFrameSize = 16 << 20

// Stream is a live connection to the coordinator event stream.
type Stream struct {
	conn *websocket.Conn
}

// Stream opens the WebSocket event stream. An empty session receives every
// event. The first frame is always the init snapshot.
func (c *Client) Stream(ctx context.Context, sessionKey string) (*Stream, error) {
	u, err := url.Parse(c.base + "/events")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if sessionKey != "" {
		u.RawQuery = url.Values{"session": {sessionKey}}.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &Stream{conn: conn}, nil
}

// ErrStreamClosed is returned by Next once the stream has ended.
var ErrStreamClosed = errors.New("event stream closed")

// Next blocks until the next frame arrives.
func (s *Stream) Next(ctx context.Context) (coordinator.Event, error) {
	var ev coordinator.Event
	if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return ev, ErrStreamClosed
		case websocket.StatusTryAgainLater:
			return ev, fmt.Errorf("%w: subscriber fell behind", ErrStreamClosed)
		}
		return ev, err
	}
	return ev, nil
}

// Close ends the stream.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
