package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/colonyops/crew/internal/coordinator"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// handleEvents upgrades to a WebSocket and streams coordinator events. The
// first frame is the init snapshot. ?session= limits frames to one session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the failure response.
		s.log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	// Clients never send frames; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	session := r.URL.Query().Get("session")
	sub, err := s.svc.Stream(ctx, coordinator.Filter{SessionKey: session})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to open event stream")
		conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	defer sub.Close()

	s.log.Debug().Str("session", session).Msg("event stream opened")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := pingPeer(ctx, conn); err != nil {
				s.log.Debug().Err(err).Msg("event stream ping failed")
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Dropped() {
					conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				} else {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
				}
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug().Err(err).Msg("event stream write failed")
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev coordinator.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func pingPeer(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Ping(ctx)
}
