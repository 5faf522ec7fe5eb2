package webui

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsHeartbeat is how often an idle connection gets a snapshot anyway,
// doubling as a liveness signal for the page.
const wsHeartbeat = 30 * time.Second

// wsWriteTimeout bounds one snapshot write so an abandoned tab cannot
// pin the handler.
const wsWriteTimeout = 10 * time.Second

// handleWS streams status snapshots: one on connect, one after every
// state change, one per heartbeat interval. The page re-renders on
// each message instead of polling.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String("error", err.Error()))

		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	updates, unsubscribe := s.exchange.Subscribe()
	defer unsubscribe()

	ctx := r.Context()

	heartbeat := time.NewTicker(wsHeartbeat)
	defer heartbeat.Stop()

	if err := s.writeSnapshot(ctx, conn); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
		case <-heartbeat.C:
		}

		if err := s.writeSnapshot(ctx, conn); err != nil {
			return
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	return wsjson.Write(writeCtx, conn, s.exchange.Snapshot())
}
