package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/hub"
	"github.com/DoyleJ11/festival-ballot/internal/session"
	"github.com/DoyleJ11/festival-ballot/internal/types"
)

const writeTimeout = 3 * time.Second

// Dead peers are found by ping, reads themselves never time out: a voter
// may only watch the countdown for minutes.
var (
	pingInterval = 15 * time.Second
	pingTimeout  = 10 * time.Second
)

// Handler streams snapshots of one session and accepts commands for it.
// Rejections are sent back to the sending connection only.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		s, err := h.Get(r.Context(), id)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if s == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := logger.With(zap.String("session_id", id), zap.String("client_id", clientID))

		out := make(chan session.Snapshot, 8)
		if err := s.Join(r.Context(), clientID, out); err != nil {
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		defer func() { _ = s.Leave(context.Background(), clientID) }()

		// Writer and heartbeat both stop when the handler returns.
		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()
		go writeSnapshots(connCtx, conn, out, log)
		go heartbeat(connCtx, conn, log)

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}

			cmd, ok := types.ToCommand(cm)
			if !ok {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
				continue
			}

			if _, err := s.Do(r.Context(), clientID, cmd); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return
				}
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

func writeSnapshots(ctx context.Context, conn *websocket.Conn, out <-chan session.Snapshot, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-out:
			if !ok {
				// Outbox closed: session ended or we were dropped as slow.
				conn.Close(websocket.StatusGoingAway, "session ended")
				return
			}
			state := types.FromState(snap.State)
			if err := write(ctx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, State: &state}); err != nil {
				log.Debug("snapshot write failed", zap.Error(err))
				return
			}
		}
	}
}

func heartbeat(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug("peer missed ping", zap.Error(err))
					// Unblocks the reader, which then leaves the session.
					conn.CloseNow()
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
