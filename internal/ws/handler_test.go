package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/festival-ballot/internal/archive/memory"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
	"github.com/DoyleJ11/festival-ballot/internal/hub"
	"github.com/DoyleJ11/festival-ballot/internal/session"
	"github.com/DoyleJ11/festival-ballot/internal/types"
)

func readMsg(t *testing.T, ctx context.Context, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendMsg(t *testing.T, ctx context.Context, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func TestHandler_StreamsSnapshotsAndErrors(t *testing.T) {
	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Options{TickInterval: time.Hour, Archive: memory.NewStore()})
	defer h.Shutdown()

	s, err := h.Create(ctx, engine.NewEmptyState())
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(h, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + s.ID()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMsg(t, ctx, conn)
	assert.Equal(t, "StateSnapshot", first.Type)
	assert.Equal(t, 0, first.Version)
	require.NotNil(t, first.State)
	assert.Len(t, first.State.Ballot, 12)

	sendMsg(t, ctx, conn, types.ClientMessage{Type: "AssignRank", SongIndex: 2, Rank: 8})
	next := readMsg(t, ctx, conn)
	assert.Equal(t, 1, next.Version)
	assert.Equal(t, 8, next.State.Ballot[2])

	sendMsg(t, ctx, conn, types.ClientMessage{Type: "AssignRank", SongIndex: 3, Rank: 8})
	rejected := readMsg(t, ctx, conn)
	assert.Equal(t, "Error", rejected.Type)
	assert.Equal(t, engine.ErrDuplicateRank.Error(), rejected.Error)

	sendMsg(t, ctx, conn, types.ClientMessage{Type: "Shuffle"})
	unknown := readMsg(t, ctx, conn)
	assert.Equal(t, "unknown type", unknown.Error)
}

func TestHandler_UnknownSession(t *testing.T) {
	h := hub.NewHub(context.Background(), hub.Options{})
	defer h.Shutdown()

	srv := httptest.NewServer(Handler(h, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=nope"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func setHeartbeat(t *testing.T, interval, timeout time.Duration) {
	t.Helper()
	oldInterval, oldTimeout := pingInterval, pingTimeout
	pingInterval, pingTimeout = interval, timeout
	t.Cleanup(func() { pingInterval, pingTimeout = oldInterval, oldTimeout })
}

func newSessionServer(t *testing.T) (*session.Session, string) {
	t.Helper()
	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Options{TickInterval: time.Hour})
	t.Cleanup(h.Shutdown)

	s, err := h.Create(ctx, engine.NewEmptyState())
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(h, nil))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + s.ID()
}

// numClients is polled from Eventually's goroutine, so it reports errors as -1.
func numClients(s *session.Session) int {
	view, err := s.View(context.Background())
	if err != nil {
		return -1
	}
	return view.NumClients
}

func TestHandler_DisconnectReleasesGoroutines(t *testing.T) {
	ctx := context.Background()
	s, url := newSessionServer(t)

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		conn, _, err := websocket.Dial(ctx, url, nil)
		require.NoError(t, err)
		_ = readMsg(t, ctx, conn)
		require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	}

	require.Eventually(t, func() bool {
		return numClients(s) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+3
	}, 2*time.Second, 20*time.Millisecond, "goroutines left behind by closed connections")
}

func TestHandler_IdleWatcherStaysConnected(t *testing.T) {
	setHeartbeat(t, 10*time.Millisecond, time.Second)
	ctx := context.Background()
	s, url := newSessionServer(t)

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Keep reading so pongs go out, like a browser tab would.
	msgs := make(chan types.ServerMessage, 8)
	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg types.ServerMessage
			if json.Unmarshal(data, &msg) == nil {
				msgs <- msg
			}
		}
	}()

	first := <-msgs
	assert.Equal(t, 0, first.Version)

	// Many heartbeats go by without the client sending anything.
	time.Sleep(200 * time.Millisecond)

	_, err = s.Do(ctx, "other", engine.Command{Type: engine.CmdAssignRank, SongIndex: 0, Rank: 4})
	require.NoError(t, err)

	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "idle connection was closed")
		assert.Equal(t, 1, msg.Version)
		assert.Equal(t, 4, msg.State.Ballot[0])
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot after idling")
	}
}

func TestHandler_UnresponsivePeerIsDropped(t *testing.T) {
	setHeartbeat(t, 20*time.Millisecond, 200*time.Millisecond)
	ctx := context.Background()
	s, url := newSessionServer(t)

	// Never reads, so pings are never answered.
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool {
		return numClients(s) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return numClients(s) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
