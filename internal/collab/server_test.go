package collab_test

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/collab"
	"github.com/synapsehub/hub/internal/crdt"
	"github.com/synapsehub/hub/internal/domain/docsession"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestServer(t *testing.T) (*httptest.Server, *docsession.Manager) {
	t.Helper()
	docs := docsession.NewManager(&fakeClock{now: time.Now()})
	srv := collab.NewServer(docs, slog.Default())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, docs
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_JoinMissingDocEmitsError(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "path": "nope.go", "agentId": "a1"}))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "error", msg["type"])
}

func TestServer_JoinExistingDocReceivesSyncAndAwareness(t *testing.T) {
	ts, docs := newTestServer(t)
	docs.Create("main.go", "hello")
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "path": "main.go", "agentId": "a1", "name": "alice"}))

	var sync map[string]any
	require.NoError(t, conn.ReadJSON(&sync))
	require.Equal(t, "sync", sync["type"])

	var awareness map[string]any
	require.NoError(t, conn.ReadJSON(&awareness))
	require.Equal(t, "awareness", awareness["type"])
}

func TestServer_BinaryUpdateBroadcastsToOtherPeer(t *testing.T) {
	ts, docs := newTestServer(t)
	docs.Create("main.go", "")

	connA := dial(t, ts)
	connB := dial(t, ts)

	require.NoError(t, connA.WriteJSON(map[string]string{"type": "join", "path": "main.go", "agentId": "a1"}))
	var discard map[string]any
	require.NoError(t, connA.ReadJSON(&discard)) // sync
	require.NoError(t, connA.ReadJSON(&discard)) // awareness

	require.NoError(t, connB.WriteJSON(map[string]string{"type": "join", "path": "main.go", "agentId": "a2"}))
	require.NoError(t, connB.ReadJSON(&discard)) // sync
	require.NoError(t, connB.ReadJSON(&discard)) // awareness
	require.NoError(t, connA.ReadJSON(&discard)) // awareness rebroadcast to a1 on a2 joining

	scratch := crdt.NewDocument("a2")
	ops := scratch.InsertText(0, "hi")
	data, err := crdt.EncodeOps(ops)
	require.NoError(t, err)
	require.NoError(t, connB.WriteMessage(websocket.BinaryMessage, data))

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, received, err := connA.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	require.Equal(t, data, received)
}
