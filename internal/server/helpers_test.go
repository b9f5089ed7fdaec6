package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry/registrytest"
	"github.com/Tyrowin/gochat-relay/internal/store/mocks"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

// configureForTest applies customize on top of the defaults and restores the
// defaults when the test ends.
func configureForTest(t *testing.T, customize func(cfg *Config)) *Config {
	t.Helper()

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.TypingTTL = 80 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	if customize != nil {
		customize(cfg)
	}
	SetConfig(cfg)
	t.Cleanup(func() { SetConfig(nil) })
	return cfg
}

type testApp struct {
	app    *App
	store  *mocks.MockStore
	server *httptest.Server
	wsURL  string
}

// newTestApp starts a full relay behind httptest with a mocked store.
func newTestApp(t *testing.T, customize func(cfg *Config)) *testApp {
	t.Helper()

	cfg := configureForTest(t, customize)
	mockStore := mocks.NewMockStore(gomock.NewController(t))

	app := NewApp(context.Background(), cfg, mockStore, telemetry.Discard(), testLogger())
	app.Start()

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Shutdown()
	})

	return &testApp{
		app:    app,
		store:  mockStore,
		server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial opens a websocket to the test app with the allowed origin.
func (a *testApp) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(a.wsURL, newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectAs dials and identifies as userID, consuming the own online status.
func (a *testApp) connectAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	conn := a.dial(t)
	sendEnvelope(t, conn, map[string]any{"type": "user_connected", "userId": userID})
	status := readUntilType(t, conn, protocol.TypeOnlineStatus)
	require.Equal(t, userID, status["userId"])
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, envelope map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(envelope))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

// readUntilType skips envelopes of other types, such as presence updates
// for other users.
func readUntilType(t *testing.T, conn *websocket.Conn, kind string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		envelope := readEnvelope(t, conn)
		if envelope["type"] == kind {
			return envelope
		}
	}
	t.Fatalf("no %q envelope within %s", kind, readTimeout)
	return nil
}

// expectNoEnvelope fails if anything but a presence update arrives within timeout.
func expectNoEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var envelope map[string]any
		require.NoError(t, json.Unmarshal(data, &envelope))
		if envelope["type"] != protocol.TypeOnlineStatus {
			t.Fatalf("unexpected envelope: %s", data)
		}
	}
}

// fakeSession is a Session backed by a recording conn.
type fakeSession struct {
	*registrytest.Conn

	mu     sync.Mutex
	userID protocol.ID
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{Conn: registrytest.NewConn(id)}
}

func (s *fakeSession) UserID() protocol.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *fakeSession) BindUser(userID protocol.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
