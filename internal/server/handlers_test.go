package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/gochat-relay/internal/store"
)

func TestHealthHandler(t *testing.T) {
	req := require.New(t)

	rr := httptest.NewRecorder()
	HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	req.Equal(http.StatusOK, rr.Code)
	req.Equal("text/plain", rr.Header().Get("Content-Type"))
	req.Equal("GoChat relay is running!", rr.Body.String())
}

func TestWebSocketHandlerMethodValidation(t *testing.T) {
	a := newTestApp(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			req := require.New(t)

			httpReq, err := http.NewRequest(method, a.server.URL+"/ws", http.NoBody)
			req.NoError(err)
			resp, err := http.DefaultClient.Do(httpReq)
			req.NoError(err)
			defer func() { _ = resp.Body.Close() }()

			req.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
		})
	}

	t.Run("GET without upgrade headers", func(t *testing.T) {
		req := require.New(t)

		resp, err := http.Get(a.server.URL + "/ws")
		req.NoError(err)
		defer func() { _ = resp.Body.Close() }()

		req.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}

func postBridge(t *testing.T, a *testApp, body, token string) (int, map[string]any) {
	t.Helper()

	httpReq, err := http.NewRequest(http.MethodPost, a.server.URL+"/send-message", strings.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp.StatusCode, decoded
}

func TestBridgeHandler(t *testing.T) {
	t.Run("should store a new thread and announce it to everyone online", func(t *testing.T) {
		req := require.New(t)
		a := newTestApp(t, nil)
		carol := a.connectAs(t, "carol")

		a.store.EXPECT().
			CreateThread(gomock.Any(), store.Message{Text: "hello", Recipients: []string{"bob"}, SenderID: "alice"}, "secret").
			Return("99", nil)
		a.store.EXPECT().
			AppendMessage(gomock.Any(), store.Message{ThreadID: "99", Text: "hello", Recipients: []string{"bob"}, SenderID: "alice"}, "secret").
			Return(nil)

		status, body := postBridge(t, a, `{"sender":"alice","recipient":"bob","message":"hello","type":"notice"}`, "secret")

		req.Equal(http.StatusOK, status)
		req.Equal("success", body["status"])
		req.Equal("Message sent", body["message"])
		req.Equal("99", body["threadId"])

		msg := readUntilType(t, carol, "message")
		req.Equal("99", msg["threadId"])
		req.Equal("hello", msg["message"])
	})

	t.Run("should reject an incomplete body", func(t *testing.T) {
		req := require.New(t)
		a := newTestApp(t, nil)

		status, body := postBridge(t, a, `{"sender":"alice"}`, "")

		req.Equal(http.StatusBadRequest, status)
		req.Equal("error", body["status"])
	})

	t.Run("should reject a body that is not JSON", func(t *testing.T) {
		req := require.New(t)
		a := newTestApp(t, nil)

		status, _ := postBridge(t, a, `not json`, "")

		req.Equal(http.StatusBadRequest, status)
	})

	t.Run("should answer bad gateway when the store fails", func(t *testing.T) {
		req := require.New(t)
		a := newTestApp(t, nil)

		a.store.EXPECT().
			CreateThread(gomock.Any(), gomock.Any(), "").
			Return("", errors.New("connection refused"))

		status, body := postBridge(t, a, `{"sender":1,"recipient":2,"message":"hello"}`, "")

		req.Equal(http.StatusBadGateway, status)
		req.Equal("error", body["status"])
	})

	t.Run("should refuse other methods", func(t *testing.T) {
		req := require.New(t)
		a := newTestApp(t, nil)

		resp, err := http.Get(a.server.URL + "/send-message")
		req.NoError(err)
		defer func() { _ = resp.Body.Close() }()

		req.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"Bearer  abc ":  "abc",
		"Basic dXNlcjo": "",
		"bearer abc":    "",
	}

	for header, want := range tests {
		t.Run(header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/send-message", http.NoBody)
			if header != "" {
				r.Header.Set("Authorization", header)
			}
			require.Equal(t, want, bearerToken(r))
		})
	}
}

func TestSetupRoutes(t *testing.T) {
	req := require.New(t)
	a := newTestApp(t, nil)

	resp, err := http.Get(a.server.URL + "/")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()

	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestCreateServer(t *testing.T) {
	req := require.New(t)

	srv := CreateServer(":9999", http.NewServeMux())

	req.Equal(":9999", srv.Addr)
	req.NotZero(srv.ReadTimeout)
	req.NotZero(srv.WriteTimeout)
	req.NotZero(srv.IdleTimeout)
}

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriteJSONLogsThroughGivenLogger(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With(slog.String("component", "bridge"))

	writeJSON(failingWriter{httptest.NewRecorder()}, logger, http.StatusOK, bridgeResponse{Status: "success"})

	req.Contains(buf.String(), `"msg":"Error writing JSON response"`)
	req.Contains(buf.String(), `"component":"bridge"`)
}
