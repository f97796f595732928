package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv  *httptest.Server
	auth *service.AuthService
}

func newTestServer(t *testing.T, devTools bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	cfg := &config.Config{
		GinMode:             gin.TestMode,
		JWTSecret:           "test-secret",
		EnableDevAPIs:       devTools,
		RateLimitPerMinute:  10000,
		WebSocketReadExpiry: time.Minute,
	}
	log := zerolog.Nop()

	store := database.NewStore(database.DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"), log)
	t.Cleanup(func() { _ = store.Close() })

	opts := service.TabOptions{
		AutosaveDebounce: 20 * time.Millisecond,
		RestartGuardTTL:  time.Second,
		RestartSettle:    5 * time.Millisecond,
	}
	sessions := &service.Sessions{
		Tests:   service.NewSessionService[model.SessionRecord, *model.SessionRecord](repository.NewTestSessionStore(store, log), 0, opts, log),
		Writing: service.NewSessionService[model.WritingSessionRecord, *model.WritingSessionRecord](repository.NewWritingSessionStore(store, log), 24*time.Hour, opts, log),
	}

	auth := service.NewAuthService(cfg)
	engine := router.SetupRouter(auth, &router.Handlers{
		Session: handler.NewSessionHandler(sessions, log),
		WS:      handler.NewWSHandler(sessions, log, nil, cfg.WebSocketReadExpiry),
	}, cfg)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, auth: auth}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.auth.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path, token string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

type tabClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (ts *testServer) dial(t *testing.T, examType, token string) *tabClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/v1/sessions/" + examType + "/stream"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &tabClient{t: t, conn: conn}
}

func (tc *tabClient) send(msg map[string]any) {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.WriteJSON(msg))
}

// await reads events until one named event arrives, skipping others such as autosave acks.
func (tc *tabClient) await(event string) map[string]any {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]any
		require.NoError(tc.t, tc.conn.ReadJSON(&msg))
		if msg["event"] == event {
			return msg
		}
		if msg["event"] == "error" && event != "error" {
			tc.t.Fatalf("unexpected error event: %v", msg)
		}
	}
}

func startMsg(parts ...string) map[string]any {
	return map[string]any{
		"action":          "start",
		"test_id":         "toeic-2026-01",
		"total_questions": 200,
		"time_limit_ms":   int64(2 * time.Hour / time.Millisecond),
		"mode":            "custom",
		"parts":           parts,
	}
}
