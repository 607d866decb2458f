package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/config"
	"github.com/kimhsiao/habitsync/internal/docstore"
	"github.com/kimhsiao/habitsync/internal/lock"
	"github.com/kimhsiao/habitsync/internal/logging"
)

type testServer struct {
	app    *app.App
	remote *docstore.Memory
	hub    *WSHub
	router http.Handler
}

func setupTestEnv(t *testing.T, pinHash string) *testServer {
	t.Helper()
	logging.Init(io.Discard, logging.LevelInfo)

	cfg := &config.Config{
		DataDir:       t.TempDir(),
		UserID:        "u1",
		Port:          "0",
		SyncInterval:  time.Hour,
		SweepInterval: time.Hour,
		ProbeInterval: time.Second,
		ItemTimeout:   time.Second,
		MaxChunkBytes: 16,
		PINHash:       pinHash,
	}
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	remote := docstore.NewMemory()

	a, err := app.New(cfg, app.WithRemote(remote), app.WithCacheFS(fsys))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Store.Init(context.Background()))

	hub := NewWSHub()
	return &testServer{app: a, remote: remote, hub: hub, router: NewRouter(a, hub)}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestRouter_Health(t *testing.T) {
	s := setupTestEnv(t, "")

	rec, body := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
	assert.Greater(t, body["schema_version"], float64(0))
}

func TestRouter_Lock(t *testing.T) {
	hash, err := lock.HashPIN("1234")
	require.NoError(t, err)
	s := setupTestEnv(t, hash)

	rec, body := s.do(t, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "LOCKED", body["error"].(map[string]interface{})["code"])

	rec, _ = s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health stays reachable while locked")

	rec, _ = s.do(t, http.MethodPost, "/api/unlock", map[string]string{"pin": "9999"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/unlock", map[string]string{"pin": "1234"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/lock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["unlocked"])

	rec, _ = s.do(t, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestRouter_OfflineSessionThenSync(t *testing.T) {
	s := setupTestEnv(t, "")

	rec, body := s.do(t, http.MethodPost, "/api/connectivity", map[string]bool{"online": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["online"])

	rec, body = s.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"date":    "2024-03-05",
		"session": map[string]interface{}{"timestamp": 10, "text": "run"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(1), body["pending"])

	rec, body = s.do(t, http.MethodGet, "/api/logs/2024-03-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["sessions"], 1, "the cache reflects the offline save")

	rec, body = s.do(t, http.MethodGet, "/api/queue?items=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.Len(t, body["items"], 1)

	rec, _ = s.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 0, s.remote.Len("users/u1/logs/2024-03-05/sessions"))

	s.do(t, http.MethodPost, "/api/connectivity", map[string]bool{"online": true})
	rec, body = s.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["result"].(map[string]interface{})["success"])
	assert.Equal(t, float64(0), body["pending"])
	assert.Equal(t, 1, s.remote.Len("users/u1/logs/2024-03-05/sessions"))

	rec, body = s.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["isOnline"])
	assert.NotNil(t, body["lastSyncTime"])
}

func TestRouter_SessionValidation(t *testing.T) {
	s := setupTestEnv(t, "")

	rec, body := s.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{
		"date":    "",
		"session": map[string]interface{}{"timestamp": 10},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"].(map[string]interface{})["code"])

	rec, _ = s.do(t, http.MethodDelete, "/api/logs/2024-03-05/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/connectivity", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Tags(t *testing.T) {
	s := setupTestEnv(t, "")
	s.do(t, http.MethodPost, "/api/connectivity", map[string]bool{"online": false})

	rec, _ := s.do(t, http.MethodPost, "/api/tags", map[string]interface{}{"id": "t1", "name": "Water", "unit": "ml"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, body := s.do(t, http.MethodGet, "/api/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "number", items[0].(map[string]interface{})["type"])

	rec, _ = s.do(t, http.MethodDelete, "/api/tags/t1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	_, body = s.do(t, http.MethodGet, "/api/tags", nil)
	assert.Empty(t, body["items"])

	_, body = s.do(t, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, float64(2), body["count"], "create and delete both stay queued")
}

func TestRouter_Audio(t *testing.T) {
	s := setupTestEnv(t, "")
	payload := "data:audio/webm;base64,QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo="

	rec, body := s.do(t, http.MethodPost, "/api/audio", map[string]interface{}{"payload": payload, "duration": 2.5})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	rec, body = s.do(t, http.MethodGet, "/api/audio/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, body["payload"])

	rec, _ = s.do(t, http.MethodGet, "/api/audio/"+id+"?meta=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/api/audio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 1)

	rec, _ = s.do(t, http.MethodDelete, "/api/audio/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/audio/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/audio", map[string]interface{}{"duration": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocket_ConnectivityEvent(t *testing.T) {
	s := setupTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	wireEvents(s.app, s.hub)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.app.Monitor.Set(false)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var envelope WSEnvelope
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, EventConnectivityChanged, envelope.Type)
	assert.Equal(t, false, envelope.Data["online"])
}

func TestWebSocket_SyncCompletedEvent(t *testing.T) {
	s := setupTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)
	wireEvents(s.app, s.hub)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{EventSyncCompleted}}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	// Filtered out by the subscription.
	s.app.Monitor.Set(false)
	s.app.Monitor.Set(true)
	s.app.Engine.SyncQueue(context.Background(), "u1")

	var envelope WSEnvelope
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, EventSyncCompleted, envelope.Type)
	assert.Equal(t, float64(0), envelope.Data["pending"])
}

func TestLocalOrigin(t *testing.T) {
	cases := map[string]bool{
		"localhost:8090":   true,
		"127.0.0.1:8090":   true,
		"[::1]:8090":       true,
		"example.com:8090": false,
		"10.0.0.2":         false,
	}
	for host, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Host = host
		assert.Equal(t, want, localOrigin(req), host)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := setupTestEnv(t, "")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, s.app, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.app.Scheduler.IsRunning())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.False(t, s.app.Scheduler.IsRunning())
}
