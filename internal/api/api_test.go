package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
	"github.com/gg-glitch-88/exercise-uplink/internal/transport"
	"github.com/gg-glitch-88/exercise-uplink/internal/uplink"
)

type fakeSessions struct {
	mu       sync.Mutex
	running  bool
	id       string
	startErr error
	starts   int
}

func (f *fakeSessions) Start(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts++
	f.running = true
	f.id = "session-" + string(rune('0'+f.starts))
	return f.id, nil
}

func (f *fakeSessions) Stop(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.running = false
	return was
}

func (f *fakeSessions) Status(name string) (uplink.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return uplink.Status{}, false
	}
	return uplink.Status{SessionID: f.id, State: transport.StateConnected, RetryCount: 2}, true
}

type testEnv struct {
	srv      *httptest.Server
	sessions *fakeSessions
	source   *exercise.MemorySource
	bus      *transport.EventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions: &fakeSessions{},
		source:   exercise.NewMemorySource(),
		bus:      transport.NewEventBus(),
	}
	env.srv = httptest.NewServer(NewRouter(env.sessions, env.source, env.bus.Subscribe, zaptest.NewLogger(t)))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp, body
}

func TestStatusStartStop(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/status")
	if resp.StatusCode != http.StatusOK || body["running"] != false {
		t.Fatalf("expected idle status, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/uplink/start")
	if resp.StatusCode != http.StatusAccepted || body["session_id"] != "session-1" {
		t.Fatalf("unexpected start response %d %v", resp.StatusCode, body)
	}

	_, body = env.do(t, http.MethodGet, "/api/v1/status")
	session, ok := body["session"].(map[string]interface{})
	if body["running"] != true || !ok {
		t.Fatalf("expected running session, got %v", body)
	}
	if session["session_id"] != "session-1" || session["state"] != "connected" {
		t.Fatalf("unexpected session payload %v", session)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/uplink/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/uplink/stop")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second stop: expected 409, got %d", resp.StatusCode)
	}
}

func TestStartFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.startErr = errors.New("no source")
	resp, _ := env.do(t, http.MethodPost, "/api/v1/uplink/start")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestWrongMethod(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/uplink/start")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestSnapshotPreview(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodGet, "/api/v1/snapshot")
	if body["recorded"] != false {
		t.Fatalf("expected nothing recorded, got %v", body)
	}
	frame := body["frame"].(map[string]interface{})
	if frame["current_status"] != "UNKNOWN" {
		t.Fatalf("default frame must carry UNKNOWN status, got %v", frame)
	}

	_ = env.source.Upsert(context.Background(), &exercise.Snapshot{
		StartTime: 1000,
		Speed:     exercise.Float(5),
		Status:    exercise.StatusActive,
	})
	_, body = env.do(t, http.MethodGet, "/api/v1/snapshot")
	frame = body["frame"].(map[string]interface{})
	if body["recorded"] != true || frame["current_status"] != "ACTIVE" || frame["speed"] != 5.0 {
		t.Fatalf("unexpected preview %v", body)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.bus.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.bus.Publish(transport.StatusEvent{
		Type:       transport.EventReconnecting,
		State:      transport.StateDisconnected,
		RetryCount: 3,
		Reason:     "connection refused",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt map[string]interface{}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt["type"] != "reconnecting" || evt["retry_count"] != 3.0 || evt["state"] != "disconnected" {
		t.Fatalf("unexpected event %v", evt)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for env.bus.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not released after client left")
		}
		env.bus.Publish(transport.StatusEvent{Type: transport.EventFailed})
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAdminServerRun(t *testing.T) {
	env := newTestEnv(t)
	handler := NewRouter(env.sessions, env.source, env.bus.Subscribe, zaptest.NewLogger(t))
	admin := NewAdminServer("127.0.0.1:0", handler, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- admin.Run(ctx) }()

	var addr string
	select {
	case a := <-admin.Ready():
		addr = a.String()
	case err := <-done:
		t.Fatalf("run: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("admin server not ready")
	}

	resp, err := http.Get("http://" + addr + "/api/v1/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("admin server did not shut down")
	}
}
