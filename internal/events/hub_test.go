package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chepyr/task-tracker-api/internal/models"
)

func startHub(t *testing.T, allowed []string) (*Hub, string) {
	t.Helper()
	hub := NewHub(allowed, nil)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clients, have %d", n, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return ev
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	task := &models.Task{ID: 7, Title: "write tests", Status: "pending", Tags: []string{}}
	hub.Publish(TaskEvent(TaskCreated, task))

	ev := readEvent(t, conn)
	if ev.Event != TaskCreated || ev.TaskID != 7 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Task == nil || ev.Task.Title != "write tests" {
		t.Fatalf("expected task body, got %+v", ev.Task)
	}
}

func TestHub_DeletedEventHasNoBody(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	hub.Publish(TaskDeletedEvent(&models.Task{ID: 3}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), `"task":`) {
		t.Fatalf("deleted event should omit task body: %s", data)
	}
}

func TestHub_UserFilter(t *testing.T) {
	hub, url := startHub(t, nil)
	mine := dial(t, url+"?user_id=1")
	waitForClients(t, hub, 1)

	one, two := int64(1), int64(2)
	hub.Publish(TaskEvent(TaskUpdated, &models.Task{ID: 10, UserID: &two}))
	hub.Publish(TaskEvent(TaskUpdated, &models.Task{ID: 11}))
	hub.Publish(TaskEvent(TaskUpdated, &models.Task{ID: 12, UserID: &one}))

	ev := readEvent(t, mine)
	if ev.TaskID != 12 {
		t.Fatalf("filtered subscriber got task %d, want 12", ev.TaskID)
	}
}

func TestHub_BadUserID(t *testing.T) {
	hub := NewHub(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws?user_id=abc", nil)
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("expected JSON error body, got %s", rec.Body.String())
	}
}

func TestHub_CloseDisconnectsAndRefuses(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url)
	waitForClients(t, hub, 1)

	hub.Close()
	if hub.Count() != 0 {
		t.Fatalf("Count after Close = %d", hub.Count())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail after Close")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after Close, got %v", resp)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, []string{"https://app.example"})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestCheckOrigin_EmptyAllowsAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://any.example")
	if !checkOrigin(nil, req) {
		t.Fatalf("checkOrigin should allow when no origins are configured")
	}
}

func TestCheckOrigin_ListAllowAndDeny(t *testing.T) {
	allowed := []string{"https://a.example", "https://b.example/"}
	allowReq := httptest.NewRequest(http.MethodGet, "/", nil)
	allowReq.Header.Set("Origin", "https://b.example")
	denyReq := httptest.NewRequest(http.MethodGet, "/", nil)
	denyReq.Header.Set("Origin", "https://c.example")
	noOrigin := httptest.NewRequest(http.MethodGet, "/", nil)

	if !checkOrigin(allowed, allowReq) {
		t.Fatalf("expected allow for https://b.example")
	}
	if checkOrigin(allowed, denyReq) {
		t.Fatalf("expected deny for https://c.example")
	}
	if !checkOrigin(allowed, noOrigin) {
		t.Fatalf("expected allow for non-browser client without Origin")
	}
}
