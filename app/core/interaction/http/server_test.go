package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taskpilot/app/core/broadcast"
	"taskpilot/app/core/orchestrator/agent"
	"taskpilot/app/core/orchestrator/chat"
	"taskpilot/app/core/orchestrator/conversation"
	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/core/orchestrator/task"
	"taskpilot/app/core/orchestrator/tools"
	"taskpilot/app/core/reminder"
	"taskpilot/app/core/scheduler"
)

type harness struct {
	server *httptest.Server
	tasks  *task.Store
	engine *reminder.Engine
	caster *broadcast.Broadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	tasks := task.NewStore(database)
	convStore := conversation.NewStore(database)
	caster := broadcast.NewBroadcaster()
	engine := reminder.NewEngine(tasks, caster)
	reg := tools.NewRegistry()
	if err := tools.NewHandlers(tasks, engine, caster).RegisterAll(reg); err != nil {
		t.Fatalf("register tools failed: %v", err)
	}
	chatService := chat.NewService(convStore, agent.NewRuleStrategy(reg))
	srv := NewServer(0, chatService, engine, caster, scheduler.New())
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &harness{server: ts, tasks: tasks, engine: engine, caster: caster}
}

func (h *harness) do(t *testing.T, method string, path string, userID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestChatEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/api/chat", "u-1", map[string]interface{}{
		"message": "add a task to buy milk",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if payload["conversation_id"].(float64) <= 0 {
		t.Fatalf("missing conversation id: %v", payload)
	}
	if !strings.Contains(payload["reply"].(string), "buy milk") {
		t.Fatalf("unexpected reply: %v", payload["reply"])
	}
	calls, ok := payload["tool_calls"].([]interface{})
	if !ok || len(calls) != 1 {
		t.Fatalf("expected one tool call in the response: %v", payload["tool_calls"])
	}
	call, _ := calls[0].(map[string]interface{})
	if call["tool"] != "add_task" {
		t.Fatalf("unexpected tool call: %v", call)
	}

	// Continuing the conversation keeps the id.
	convID := payload["conversation_id"].(float64)
	resp, payload = h.do(t, http.MethodPost, "/api/chat", "u-1", map[string]interface{}{
		"conversation_id": convID,
		"message":         "show my tasks",
	})
	if resp.StatusCode != http.StatusOK || payload["conversation_id"].(float64) != convID {
		t.Fatalf("conversation id must persist: %d %v", resp.StatusCode, payload)
	}
}

func TestChatEndpointLanguagePreference(t *testing.T) {
	h := newHarness(t)

	resp, payload := h.do(t, http.MethodPost, "/api/chat", "u-1", map[string]interface{}{
		"message":  "how is the weather",
		"language": "ur",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if !strings.Contains(payload["reply"].(string), "یاد دہانیاں") {
		t.Fatalf("expected an Urdu reply, got %v", payload["reply"])
	}
}

func TestChatEndpointRejections(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodPost, "/api/chat", "", map[string]interface{}{"message": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing user header must be 401, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/chat", "u-1", map[string]interface{}{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message must be 400, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/chat", "u-1", map[string]interface{}{
		"conversation_id": 999, "message": "hi",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation must be 404, got %d", resp.StatusCode)
	}

	// A conversation opened by one user is off-limits to another.
	_, payload := h.do(t, http.MethodPost, "/api/chat", "owner", map[string]interface{}{"message": "show my tasks"})
	convID := payload["conversation_id"].(float64)
	resp, _ = h.do(t, http.MethodPost, "/api/chat", "intruder", map[string]interface{}{
		"conversation_id": convID, "message": "show my tasks",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign conversation must be 403, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/chat", "u-1", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET must be 405, got %d", resp.StatusCode)
	}
}

func TestReminderEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created, err := h.tasks.CreateTask(ctx, task.Task{UserID: "u-1", Title: "water plants"})
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	at := time.Now().UTC().Add(time.Hour).Unix()

	resp, payload := h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/set", created.ID), "u-1",
		map[string]interface{}{"remind_at": at})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set must be 200, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = h.do(t, http.MethodGet, "/api/reminders", "u-1", nil)
	if resp.StatusCode != http.StatusOK || payload["count"].(float64) != 1 {
		t.Fatalf("unexpected list: %d %v", resp.StatusCode, payload)
	}

	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/snooze", created.ID), "u-1",
		map[string]interface{}{"minutes": 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snooze must be 200, got %d", resp.StatusCode)
	}

	// Ownership failures read as 404.
	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/dismiss", created.ID), "u-2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign task must be 404, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/cancel", created.ID), "u-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel must be 200, got %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/cancel", created.ID), "u-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel must be 409, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, fmt.Sprintf("/api/reminders/%d/levitate", created.ID), "u-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown action must be 404, got %d", resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	h := newHarness(t)

	resp, err := h.server.Client().Get(h.server.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health failed: %v %v", err, resp)
	}
	resp.Body.Close()

	statusResp, payload := h.do(t, http.MethodGet, "/api/status", "", nil)
	if statusResp.StatusCode != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("unexpected status payload: %d %v", statusResp.StatusCode, payload)
	}
}

func TestWebSocketReceivesReminderEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Now().UTC()
	h.engine.SetNow(func() time.Time { return base })

	created, _ := h.tasks.CreateTask(ctx, task.Task{UserID: "u-1", Title: "standup"})
	if _, err := h.engine.Set(ctx, "u-1", created.ID, base.Unix()-1); err != nil {
		t.Fatalf("set reminder failed: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(userHeader, "u-1")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v (%v)", err, resp)
	}
	defer conn.Close()

	// The server registers the channel after the handshake completes;
	// wait for it before firing the scan.
	deadline := time.Now().Add(2 * time.Second)
	for h.caster.ConnectionCount("u-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("channel never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.engine.RunScan(ctx)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if event["type"] != "reminder_due" {
		t.Fatalf("unexpected event type: %v", event["type"])
	}
	if int64(event["task_id"].(float64)) != created.ID {
		t.Fatalf("unexpected task id: %v", event["task_id"])
	}
}

func TestWebSocketAnswersTextPing(t *testing.T) {
	h := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(userHeader, "u-1")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(payload) != "pong" {
		t.Fatalf("expected pong, got %q", payload)
	}
}

func TestWebSocketRequiresUser(t *testing.T) {
	h := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial without identity must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}
