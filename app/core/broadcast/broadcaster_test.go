package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"taskpilot/app/pkg/types"
)

type stubChannel struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (c *stubChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster()
	first := &stubChannel{}
	second := &stubChannel{}
	other := &stubChannel{}
	b.Connect("u-1", first)
	b.Connect("u-1", second)
	b.Connect("u-2", other)

	b.Broadcast("u-1", types.NewEvent(types.EventTaskCreated, 7, map[string]interface{}{"title": "t"}))

	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("every channel of the user must receive the event")
	}
	if other.count() != 0 {
		t.Fatalf("other users must not receive the event")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(first.payloads[0], &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["type"] != "task_created" {
		t.Fatalf("unexpected type: %v", payload["type"])
	}
	if int64(payload["task_id"].(float64)) != 7 {
		t.Fatalf("unexpected task_id: %v", payload["task_id"])
	}
	if _, ok := payload["timestamp"].(string); !ok {
		t.Fatalf("missing timestamp: %v", payload)
	}
	data, ok := payload["data"].(map[string]interface{})
	if !ok || data["title"] != "t" {
		t.Fatalf("unexpected data: %v", payload["data"])
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	b := NewBroadcaster()
	// Must not panic or error; the event is simply dropped.
	b.Broadcast("nobody", types.NewEvent(types.EventTaskDeleted, 1, nil))
}

func TestBroadcastIsolatesFailedChannel(t *testing.T) {
	b := NewBroadcaster()
	bad := &stubChannel{fail: true}
	good := &stubChannel{}
	b.Connect("u-1", bad)
	b.Connect("u-1", good)

	b.Broadcast("u-1", types.NewEvent(types.EventTaskUpdated, 3, nil))

	if good.count() != 1 {
		t.Fatalf("healthy channel must still be served")
	}
	if !bad.closed {
		t.Fatalf("failed channel must be closed")
	}
	if b.ConnectionCount("u-1") != 1 {
		t.Fatalf("failed channel must be removed, have %d", b.ConnectionCount("u-1"))
	}

	// The dead channel stays gone on the next event.
	b.Broadcast("u-1", types.NewEvent(types.EventTaskUpdated, 3, nil))
	if good.count() != 2 {
		t.Fatalf("expected second delivery, got %d", good.count())
	}
}

// gateChannel blocks inside Send until released, simulating a peer
// that stopped draining its connection.
type gateChannel struct {
	entered chan struct{}
	release chan struct{}
}

func newGateChannel() *gateChannel {
	return &gateChannel{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (c *gateChannel) Send(payload []byte) error {
	c.entered <- struct{}{}
	<-c.release
	return nil
}

func (c *gateChannel) Close() error { return nil }

func TestBroadcastIndependentAcrossUsers(t *testing.T) {
	b := NewBroadcaster()
	stalled := newGateChannel()
	healthy := &stubChannel{}
	b.Connect("u-slow", stalled)
	b.Connect("u-fast", healthy)

	go b.Broadcast("u-slow", types.NewEvent(types.EventReminderDue, 1, nil))
	<-stalled.entered
	defer close(stalled.release)

	// With u-slow's delivery stuck mid-send, u-fast's broadcast and a
	// new connect must still go through.
	done := make(chan struct{})
	go func() {
		b.Broadcast("u-fast", types.NewEvent(types.EventTaskCreated, 2, nil))
		b.Connect("u-fast", &stubChannel{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast to another user stalled behind a stuck delivery")
	}
	if healthy.count() != 1 {
		t.Fatalf("expected delivery to the healthy user, got %d", healthy.count())
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	b := NewBroadcaster()
	ch := &stubChannel{}
	b.Connect("u-1", ch)
	if b.UserCount() != 1 {
		t.Fatalf("expected one live user")
	}
	b.Disconnect("u-1", ch)
	if b.UserCount() != 0 || b.ConnectionCount("u-1") != 0 {
		t.Fatalf("disconnect must drop the empty user entry")
	}
}
