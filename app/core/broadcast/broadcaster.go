package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"taskpilot/app/pkg/types"
)

// Channel is one live push connection for a user. Send must be safe to
// call from the broadcaster's goroutine; Close tears the connection
// down after a delivery failure.
type Channel interface {
	Send(payload []byte) error
	Close() error
}

// Broadcaster fans mutation and reminder events out to every live
// channel of the owning user. Delivery is best-effort: events are
// never queued, a user with no channels drops them silently, and a
// failing channel is removed without surfacing an error to the caller.
type Broadcaster struct {
	mu       sync.Mutex
	channels map[string]map[Channel]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{channels: make(map[string]map[Channel]struct{})}
}

// Connect registers a channel for the user. The caller is responsible
// for having verified the user's identity.
func (b *Broadcaster) Connect(userID string, ch Channel) {
	if userID == "" || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.channels[userID]
	if !ok {
		set = make(map[Channel]struct{})
		b.channels[userID] = set
	}
	set[ch] = struct{}{}
	log.Printf("[Broadcast] Channel connected user=%s total=%d", userID, len(set))
}

// Disconnect removes a channel, dropping the user's entry once its
// channel set is empty.
func (b *Broadcaster) Disconnect(userID string, ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(userID, ch)
}

func (b *Broadcaster) removeLocked(userID string, ch Channel) {
	set, ok := b.channels[userID]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.channels, userID)
	}
}

// Broadcast serializes the event and attempts delivery to every
// channel of the user. A failure on one channel is isolated: the
// channel is closed and removed while delivery to the remaining
// channels continues. Broadcast never returns an error.
//
// Sends run outside the registry lock. A slow or dead connection can
// stall its own user's delivery, but never Connect, Disconnect, or a
// broadcast to anyone else.
func (b *Broadcaster) Broadcast(userID string, event types.Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		log.Printf("[Broadcast] Encode failed user=%s kind=%s: %v", userID, event.Kind, err)
		return
	}

	b.mu.Lock()
	set, ok := b.channels[userID]
	if !ok {
		b.mu.Unlock()
		return
	}
	targets := make([]Channel, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	var dead []Channel
	for _, ch := range targets {
		if err := ch.Send(payload); err != nil {
			log.Printf("[Broadcast] Delivery failed user=%s kind=%s: %v", userID, event.Kind, err)
			dead = append(dead, ch)
		}
	}
	if len(dead) == 0 {
		return
	}

	b.mu.Lock()
	for _, ch := range dead {
		_ = ch.Close()
		b.removeLocked(userID, ch)
	}
	b.mu.Unlock()
}

// ConnectionCount reports the number of live channels for the user.
func (b *Broadcaster) ConnectionCount(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[userID])
}

// UserCount reports how many users currently hold at least one
// channel.
func (b *Broadcaster) UserCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// encodeEvent builds the {type, task_id, data, timestamp} record the
// live-channel protocol promises.
func encodeEvent(event types.Event) ([]byte, error) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload := []byte(`{}`)
	payload, err := sjson.SetBytes(payload, "type", event.Kind)
	if err != nil {
		return nil, err
	}
	payload, err = sjson.SetBytes(payload, "task_id", event.TaskID)
	if err != nil {
		return nil, err
	}
	if event.Data != nil {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return nil, err
		}
		payload, err = sjson.SetRawBytes(payload, "data", raw)
		if err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(payload, "timestamp", ts.Format(time.RFC3339))
}
