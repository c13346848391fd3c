package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

const subscriberBufSize = 256

// Event feeds.
const (
	FeedBadge     = "badge"
	FeedCapture   = "capture"
	FeedLifecycle = "lifecycle"
)

// Event is one engine notification delivered to SSE and WebSocket subscribers.
type Event struct {
	Feed    string
	Tab     types.TabID
	Payload string
}

// Broker fans engine events out to subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks the caller, which is usually on the request path.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishJSON encodes v as the event payload.
func (b *Broker) PublishJSON(feed string, tab types.TabID, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("relay event not encodable", "feed", feed, "tab_id", tab, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Tab: tab, Payload: string(payload)})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
