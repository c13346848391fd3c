// Package badge tracks the per-tab indicator shown to the user and broadcasts
// every change.
package badge

import (
	"strconv"
	"sync"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// Badge is the text and background colour of a tab's indicator.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

var (
	Empty = Badge{}
	DRM   = Badge{Text: "DRM", Color: "#d9534f"}
	Key   = Badge{Text: "KEY", Color: "#800080"}
)

// Count is the green stream counter.
func Count(n int) Badge {
	return Badge{Text: strconv.Itoa(n), Color: "#28a745"}
}

// Publisher receives badge changes. *relay.Broker satisfies it.
type Publisher interface {
	PublishJSON(feed string, tab types.TabID, v any)
}

type change struct {
	TabID types.TabID `json:"tabId"`
	Badge
}

// Board stores the current badge per tab.
type Board struct {
	mu     sync.RWMutex
	badges map[types.TabID]Badge
	pub    Publisher
}

// NewBoard returns a board publishing to pub. A nil pub only records state.
func NewBoard(pub Publisher) *Board {
	return &Board{badges: make(map[types.TabID]Badge), pub: pub}
}

// Follow keeps the board in step with store: new entries update the badge,
// resets clear it.
func (b *Board) Follow(store *capture.Store) {
	store.OnAdd(b.HandleAdd)
	store.OnReset(b.HandleReset)
}

// Set records b for the tab and publishes it. Publishing happens under the
// lock so subscribers see changes in the order they were made.
func (b *Board) Set(tab types.TabID, badge Badge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.badges[tab] = badge
	if b.pub != nil {
		b.pub.PublishJSON(relay.FeedBadge, tab, change{TabID: tab, Badge: badge})
	}
}

// Get returns the tab's badge, Empty when none was set.
func (b *Board) Get(tab types.TabID) Badge {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.badges[tab]
}

// HandleAdd is registered with capture.Store.OnAdd. A new stream shows the
// stream count, a new license DRM and a new key KEY.
func (b *Board) HandleAdd(tab types.TabID, a capture.Added) {
	switch a.Kind {
	case capture.AddedStream:
		b.Set(tab, Count(a.Streams))
	case capture.AddedLicense:
		b.Set(tab, DRM)
	case capture.AddedKey:
		b.Set(tab, Key)
	}
}

// HandleReset is registered with capture.Store.OnReset. Navigation clears the
// badge; a closed tab is forgotten without an update.
func (b *Board) HandleReset(tab types.TabID, reason capture.ResetReason) {
	if reason == capture.ResetNavigation {
		b.Set(tab, Empty)
		return
	}
	b.mu.Lock()
	delete(b.badges, tab)
	b.mu.Unlock()
}
