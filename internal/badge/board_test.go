package badge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

func TestBoardPublishesChanges(t *testing.T) {
	broker := relay.NewBroker()
	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)

	board := NewBoard(broker)
	board.Set("5", Count(2))

	select {
	case evt := <-ch:
		if evt.Feed != relay.FeedBadge || evt.Tab != "5" {
			t.Fatalf("event = %+v; want badge feed for tab 5", evt)
		}
		var got struct {
			TabID string `json:"tabId"`
			Text  string `json:"text"`
			Color string `json:"color"`
		}
		if err := json.Unmarshal([]byte(evt.Payload), &got); err != nil {
			t.Fatalf("json.Unmarshal() error = %v", err)
		}
		if got.TabID != "5" || got.Text != "2" || got.Color != "#28a745" {
			t.Fatalf("payload = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for badge event")
	}
}

func TestBoardResetFollowsStore(t *testing.T) {
	store := capture.NewStore()
	board := NewBoard(nil)
	board.Follow(store)

	board.Set("1", DRM)
	store.Navigate("1", true)
	if got := board.Get("1"); got != Empty {
		t.Fatalf("Get() after navigation = %+v; want empty", got)
	}

	board.Set("1", Key)
	store.Navigate("1", false)
	if got := board.Get("1"); got != Key {
		t.Fatalf("Get() after sub-frame navigation = %+v; want KEY", got)
	}

	store.CloseTab("1")
	board.mu.RLock()
	_, ok := board.badges["1"]
	board.mu.RUnlock()
	if ok {
		t.Fatalf("closed tab still has a badge entry")
	}
}

func TestBoardFollowsAdds(t *testing.T) {
	store := capture.NewStore()
	board := NewBoard(nil)
	board.Follow(store)

	store.AddStream("2", types.DetectedStream{URL: "https://cdn/a.m3u8"})
	store.AddStream("2", types.DetectedStream{URL: "https://cdn/b.mpd"})
	if got := board.Get("2"); got != Count(2) {
		t.Fatalf("Get() after two streams = %+v; want count 2", got)
	}
	store.AddStream("2", types.DetectedStream{URL: "https://cdn/a.m3u8"})
	if got := board.Get("2"); got != Count(2) {
		t.Fatalf("Get() after duplicate stream = %+v; want count 2", got)
	}

	store.AddLicense("2", types.DetectedLicense{URL: "https://lic/x"})
	if got := board.Get("2"); got != DRM {
		t.Fatalf("Get() after license = %+v; want DRM", got)
	}
	store.AddKey("2", types.DetectedKey{KID: "k1", Key: "v"})
	if got := board.Get("2"); got != Key {
		t.Fatalf("Get() after key = %+v; want KEY", got)
	}

	store.CloseTab("2")
	store.AddStream("2", types.DetectedStream{URL: "https://cdn/c.m3u8"})
	if got := board.Get("2"); got != Count(1) {
		t.Fatalf("Get() after reopen = %+v; want count 1", got)
	}
}
