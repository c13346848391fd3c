package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()

	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedBadge, Payload: "{}"})
	}
	if got := len(ch); got != subscriberBufSize {
		t.Fatalf("buffered = %d; want %d", got, subscriberBufSize)
	}
	if got := b.Dropped(); got != 5 {
		t.Fatalf("Dropped() = %d; want 5", got)
	}

	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", b.ClientCount())
	}
	for range ch {
	}
}

func TestPublishJSON(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	b.PublishJSON(FeedCapture, "3", map[string]int{"n": 1})
	evt := <-ch
	if evt.Feed != FeedCapture || evt.Tab != "3" || evt.Payload != `{"n":1}` {
		t.Fatalf("event = %+v", evt)
	}
}

func TestEncodeSplicesID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		payload any
		want    string
	}{
		{name: "object", id: "abc", payload: SuccessReply{Success: true}, want: `{"id":"abc","success":true}`},
		{name: "empty_object", id: "x", payload: struct{}{}, want: `{"id":"x"}`},
		{name: "no_id", id: "", payload: DecodeReply{}, want: `{"value":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.id, tt.payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Encode() = %s; want %s", got, tt.want)
			}
		})
	}

	if _, err := Encode("a", []int{1}); err == nil {
		t.Fatalf("Encode() accepted a non-object payload")
	}
}

func TestMessageKind(t *testing.T) {
	if got := (Message{Name: "dec", Action: "getStreams"}).Kind(); got != ActionDecode {
		t.Fatalf("Kind() = %q; want dec", got)
	}
	zero, one := 0, 1
	if !(Message{}).MainFrame() || !(Message{FrameID: &zero}).MainFrame() || (Message{FrameID: &one}).MainFrame() {
		t.Fatalf("MainFrame() mismatch")
	}
	if (Message{Action: ActionObserveRequest}).Blocking() || !(Message{Name: ActionDecode}).Blocking() {
		t.Fatalf("Blocking() mismatch")
	}
}

func TestSSEHandlerFiltersFeedsAndTabs(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feed=badge&tab=7", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	for b.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{Feed: FeedCapture, Tab: "7", Payload: `"wrong feed"`})
	b.Publish(Event{Feed: FeedBadge, Tab: "8", Payload: `"wrong tab"`})
	b.Publish(Event{Feed: FeedBadge, Tab: "7", Payload: `"match"`})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read error = %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: badge" || lines[1] != `data: "match"` {
		t.Fatalf("stream = %q", lines)
	}
}

type recordingDispatcher struct {
	mu      sync.Mutex
	senders []types.TabID
	release chan struct{}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sender types.TabID, msg Message) any {
	d.mu.Lock()
	d.senders = append(d.senders, sender)
	d.mu.Unlock()
	switch msg.Kind() {
	case ActionDecode:
		<-d.release
		v := "decoded:" + msg.Value
		return DecodeReply{Value: &v}
	case ActionGetStreams:
		return map[string]any{"streams": []any{}, "tab": string(msg.TabID)}
	default:
		return SuccessReply{Success: true}
	}
}

func TestWSRoundTrip(t *testing.T) {
	d := &recordingDispatcher{release: make(chan struct{})}
	srv := httptest.NewServer(WSHandler(d))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?tab=42")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	decoded := make(chan DecodeReply, 1)
	go func() {
		var out DecodeReply
		if err := client.Call(ctx, Message{Name: ActionDecode, Value: "abc"}, &out); err != nil {
			t.Errorf("Call(dec) error = %v", err)
		}
		decoded <- out
	}()

	// A slow decode must not hold up later fast messages.
	var streams struct {
		ID  string `json:"id"`
		Tab string `json:"tab"`
	}
	if err := client.Call(ctx, Message{Action: ActionGetStreams, TabID: "9"}, &streams); err != nil {
		t.Fatalf("Call(getStreams) error = %v", err)
	}
	if streams.Tab != "9" || streams.ID == "" {
		t.Fatalf("getStreams reply = %+v", streams)
	}

	close(d.release)
	select {
	case out := <-decoded:
		if out.Value == nil || *out.Value != "decoded:abc" {
			t.Fatalf("decode reply = %+v", out)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for decode reply")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.senders {
		if s != "42" {
			t.Fatalf("sender = %q; want 42", s)
		}
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		query string
		evt   Event
		want  bool
	}{
		{name: "no_filter", query: "", evt: Event{Feed: FeedCapture, Tab: "1"}, want: true},
		{name: "feed_match", query: "feed=badge", evt: Event{Feed: FeedBadge, Tab: "1"}, want: true},
		{name: "feed_miss", query: "feed=badge", evt: Event{Feed: FeedCapture, Tab: "1"}, want: false},
		{name: "comma_feeds", query: "feed=badge,capture", evt: Event{Feed: FeedCapture, Tab: "1"}, want: true},
		{name: "repeated_tabs", query: "tab=3&tab=4", evt: Event{Feed: FeedBadge, Tab: "4"}, want: true},
		{name: "tab_miss", query: "tab=3", evt: Event{Feed: FeedBadge, Tab: "4"}, want: false},
		{name: "blank_values_ignored", query: "feed=,&tab=", evt: Event{Feed: FeedBadge, Tab: "9"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/events?"+tt.query, nil)
			if got := parseFilter(r).match(tt.evt); got != tt.want {
				t.Fatalf("match(%+v) with %q = %v; want %v", tt.evt, tt.query, got, tt.want)
			}
		})
	}
}
