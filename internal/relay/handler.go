package relay

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

// eventFilter narrows a subscription by feed and tab. Nil sets accept everything.
type eventFilter struct {
	feeds map[string]bool
	tabs  map[types.TabID]bool
}

func parseFilter(r *http.Request) eventFilter {
	q := r.URL.Query()
	var f eventFilter
	for _, name := range splitValues(q["feed"]) {
		if f.feeds == nil {
			f.feeds = make(map[string]bool)
		}
		f.feeds[name] = true
	}
	for _, tab := range splitValues(q["tab"]) {
		if f.tabs == nil {
			f.tabs = make(map[types.TabID]bool)
		}
		f.tabs[types.TabID(tab)] = true
	}
	return f
}

// splitValues flattens repeated and comma separated query values.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (f eventFilter) match(evt Event) bool {
	if f.feeds != nil && !f.feeds[evt.Feed] {
		return false
	}
	if f.tabs != nil && !f.tabs[evt.Tab] {
		return false
	}
	return true
}

// SSEHandler streams broker events as server-sent events. Clients may filter with
// ?feed=badge,capture and ?tab=12&tab=13.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		filter := parseFilter(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !filter.match(evt) {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
