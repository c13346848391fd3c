package cdp

import (
	"sync"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/classify"
	"github.com/dgnsrekt/streamsniff/internal/headers"
)

const (
	// requestTTL bounds how long a request id is remembered waiting for its
	// counterpart event.
	requestTTL = time.Minute

	// extraInfoGrace is how long a request waits for its ExtraInfo headers
	// before it is classified with the headers it has.
	extraInfoGrace = 500 * time.Millisecond
)

type pendingRequest struct {
	req classify.Request
	at  time.Time
}

type earlyHeaders struct {
	headers map[string]string
	at      time.Time
}

// pairing is the outcome of an ExtraInfo event.
type pairing int

const (
	// pairedNone means the request has not been seen yet.
	pairedNone pairing = iota
	// pairedPending means the request was waiting and is now complete.
	pairedPending
	// pairedLate means the request was already classified without the headers.
	pairedLate
)

// requestLog pairs Network.requestWillBeSent with its ExtraInfo event. The two
// arrive in either order; ExtraInfo carries the full header set including
// cookies, so a request is held back until both halves are known or
// extraInfoGrace passes.
type requestLog struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
	flushed map[string]pendingRequest
	early   map[string]earlyHeaders
}

func newRequestLog() *requestLog {
	return &requestLog{
		pending: make(map[string]pendingRequest),
		flushed: make(map[string]pendingRequest),
		early:   make(map[string]earlyHeaders),
	}
}

// request records req. When its extra headers were reported first it returns
// req with them merged and true. Otherwise req is held until extra or expire.
func (l *requestLog) request(id string, req classify.Request, now time.Time) (classify.Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.early[id]; ok {
		delete(l.early, id)
		req.Headers = headers.Merge(req.Headers, e.headers)
		return req, true
	}
	delete(l.flushed, id)
	l.pending[id] = pendingRequest{req: req, at: now}
	return req, false
}

// extra records extra headers for id. For a held request it returns the
// request with h merged. For one already released by expire it returns the
// request as it was classified, and the caller merges h into the stored entry.
func (l *requestLog) extra(id string, h map[string]string, now time.Time) (classify.Request, pairing) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pending[id]; ok {
		delete(l.pending, id)
		p.req.Headers = headers.Merge(p.req.Headers, h)
		return p.req, pairedPending
	}
	if p, ok := l.flushed[id]; ok {
		delete(l.flushed, id)
		return p.req, pairedLate
	}
	l.early[id] = earlyHeaders{headers: h, at: now}
	return classify.Request{}, pairedNone
}

// expire releases a request still waiting for its extra headers.
func (l *requestLog) expire(id string, now time.Time) (classify.Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[id]
	if !ok {
		return classify.Request{}, false
	}
	delete(l.pending, id)
	l.flushed[id] = pendingRequest{req: p.req, at: now}
	return p.req, true
}

// sweep drops entries older than requestTTL and reports how many were removed.
func (l *requestLog) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range []map[string]pendingRequest{l.pending, l.flushed} {
		for id, p := range m {
			if now.Sub(p.at) > requestTTL {
				delete(m, id)
				n++
			}
		}
	}
	for id, e := range l.early {
		if now.Sub(e.at) > requestTTL {
			delete(l.early, id)
			n++
		}
	}
	return n
}

func (l *requestLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending) + len(l.flushed) + len(l.early)
}
