// Package capture holds the per-tab state of everything observed in a browser tab.
package capture

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// ResetReason tells reset hooks why a tab's state was dropped.
type ResetReason int

const (
	ResetNavigation ResetReason = iota
	ResetClosed
)

// AddedKind names what kind of entry an add hook was told about.
type AddedKind int

const (
	AddedStream AddedKind = iota
	AddedLicense
	AddedKey
)

// Added describes one new entry stored for a tab.
type Added struct {
	Kind AddedKind
	// Streams is the tab's stream count after the insert.
	Streams int
}

func (r ResetReason) String() string {
	if r == ResetClosed {
		return "closed"
	}
	return "navigation"
}

// StreamRef points at a stored stream within one lifetime of its tab. A ref taken
// before a navigation no longer resolves after it.
type StreamRef struct {
	Tab types.TabID
	URL string
	gen uint64
}

// Snapshot is a copy of a tab's captured collections.
type Snapshot struct {
	Streams  []types.DetectedStream  `json:"streams"`
	Licenses []types.DetectedLicense `json:"licenses"`
	Keys     []types.DetectedKey     `json:"keys"`
}

type tabState struct {
	gen      uint64
	streams  []*types.DetectedStream
	licenses []types.DetectedLicense
	keys     []types.DetectedKey
	cached   *types.PagePackage
	monitor  *types.MonitoringState
}

// Store is the process-wide table of per-tab capture state. Every dedupe check
// happens under the same lock as its insert.
type Store struct {
	mu      sync.RWMutex
	tabs    map[types.TabID]*tabState
	nextGen uint64

	hooksMu  sync.RWMutex
	hooks    []func(types.TabID, ResetReason)
	addHooks []func(types.TabID, Added)
}

func NewStore() *Store {
	return &Store{tabs: make(map[types.TabID]*tabState)}
}

// OnReset registers fn to run after a tab's state is dropped.
//
// Reset and add hooks run under the store lock, in the order the changes
// happened. They must not call back into the Store.
func (s *Store) OnReset(fn func(tab types.TabID, reason ResetReason)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// OnAdd registers fn to run after a new stream, license or key is stored.
func (s *Store) OnAdd(fn func(tab types.TabID, added Added)) {
	s.hooksMu.Lock()
	s.addHooks = append(s.addHooks, fn)
	s.hooksMu.Unlock()
}

// added runs the add hooks. Callers hold s.mu.
func (s *Store) added(tab types.TabID, a Added) {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	for _, fn := range s.addHooks {
		fn(tab, a)
	}
}

// touch returns the tab's state, creating it on first use. Callers hold s.mu.
func (s *Store) touch(tab types.TabID) *tabState {
	st, ok := s.tabs[tab]
	if !ok {
		s.nextGen++
		st = &tabState{gen: s.nextGen}
		s.tabs[tab] = st
	}
	return st
}

// AddStream inserts a stream unless its URL is already known for the tab. It
// returns a ref for attaching analysis results, the number of streams now held
// and whether the insert happened.
func (s *Store) AddStream(tab types.TabID, stream types.DetectedStream) (StreamRef, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.touch(tab)
	ref := StreamRef{Tab: tab, URL: stream.URL, gen: st.gen}
	for _, existing := range st.streams {
		if existing.URL == stream.URL {
			return ref, len(st.streams), false
		}
	}
	stream.MediaInfo = types.PendingMedia()
	st.streams = append(st.streams, &stream)
	s.added(tab, Added{Kind: AddedStream, Streams: len(st.streams)})
	return ref, len(st.streams), true
}

// ResolveMedia attaches an analysis outcome to a pending stream. It is a no-op
// when the stream is gone, belongs to an earlier page, or was already resolved.
func (s *Store) ResolveMedia(ref StreamRef, info types.MediaInfo) bool {
	if info.State == types.MediaPending {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tabs[ref.Tab]
	if !ok || st.gen != ref.gen {
		return false
	}
	for _, stream := range st.streams {
		if stream.URL != ref.URL {
			continue
		}
		if stream.MediaInfo.State != types.MediaPending {
			return false
		}
		stream.MediaInfo = info
		return true
	}
	return false
}

// AddLicense inserts a license unless its URL is already known for the tab.
func (s *Store) AddLicense(tab types.TabID, lic types.DetectedLicense) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.touch(tab)
	for _, existing := range st.licenses {
		if existing.URL == lic.URL {
			return false
		}
	}
	st.licenses = append(st.licenses, lic)
	s.added(tab, Added{Kind: AddedLicense, Streams: len(st.streams)})
	return true
}

// AddKey inserts a key unless its KID is already known. The first key for a KID wins.
func (s *Store) AddKey(tab types.TabID, key types.DetectedKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.touch(tab)
	for _, existing := range st.keys {
		if existing.KID == key.KID {
			return false
		}
	}
	st.keys = append(st.keys, key)
	s.added(tab, Added{Kind: AddedKey, Streams: len(st.streams)})
	return true
}

// MergeHeaders folds late-arriving headers into the stream or license stored
// under url. Header maps are replaced, never mutated, so snapshots stay stable.
func (s *Store) MergeHeaders(tab types.TabID, url string, h map[string]string) bool {
	if len(h) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tabs[tab]
	if !ok {
		return false
	}
	merged := false
	for _, stream := range st.streams {
		if stream.URL == url {
			stream.Headers = headers.Merge(stream.Headers, h)
			merged = true
		}
	}
	for i := range st.licenses {
		if st.licenses[i].URL == url {
			st.licenses[i].Headers = headers.Merge(st.licenses[i].Headers, h)
			merged = true
		}
	}
	return merged
}

// Snapshot copies the tab's streams, licenses and keys. Unknown tabs yield empty
// slices rather than nil.
func (s *Store) Snapshot(tab types.TabID) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Streams:  []types.DetectedStream{},
		Licenses: []types.DetectedLicense{},
		Keys:     []types.DetectedKey{},
	}
	st, ok := s.tabs[tab]
	if !ok {
		return snap
	}
	for _, stream := range st.streams {
		snap.Streams = append(snap.Streams, *stream)
	}
	snap.Licenses = append(snap.Licenses, st.licenses...)
	snap.Keys = append(snap.Keys, st.keys...)
	return snap
}

// StreamCount returns the number of streams held for the tab.
func (s *Store) StreamCount(tab types.TabID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.tabs[tab]; ok {
		return len(st.streams)
	}
	return 0
}

// SetCached stores a built page package verbatim.
func (s *Store) SetCached(tab types.TabID, pkg *types.PagePackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(tab).cached = pkg
}

// Cached returns the last package stored with SetCached.
func (s *Store) Cached(tab types.TabID) (*types.PagePackage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tabs[tab]
	if !ok || st.cached == nil {
		return nil, false
	}
	return st.cached, true
}

// EnableMonitoring turns the monitoring toggle on for the tab.
func (s *Store) EnableMonitoring(tab types.TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(tab).monitor = &types.MonitoringState{Enabled: true}
}

// Monitoring returns the tab's monitoring toggle if one was set.
func (s *Store) Monitoring(tab types.TabID) (types.MonitoringState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tabs[tab]
	if !ok || st.monitor == nil {
		return types.MonitoringState{}, false
	}
	return *st.monitor, true
}

// Tabs lists the tabs that currently hold state.
func (s *Store) Tabs() []types.TabID {
	s.mu.RLock()
	tabs := make([]types.TabID, 0, len(s.tabs))
	for tab := range s.tabs {
		tabs = append(tabs, tab)
	}
	s.mu.RUnlock()
	slices.Sort(tabs)
	return tabs
}

// CloseTab drops every collection for the tab.
func (s *Store) CloseTab(tab types.TabID) {
	s.drop(tab, ResetClosed)
}

// Navigate drops the tab's state when its main frame starts a new navigation.
// Sub-frame navigations leave state untouched.
func (s *Store) Navigate(tab types.TabID, mainFrame bool) bool {
	if !mainFrame {
		return false
	}
	s.drop(tab, ResetNavigation)
	return true
}

func (s *Store) drop(tab types.TabID, reason ResetReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.tabs[tab]; existed {
		slog.Debug("capture state dropped", "tab_id", tab, "reason", reason.String())
	}
	delete(s.tabs, tab)

	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	for _, fn := range s.hooks {
		fn(tab, reason)
	}
}
