package cdp

import (
	"sort"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// TabRegistry maps CDP target IDs to tab metadata. The target ID doubles as the
// engine's tab id.
type TabRegistry struct {
	tabs map[target.ID]*types.TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*types.TabInfo)}
}

func (r *TabRegistry) Register(targetID target.ID, url, title string) *types.TabInfo {
	info := &types.TabInfo{
		TabID:    types.TabID(targetID),
		TargetID: string(targetID),
		URL:      url,
		Title:    title,
	}

	r.mu.Lock()
	r.tabs[targetID] = info
	r.mu.Unlock()

	return info
}

// UpdateURL records a main-frame navigation. Unknown targets are ignored.
func (r *TabRegistry) UpdateURL(targetID target.ID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.tabs[targetID]; ok {
		info.URL = url
	}
}

func (r *TabRegistry) Get(targetID target.ID) (*types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return nil, false
	}
	cp := *info
	return &cp, true
}

func (r *TabRegistry) GetByTabID(tab types.TabID) (*types.TabInfo, bool) {
	return r.Get(target.ID(tab))
}

func (r *TabRegistry) Remove(targetID target.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tabs[targetID]
	delete(r.tabs, targetID)
	return ok
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// List returns copies of every registered tab ordered by tab id.
func (r *TabRegistry) List() []types.TabInfo {
	r.mu.RLock()
	out := make([]types.TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
