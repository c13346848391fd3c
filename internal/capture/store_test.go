package capture

import (
	"sync"
	"testing"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

func TestAddStreamDedupesByURL(t *testing.T) {
	s := NewStore()
	stream := types.DetectedStream{Type: types.StreamHLS, URL: "https://cdn.example/master.m3u8"}

	_, n, added := s.AddStream("7", stream)
	if !added || n != 1 {
		t.Fatalf("AddStream() = (%d, %v); want (1, true)", n, added)
	}
	_, n, added = s.AddStream("7", stream)
	if added || n != 1 {
		t.Fatalf("second AddStream() = (%d, %v); want (1, false)", n, added)
	}

	snap := s.Snapshot("7")
	if len(snap.Streams) != 1 {
		t.Fatalf("len(Streams) = %d; want 1", len(snap.Streams))
	}
	if snap.Streams[0].MediaInfo.State != types.MediaPending {
		t.Fatalf("MediaInfo.State = %v; want pending", snap.Streams[0].MediaInfo.State)
	}
}

func TestAddLicenseDedupesByURL(t *testing.T) {
	s := NewStore()
	lic := types.DetectedLicense{URL: "https://lic.example/license"}
	if !s.AddLicense("1", lic) {
		t.Fatalf("AddLicense() = false; want true")
	}
	if s.AddLicense("1", lic) {
		t.Fatalf("second AddLicense() = true; want false")
	}
	if s.AddLicense("2", lic) != true {
		t.Fatalf("AddLicense() on another tab = false; want true")
	}
	if got := len(s.Snapshot("1").Licenses); got != 1 {
		t.Fatalf("len(Licenses) = %d; want 1", got)
	}
}

func TestAddKeyFirstSeenWins(t *testing.T) {
	s := NewStore()
	s.AddKey("1", types.DetectedKey{KID: "k1", Key: "first"})
	if s.AddKey("1", types.DetectedKey{KID: "k1", Key: "second"}) {
		t.Fatalf("AddKey() with duplicate kid = true; want false")
	}
	keys := s.Snapshot("1").Keys
	if len(keys) != 1 || keys[0].Key != "first" {
		t.Fatalf("Keys = %+v; want only the first key", keys)
	}
}

func TestNavigateMainFrameClearsEverything(t *testing.T) {
	s := NewStore()
	var resets []ResetReason
	s.OnReset(func(tab types.TabID, reason ResetReason) {
		if tab == "9" {
			resets = append(resets, reason)
		}
	})

	s.AddStream("9", types.DetectedStream{URL: "https://a/master.m3u8"})
	s.AddLicense("9", types.DetectedLicense{URL: "https://a/license"})
	s.AddKey("9", types.DetectedKey{KID: "k"})
	s.SetCached("9", &types.PagePackage{PageURL: "https://a/"})
	s.EnableMonitoring("9")

	if s.Navigate("9", false) {
		t.Fatalf("Navigate(sub frame) = true; want false")
	}
	if got := len(s.Snapshot("9").Streams); got != 1 {
		t.Fatalf("sub-frame navigation removed streams: len = %d", got)
	}

	if !s.Navigate("9", true) {
		t.Fatalf("Navigate(main frame) = false; want true")
	}
	snap := s.Snapshot("9")
	if snap.Streams == nil || snap.Licenses == nil || snap.Keys == nil {
		t.Fatalf("Snapshot() returned nil slices after cleanup: %+v", snap)
	}
	if len(snap.Streams)+len(snap.Licenses)+len(snap.Keys) != 0 {
		t.Fatalf("Snapshot() after navigation = %+v; want empty", snap)
	}
	if _, ok := s.Cached("9"); ok {
		t.Fatalf("Cached() survived navigation")
	}
	if _, ok := s.Monitoring("9"); ok {
		t.Fatalf("Monitoring() survived navigation")
	}
	if len(resets) != 1 || resets[0] != ResetNavigation {
		t.Fatalf("reset hooks = %v; want [navigation]", resets)
	}

	s.Navigate("9", true)
	if got := len(s.Snapshot("9").Streams); got != 0 {
		t.Fatalf("repeated navigation left streams: %d", got)
	}
}

func TestCloseTabClearsEverything(t *testing.T) {
	s := NewStore()
	s.AddStream("3", types.DetectedStream{URL: "https://a/x.mpd"})
	s.CloseTab("3")
	if got := s.StreamCount("3"); got != 0 {
		t.Fatalf("StreamCount() after close = %d; want 0", got)
	}
	if len(s.Tabs()) != 0 {
		t.Fatalf("Tabs() = %v; want none", s.Tabs())
	}
}

func TestResolveMediaOnce(t *testing.T) {
	s := NewStore()
	ref, _, _ := s.AddStream("1", types.DetectedStream{URL: "https://a/master.m3u8"})

	if s.ResolveMedia(ref, types.PendingMedia()) {
		t.Fatalf("ResolveMedia(pending) = true; want false")
	}
	if !s.ResolveMedia(ref, types.ReadyMedia(types.ManifestInfo{VariantCount: 2})) {
		t.Fatalf("ResolveMedia() = false; want true")
	}
	if s.ResolveMedia(ref, types.FailedMedia("late", 0)) {
		t.Fatalf("second ResolveMedia() = true; want false")
	}
	info, ok := s.Snapshot("1").Streams[0].MediaInfo.Ready()
	if !ok || info.VariantCount != 2 {
		t.Fatalf("MediaInfo = %+v, %v; want ready with 2 variants", info, ok)
	}
}

func TestResolveMediaIgnoresPreviousPage(t *testing.T) {
	s := NewStore()
	url := "https://a/master.m3u8"
	oldRef, _, _ := s.AddStream("1", types.DetectedStream{URL: url})
	s.Navigate("1", true)
	s.AddStream("1", types.DetectedStream{URL: url})

	if s.ResolveMedia(oldRef, types.ReadyMedia(types.ManifestInfo{})) {
		t.Fatalf("ResolveMedia() with stale ref = true; want false")
	}
	if st := s.Snapshot("1").Streams[0].MediaInfo.State; st != types.MediaPending {
		t.Fatalf("new page stream state = %v; want pending", st)
	}
}

func TestMergeHeadersReplacesMap(t *testing.T) {
	s := NewStore()
	s.AddLicense("1", types.DetectedLicense{URL: "https://a/license", Headers: map[string]string{"referer": "r"}})
	before := s.Snapshot("1").Licenses[0].Headers

	if !s.MergeHeaders("1", "https://a/license", map[string]string{"Cookie": "sid=1"}) {
		t.Fatalf("MergeHeaders() = false; want true")
	}
	after := s.Snapshot("1").Licenses[0].Headers
	if after["Cookie"] != "sid=1" || after["referer"] != "r" {
		t.Fatalf("merged headers = %v", after)
	}
	if _, ok := before["Cookie"]; ok {
		t.Fatalf("MergeHeaders() mutated an earlier snapshot")
	}
	if s.MergeHeaders("1", "https://a/unknown", map[string]string{"Cookie": "x"}) {
		t.Fatalf("MergeHeaders() for unknown url = true; want false")
	}
}

func TestConcurrentIdenticalStreamsStoreOnce(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, added := s.AddStream("1", types.DetectedStream{URL: "https://a/master.m3u8"}); added {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("inserted = %d; want 1", inserted)
	}
}
