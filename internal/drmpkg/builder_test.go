package drmpkg

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

var fixedNow = func() time.Time { return time.UnixMilli(1710000000000) }

func staticCookies(m map[string]string) CookieSource {
	return CookieFunc(func(context.Context, types.TabID, string) (map[string]string, error) {
		return m, nil
	})
}

func seededStore() *capture.Store {
	s := capture.NewStore()
	ref, _, _ := s.AddStream("1", types.DetectedStream{
		Type:    types.StreamDASH,
		URL:     "https://cdn/manifest.mpd",
		Headers: map[string]string{"Referer": "https://site/"},
	})
	s.ResolveMedia(ref, types.ReadyMedia(types.ManifestInfo{Encrypted: true, PSSH: "AAAAPHBzc2g=", Variants: []types.Variant{}}))
	s.AddLicense("1", types.DetectedLicense{Type: "LICENSE", URL: "https://lic/first", Headers: map[string]string{"Authorization": "a"}})
	s.AddLicense("1", types.DetectedLicense{Type: "LICENSE", URL: "https://lic/second", Headers: map[string]string{"Authorization": "b"}})
	return s
}

func TestStreamPackageUsesLatestLicense(t *testing.T) {
	store := seededStore()
	b := NewBuilder(store, nil, fixedNow)

	pkg, err := b.StreamPackage("1", 0, "https://site/watch")
	if err != nil {
		t.Fatalf("StreamPackage() error = %v", err)
	}
	if pkg.Mode != "echo" || pkg.Source != "https://cdn/manifest.mpd" || pkg.PageURL != "https://site/watch" {
		t.Fatalf("StreamPackage() = %+v", pkg)
	}
	if pkg.DRM.LicenseURL == nil || *pkg.DRM.LicenseURL != "https://lic/second" {
		t.Fatalf("license_url = %v; want https://lic/second", pkg.DRM.LicenseURL)
	}
	if pkg.DRM.LicenseHeaders["Authorization"] != "b" {
		t.Fatalf("license_headers = %v", pkg.DRM.LicenseHeaders)
	}
	if pkg.Headers[LicenseURLHeader] != "https://lic/second" {
		t.Fatalf("headers = %v; want %s injected", pkg.Headers, LicenseURLHeader)
	}
	if pkg.DRM.PSSH == nil || *pkg.DRM.PSSH != "AAAAPHBzc2g=" {
		t.Fatalf("pssh = %v", pkg.DRM.PSSH)
	}
	if pkg.Keys != nil {
		t.Fatalf("keys = %v; want omitted", pkg.Keys)
	}

	stored := store.Snapshot("1").Streams[0].Headers
	if _, ok := stored[LicenseURLHeader]; ok {
		t.Fatalf("StreamPackage() mutated stored stream headers")
	}
}

func TestStreamPackageWithoutLicense(t *testing.T) {
	store := capture.NewStore()
	store.AddStream("1", types.DetectedStream{Type: types.StreamHLS, URL: "https://cdn/master.m3u8"})
	store.AddKey("1", types.DetectedKey{KID: "k", Key: "v"})

	pkg, err := NewBuilder(store, nil, fixedNow).StreamPackage("1", 0, "")
	if err != nil {
		t.Fatalf("StreamPackage() error = %v", err)
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	for _, want := range []string{`"license_url":null`, `"license_headers":{}`, `"pssh":null`, `"keys":[{"kid":"k","key":"v"}]`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("package JSON %s missing %s", raw, want)
		}
	}
	if strings.Contains(string(raw), LicenseURLHeader) {
		t.Fatalf("package JSON %s has %s without a license", raw, LicenseURLHeader)
	}
}

func TestStreamPackageIndexOutOfRange(t *testing.T) {
	b := NewBuilder(seededStore(), nil, fixedNow)
	for _, idx := range []int{-1, 1, 99} {
		if _, err := b.StreamPackage("1", idx, ""); !errors.Is(err, ErrStreamNotFound) {
			t.Fatalf("StreamPackage(%d) error = %v; want %v", idx, err, ErrStreamNotFound)
		}
	}
	if ErrStreamNotFound.Error() != "Stream not found" {
		t.Fatalf("ErrStreamNotFound = %q", ErrStreamNotFound)
	}
}

func TestPagePackage(t *testing.T) {
	store := seededStore()
	store.AddKey("1", types.DetectedKey{KID: "kid1", Key: "key1", Session: "s"})
	b := NewBuilder(store, staticCookies(map[string]string{"sid": "abc", "pref": "a&b"}), fixedNow)

	pkg, err := b.PagePackage(context.Background(), "1", "https://site/watch")
	if err != nil {
		t.Fatalf("PagePackage() error = %v", err)
	}
	if pkg.StreamsDetected != 1 || len(pkg.Streams) != 1 || len(pkg.Licenses) != 2 || len(pkg.Keys) != 1 {
		t.Fatalf("PagePackage() = %+v", pkg)
	}
	if pkg.Timestamp != 1710000000000 {
		t.Fatalf("Timestamp = %d", pkg.Timestamp)
	}
	if pkg.Streams[0].Source != "https://cdn/manifest.mpd" {
		t.Fatalf("Streams[0].Source = %q", pkg.Streams[0].Source)
	}

	cookies, err := DecodeCookies(pkg.CookiesB64)
	if err != nil {
		t.Fatalf("DecodeCookies() error = %v", err)
	}
	if cookies["sid"] != "abc" || cookies["pref"] != "a&b" {
		t.Fatalf("cookies = %v", cookies)
	}
}

func TestPagePackageEmptyTab(t *testing.T) {
	b := NewBuilder(capture.NewStore(), staticCookies(nil), fixedNow)
	pkg, err := b.PagePackage(context.Background(), "77", "https://site/")
	if err != nil {
		t.Fatalf("PagePackage() error = %v", err)
	}
	if pkg.CookiesB64 != "e30=" {
		t.Fatalf("CookiesB64 = %q; want e30=", pkg.CookiesB64)
	}
	raw, _ := json.Marshal(pkg)
	for _, want := range []string{`"streams":[]`, `"licenses":[]`, `"keys":[]`, `"streams_detected":0`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("package JSON %s missing %s", raw, want)
		}
	}
}

func TestPagePackageCookieFailure(t *testing.T) {
	failing := CookieFunc(func(context.Context, types.TabID, string) (map[string]string, error) {
		return nil, errors.New("no such target")
	})
	b := NewBuilder(seededStore(), ChainCookies{failing}, fixedNow)
	if _, err := b.CachePage(context.Background(), "1", "https://site/"); !errors.Is(err, ErrCookiesUnavailable) {
		t.Fatalf("CachePage() error = %v; want %v", err, ErrCookiesUnavailable)
	}
	if _, err := b.Cached("1"); !errors.Is(err, ErrNoCachedData) {
		t.Fatalf("Cached() error = %v; want %v", err, ErrNoCachedData)
	}
}

func TestCachePageStoresVerbatim(t *testing.T) {
	store := seededStore()
	b := NewBuilder(store, staticCookies(map[string]string{"a": "1"}), fixedNow)

	built, err := b.CachePage(context.Background(), "1", "https://site/")
	if err != nil {
		t.Fatalf("CachePage() error = %v", err)
	}
	store.AddStream("1", types.DetectedStream{URL: "https://cdn/later.m3u8"})

	cached, err := b.Cached("1")
	if err != nil {
		t.Fatalf("Cached() error = %v", err)
	}
	if cached.StreamsDetected != built.StreamsDetected || cached.StreamsDetected != 1 {
		t.Fatalf("cached streams_detected = %d; want 1", cached.StreamsDetected)
	}
}

func TestHeaderCookiesFallback(t *testing.T) {
	store := capture.NewStore()
	store.AddLicense("1", types.DetectedLicense{URL: "https://lic/x", Headers: map[string]string{"cookie": "sid=old; lang=en"}})
	store.AddStream("1", types.DetectedStream{URL: "https://cdn/m.m3u8", Headers: map[string]string{"Cookie": "sid=new"}})

	failing := CookieFunc(func(context.Context, types.TabID, string) (map[string]string, error) {
		return nil, errors.New("tab not attached")
	})
	got, err := ChainCookies{failing, HeaderCookies{Store: store}}.Cookies(context.Background(), "1", "https://site/")
	if err != nil {
		t.Fatalf("Cookies() error = %v", err)
	}
	if got["sid"] != "new" || got["lang"] != "en" {
		t.Fatalf("Cookies() = %v; want sid=new lang=en", got)
	}
}
