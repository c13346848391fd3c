// Package drmpkg assembles the replay packages handed to the downstream
// streaming controller.
package drmpkg

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// LicenseURLHeader carries the license endpoint inside single-stream headers for
// controllers that only read the header map.
const LicenseURLHeader = "X-License-Url"

var (
	ErrStreamNotFound = errors.New("Stream not found")
	ErrNoCachedData   = errors.New("No cached data")
)

// Builder reads tab state from the store and produces packages.
type Builder struct {
	store   *capture.Store
	cookies CookieSource
	now     func() time.Time
}

// NewBuilder returns a builder. now defaults to time.Now.
func NewBuilder(store *capture.Store, cookies CookieSource, now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{store: store, cookies: cookies, now: now}
}

// StreamPackage builds the single-stream export for the stream at index. The most
// recently captured license of the tab, if any, fills the drm section.
func (b *Builder) StreamPackage(tab types.TabID, index int, pageURL string) (types.StreamPackage, error) {
	snap := b.store.Snapshot(tab)
	if index < 0 || index >= len(snap.Streams) {
		return types.StreamPackage{}, ErrStreamNotFound
	}
	stream := snap.Streams[index]

	pkg := types.StreamPackage{
		Mode:    types.PackageMode,
		Source:  stream.URL,
		Type:    stream.Type,
		Headers: headers.Merge(stream.Headers, nil),
		PageURL: pageURL,
		DRM:     types.DRMInfo{LicenseHeaders: map[string]string{}},
	}
	if info, ok := stream.MediaInfo.Ready(); ok && info.PSSH != "" {
		pssh := info.PSSH
		pkg.DRM.PSSH = &pssh
	}
	if n := len(snap.Licenses); n > 0 {
		lic := snap.Licenses[n-1]
		licURL := lic.URL
		pkg.DRM.LicenseURL = &licURL
		if lic.Headers != nil {
			pkg.DRM.LicenseHeaders = lic.Headers
		}
		pkg.Headers[LicenseURLHeader] = lic.URL
	}
	if len(snap.Keys) > 0 {
		pkg.Keys = snap.Keys
	}
	return pkg, nil
}

// PagePackage builds the export of everything captured for the tab, including the
// page's cookies. A cookie lookup failure fails the build.
func (b *Builder) PagePackage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error) {
	if b.cookies == nil {
		return types.PagePackage{}, ErrCookiesUnavailable
	}
	cookies, err := b.cookies.Cookies(ctx, tab, pageURL)
	if err != nil {
		return types.PagePackage{}, err
	}
	encoded, err := EncodeCookies(cookies)
	if err != nil {
		return types.PagePackage{}, err
	}

	snap := b.store.Snapshot(tab)
	pkg := types.PagePackage{
		Mode:            types.PackageMode,
		PageURL:         pageURL,
		Timestamp:       b.now().UnixMilli(),
		CookiesB64:      encoded,
		StreamsDetected: len(snap.Streams),
		Streams:         make([]types.PackageStream, 0, len(snap.Streams)),
		Licenses:        make([]types.PackageLicense, 0, len(snap.Licenses)),
		Keys:            snap.Keys,
	}
	for _, s := range snap.Streams {
		pkg.Streams = append(pkg.Streams, types.PackageStream{
			Source:    s.URL,
			Type:      s.Type,
			Headers:   s.Headers,
			MediaInfo: s.MediaInfo,
		})
	}
	for _, l := range snap.Licenses {
		pkg.Licenses = append(pkg.Licenses, types.PackageLicense{
			URL:       l.URL,
			Headers:   l.Headers,
			Timestamp: l.Timestamp,
		})
	}
	return pkg, nil
}

// CachePage builds a page package and stores it verbatim for the tab.
func (b *Builder) CachePage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error) {
	pkg, err := b.PagePackage(ctx, tab, pageURL)
	if err != nil {
		return types.PagePackage{}, err
	}
	b.store.SetCached(tab, &pkg)
	return pkg, nil
}

// Cached returns the package stored by the last CachePage.
func (b *Builder) Cached(tab types.TabID) (types.PagePackage, error) {
	pkg, ok := b.store.Cached(tab)
	if !ok {
		return types.PagePackage{}, ErrNoCachedData
	}
	return *pkg, nil
}

// EncodeCookies renders cookies as base64 of their JSON object form.
func EncodeCookies(cookies map[string]string) (string, error) {
	if cookies == nil {
		cookies = map[string]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cookies); err != nil {
		return "", fmt.Errorf("encode cookies: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// DecodeCookies reverses EncodeCookies.
func DecodeCookies(b64 string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	return out, nil
}
