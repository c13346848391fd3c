// Package classify decides whether an observed request is a DRM license call or
// a streaming manifest and records it for its tab.
package classify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/manifest"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// DefaultLicenseKeywords mark a POST as a license exchange when found in its URL.
var DefaultLicenseKeywords = []string{"license", "widevine", "drm"}

// Resource types worth inspecting. Empty covers clients that do not report one.
var observedResourceTypes = map[string]bool{
	"":         true,
	"Document": true,
	"XHR":      true,
	"Fetch":    true,
	"Other":    true,
}

// extensionResourceTypes maps webRequest resource types onto CDP names.
// sub_frame stays unmapped: frame documents are not observed.
var extensionResourceTypes = map[string]string{
	"main_frame":     "Document",
	"xmlhttprequest": "XHR",
	"other":          "Other",
}

// NormalizeResourceType accepts either naming scheme and returns the CDP one.
func NormalizeResourceType(t string) string {
	if mapped, ok := extensionResourceTypes[strings.ToLower(t)]; ok {
		return mapped
	}
	return t
}

// Request is one outgoing request seen in a tab.
type Request struct {
	Tab          types.TabID
	URL          string
	Method       string
	Headers      map[string]string
	ResourceType string
}

// Kind is the classification outcome.
type Kind int

const (
	Ignored Kind = iota
	License
	Stream
)

func (k Kind) String() string {
	switch k {
	case License:
		return "license"
	case Stream:
		return "stream"
	default:
		return "ignored"
	}
}

// Analyzer resolves a manifest into its MediaInfo. *manifest.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, url string, headers map[string]string) types.MediaInfo
}

// Publisher receives capture events. *relay.Broker satisfies it.
type Publisher interface {
	PublishJSON(feed string, tab types.TabID, v any)
}

// Config carries the optional parts of a Classifier.
type Config struct {
	LicenseKeywords []string
	Sanitizer       *headers.Sanitizer
	Events          Publisher
	Now             func() time.Time
}

// Classifier turns observed requests into store entries and starts manifest
// analysis for new streams. Badges follow the store through badge.Board.Follow.
type Classifier struct {
	store     *capture.Store
	analyzer  Analyzer
	sanitizer *headers.Sanitizer
	keywords  []string
	events    Publisher
	now       func() time.Time

	ctx     context.Context
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New builds a classifier. ctx bounds every background analysis it starts.
func New(ctx context.Context, store *capture.Store, analyzer Analyzer, cfg Config) *Classifier {
	c := &Classifier{
		store:     store,
		analyzer:  analyzer,
		sanitizer: cfg.Sanitizer,
		events:    cfg.Events,
		now:       cfg.Now,
		ctx:       ctx,
	}
	if c.sanitizer == nil {
		c.sanitizer = headers.NewSanitizer()
	}
	if c.now == nil {
		c.now = time.Now
	}
	for _, kw := range append(append([]string{}, DefaultLicenseKeywords...), cfg.LicenseKeywords...) {
		if kw = strings.TrimSpace(kw); kw != "" {
			c.keywords = append(c.keywords, kw)
		}
	}
	return c
}

// Kind reports how a request would be classified, without recording anything.
func (c *Classifier) Kind(req Request) Kind {
	if !req.Tab.Valid() || !observedResourceTypes[req.ResourceType] {
		return Ignored
	}
	if strings.EqualFold(req.Method, http.MethodPost) && c.isLicenseURL(req.URL) {
		return License
	}
	if _, ok := manifest.TypeOf(req.URL); ok {
		return Stream
	}
	return Ignored
}

// isLicenseURL matches keywords case-sensitively.
func (c *Classifier) isLicenseURL(u string) bool {
	for _, kw := range c.keywords {
		if strings.Contains(u, kw) {
			return true
		}
	}
	return false
}

// Observe classifies and records req. It returns without waiting for analysis.
func (c *Classifier) Observe(req Request) Kind {
	kind := c.Kind(req)
	switch kind {
	case License:
		c.recordLicense(req)
	case Stream:
		c.recordStream(req)
	}
	return kind
}

func (c *Classifier) recordLicense(req Request) {
	lic := types.DetectedLicense{
		Type:      "LICENSE",
		URL:       req.URL,
		Headers:   c.sanitizer.Sanitize(req.Headers),
		Timestamp: c.now().UnixMilli(),
	}
	if !c.store.AddLicense(req.Tab, lic) {
		return
	}
	slog.Info("license request captured", "tab_id", req.Tab, "url", truncateURL(req.URL))
	c.publish(req.Tab, "license", lic)
}

func (c *Classifier) recordStream(req Request) {
	typ, _ := manifest.TypeOf(req.URL)
	stream := types.DetectedStream{
		Type:      typ,
		URL:       req.URL,
		Headers:   c.sanitizer.Sanitize(req.Headers),
		Timestamp: c.now().UnixMilli(),
	}
	ref, _, added := c.store.AddStream(req.Tab, stream)
	if !added {
		return
	}
	slog.Info("stream captured", "tab_id", req.Tab, "kind", typ, "url", truncateURL(req.URL))
	c.publish(req.Tab, "stream", stream)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		slog.Debug("classifier stopped, analysis skipped", "tab_id", req.Tab, "url", truncateURL(req.URL))
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.analyze(ref, stream.Headers)
	}()
}

func (c *Classifier) analyze(ref capture.StreamRef, hdrs map[string]string) {
	info := c.analyzer.Analyze(c.ctx, ref.URL, hdrs)
	if !c.store.ResolveMedia(ref, info) {
		slog.Debug("analysis result discarded", "tab_id", ref.Tab, "url", truncateURL(ref.URL))
		return
	}
	c.publish(ref.Tab, "media", struct {
		URL       string          `json:"url"`
		MediaInfo types.MediaInfo `json:"mediaInfo"`
	}{ref.URL, info})
}

func (c *Classifier) publish(tab types.TabID, kind string, v any) {
	if c.events == nil {
		return
	}
	c.events.PublishJSON(relay.FeedCapture, tab, struct {
		Kind string `json:"kind"`
		Data any    `json:"data"`
	}{kind, v})
}

// Wait blocks until every analysis started so far has finished.
func (c *Classifier) Wait() {
	c.wg.Wait()
}

// Stop refuses new analyses and waits for the running ones. Streams observed
// afterwards are still stored, with media info left pending.
func (c *Classifier) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.wg.Wait()
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
