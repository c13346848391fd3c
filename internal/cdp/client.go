package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/streamsniff/internal/classify"
	"github.com/dgnsrekt/streamsniff/internal/drmpkg"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// BindingName is the page binding the bridge script reports through.
const BindingName = "__streamsniffRelay"

const (
	cookieTimeout = 5 * time.Second
	replyTimeout  = 5 * time.Second
	sweepInterval = 30 * time.Second
)

//go:embed bridge.js
var bridgeScript string

// Engine receives everything observed in attached tabs. *service.Service
// satisfies it.
type Engine interface {
	ObserveRequest(req classify.Request) classify.Kind
	MergeRequestHeaders(tab types.TabID, url string, raw map[string]string) bool
	Navigate(tab types.TabID, mainFrame bool) bool
	CloseTab(tab types.TabID)
	Dispatch(ctx context.Context, sender types.TabID, msg relay.Message) any
}

// Client manages CDP connections to browser tabs.
type Client struct {
	cdpURL      string
	urlFilter   string
	engine      Engine
	tabRegistry *TabRegistry
	requests    *requestLog

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	ownTarget     target.ID

	tabs      map[target.ID]*TabContext
	attaching map[target.ID]bool
	tabsMu    sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once

	// evaluate runs a script in the tab. Tests replace it.
	evaluate  func(tab types.TabID, expr string) error
	afterFunc func(d time.Duration, f func())
	now       func() time.Time
}

type TabContext struct {
	ID     target.ID
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cdpURL, urlFilter string, engine Engine, tabRegistry *TabRegistry) *Client {
	c := &Client{
		cdpURL:      cdpURL,
		urlFilter:   urlFilter,
		engine:      engine,
		tabRegistry: tabRegistry,
		requests:    newRequestLog(),
		tabs:        make(map[target.ID]*TabContext),
		attaching:   make(map[target.ID]bool),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	c.evaluate = c.evaluateInTab
	c.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	return c
}

// Connect attaches to every matching page target and keeps watching the browser
// for new ones.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("Connecting to Chromium", "url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.browserCancel()
		c.allocCancel()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	cc := chromedp.FromContext(c.browserCtx)
	c.ownTarget = cc.Target.TargetID

	chromedp.ListenBrowser(c.browserCtx, c.handleBrowserEvent)
	if err := target.SetDiscoverTargets(true).Do(cdpproto.WithExecutor(c.browserCtx, cc.Browser)); err != nil {
		slog.Warn("target discovery unavailable, new tabs will not be attached", "error", err)
	}

	targets, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}

	slog.Info("Found browser targets", "count", len(targets))

	attachedCount := 0
	for _, t := range targets {
		if !c.claim(t) {
			continue
		}
		if err := c.attachToTab(ctx, t.TargetID, t.URL, t.Title); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attachedCount++
	}

	if attachedCount == 0 {
		slog.Warn("no tabs attached yet", "tab_url_filter", c.urlFilter)
	}
	slog.Info("Attached to tabs", "count", attachedCount, "tab_url_filter", c.urlFilter)

	go c.sweepLoop()
	return nil
}

// claim reserves a page target for attachment. It fails for non-page targets,
// filtered urls, the client's own watcher tab and targets already attached.
func (c *Client) claim(t *target.Info) bool {
	if t.Type != "page" || t.TargetID == c.ownTarget {
		return false
	}
	if !c.matchesTabURL(t.URL) {
		slog.Debug("Skipping tab (url filter)", "url", truncateURL(t.URL))
		return false
	}
	c.tabsMu.Lock()
	defer c.tabsMu.Unlock()
	if _, ok := c.tabs[t.TargetID]; ok || c.attaching[t.TargetID] {
		return false
	}
	c.attaching[t.TargetID] = true
	return true
}

func (c *Client) attachToTab(ctx context.Context, targetID target.ID, url, title string) error {
	defer func() {
		c.tabsMu.Lock()
		delete(c.attaching, targetID)
		c.tabsMu.Unlock()
	}()

	tabInfo := c.tabRegistry.Register(targetID, url, title)

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, URL: url, ctx: tabCtx, cancel: tabCancel}

	setup := chromedp.Tasks{
		network.Enable(),
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, exc, err := runtime.Evaluate(bridgeScript).Do(ctx)
			if err == nil && exc != nil {
				err = fmt.Errorf("bridge install: %s", exc.Text)
			}
			return err
		}),
	}

	// The first Run must use tabCtx itself: a timeout on it would end the session.
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, setup)
	stop()
	if err != nil {
		tabCancel()
		c.tabRegistry.Remove(targetID)
		return fmt.Errorf("failed to enable network/page/runtime domains: %w", err)
	}

	c.tabsMu.Lock()
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	chromedp.ListenTarget(tabCtx, c.createEventHandler(tabInfo.TabID))
	slog.Info("Attached to tab", "tab_id", tabInfo.TabID, "url", truncateURL(url))
	return nil
}

func (c *Client) handleBrowserEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		c.maybeAttach(e.TargetInfo)
	case *target.EventTargetInfoChanged:
		if e.TargetInfo != nil && e.TargetInfo.Type == "page" {
			c.tabRegistry.UpdateURL(e.TargetInfo.TargetID, e.TargetInfo.URL)
		}
		c.maybeAttach(e.TargetInfo)
	case *target.EventTargetDestroyed:
		c.detach(e.TargetID)
	}
}

func (c *Client) maybeAttach(info *target.Info) {
	if info == nil || !c.claim(info) {
		return
	}
	go func() {
		if err := c.attachToTab(context.Background(), info.TargetID, info.URL, info.Title); err != nil {
			slog.Warn("Failed to attach to new tab", "target_id", info.TargetID, "error", err)
		}
	}()
}

func (c *Client) detach(targetID target.ID) {
	c.tabsMu.Lock()
	tab, ok := c.tabs[targetID]
	delete(c.tabs, targetID)
	c.tabsMu.Unlock()

	c.tabRegistry.Remove(targetID)
	if !ok {
		return
	}
	tab.cancel()
	c.engine.CloseTab(types.TabID(targetID))
	slog.Info("Tab closed", "tab_id", targetID)
}

func (c *Client) createEventHandler(tab types.TabID) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.onRequest(tab, e)
		case *network.EventRequestWillBeSentExtraInfo:
			c.onExtraInfo(tab, e)
		case *page.EventFrameStartedLoading:
			mainFrame := string(e.FrameID) == string(tab)
			if c.engine.Navigate(tab, mainFrame) && mainFrame {
				slog.Debug("Tab navigation started", "tab_id", tab)
			}
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				c.tabRegistry.UpdateURL(target.ID(tab), e.Frame.URL)
			}
		case *runtime.EventBindingCalled:
			if e.Name != BindingName {
				return
			}
			payload := e.Payload
			go c.handleBinding(tab, payload)
		}
	}
}

func (c *Client) onRequest(tab types.TabID, e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	id := string(e.RequestID)
	req := classify.Request{
		Tab:          tab,
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		Headers:      headers.FromCDP(e.Request.Headers),
		ResourceType: string(e.Type),
	}
	if req, ready := c.requests.request(id, req, c.now()); ready {
		c.observe(req)
		return
	}
	c.afterFunc(extraInfoGrace, func() {
		if req, ok := c.requests.expire(id, c.now()); ok {
			c.observe(req)
		}
	})
}

func (c *Client) onExtraInfo(tab types.TabID, e *network.EventRequestWillBeSentExtraInfo) {
	h := headers.FromCDP(e.Headers)
	req, p := c.requests.extra(string(e.RequestID), h, c.now())
	switch p {
	case pairedPending:
		c.observe(req)
	case pairedLate:
		c.engine.MergeRequestHeaders(req.Tab, req.URL, h)
	}
}

// observe hands a complete request to the engine unless the client is closed.
func (c *Client) observe(req classify.Request) {
	select {
	case <-c.done:
		return
	default:
	}
	c.engine.ObserveRequest(req)
}

type bindingCall struct {
	ID      string        `json:"id"`
	Message relay.Message `json:"message"`
}

// handleBinding answers one bridge request and resolves its pending promise in
// the page.
func (c *Client) handleBinding(tab types.TabID, payload string) {
	var call bindingCall
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		slog.Warn("malformed bridge payload", "tab_id", tab, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reply := c.engine.Dispatch(ctx, tab, call.Message)

	body, err := relay.Encode(call.ID, reply)
	if err != nil {
		slog.Warn("bridge reply encode failed", "tab_id", tab, "kind", call.Message.Kind(), "error", err)
		return
	}
	if err := c.evaluate(tab, "window.__streamsniffReply("+string(body)+")"); err != nil {
		slog.Warn("bridge reply failed", "tab_id", tab, "kind", call.Message.Kind(), "error", err)
	}
}

func (c *Client) tabContext(tab types.TabID) (*TabContext, bool) {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	t, ok := c.tabs[target.ID(tab)]
	return t, ok
}

func (c *Client) evaluateInTab(tab types.TabID, expr string) error {
	t, ok := c.tabContext(tab)
	if !ok {
		return fmt.Errorf("tab %s not attached", tab)
	}
	ctx, cancel := context.WithTimeout(t.ctx, replyTimeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exc, err := runtime.Evaluate(expr).Do(ctx)
		if err == nil && exc != nil {
			err = fmt.Errorf("evaluate: %s", exc.Text)
		}
		return err
	}))
}

// Cookies reads the cookies the browser would send to pageURL, falling back to
// the tab's current url.
func (c *Client) Cookies(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error) {
	t, ok := c.tabContext(tab)
	if !ok {
		return nil, fmt.Errorf("%w: tab %s not attached", drmpkg.ErrCookiesUnavailable, tab)
	}
	if pageURL == "" {
		if info, ok := c.tabRegistry.GetByTabID(tab); ok {
			pageURL = info.URL
		}
	}

	runCtx, cancel := context.WithTimeout(t.ctx, cookieTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", drmpkg.ErrCookiesUnavailable, err)
	}

	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		out[ck.Name] = ck.Value
	}
	return out, nil
}

func (c *Client) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if n := c.requests.sweep(c.now()); n > 0 {
				slog.Debug("expired unmatched request ids", "count", n)
			}
		}
	}
}

// Close detaches from every tab. Requests still held for their ExtraInfo are
// dropped. Calling Close again is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.tabsMu.Lock()
		for _, tab := range c.tabs {
			tab.cancel()
		}
		c.tabs = make(map[target.ID]*TabContext)
		c.tabsMu.Unlock()

		if c.browserCancel != nil {
			c.browserCancel()
		}
		if c.allocCancel != nil {
			c.allocCancel()
		}

		slog.Info("CDP client closed")
	})
	return nil
}

func (c *Client) GetTabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

// Tabs lists the attached tabs.
func (c *Client) Tabs() []types.TabInfo {
	return c.tabRegistry.List()
}

func (c *Client) matchesTabURL(url string) bool {
	if c.urlFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.urlFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
