package drmpkg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// ErrCookiesUnavailable is returned when no cookie source could answer.
var ErrCookiesUnavailable = errors.New("cookies unavailable")

// CookieSource returns the name→value cookies the browser holds for pageURL.
type CookieSource interface {
	Cookies(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error)
}

// CookieFunc adapts a function to CookieSource.
type CookieFunc func(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error)

func (f CookieFunc) Cookies(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error) {
	return f(ctx, tab, pageURL)
}

// HeaderCookies rebuilds cookies from the Cookie headers captured for a tab. It
// serves tabs that are reported over the message channel rather than attached.
type HeaderCookies struct {
	Store *capture.Store
}

func (h HeaderCookies) Cookies(_ context.Context, tab types.TabID, _ string) (map[string]string, error) {
	snap := h.Store.Snapshot(tab)
	out := make(map[string]string)

	// Licenses first so stream headers, usually sent later, win on conflicts.
	var lines []string
	for _, lic := range snap.Licenses {
		if v, ok := headers.Get(lic.Headers, "cookie"); ok {
			lines = append(lines, v)
		}
	}
	for _, s := range snap.Streams {
		if v, ok := headers.Get(s.Headers, "cookie"); ok {
			lines = append(lines, v)
		}
	}
	for _, line := range lines {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			slog.Debug("captured cookie header not parseable", "tab_id", tab, "error", err)
			continue
		}
		for _, c := range cookies {
			out[c.Name] = c.Value
		}
	}
	return out, nil
}

// ChainCookies asks each source in turn and returns the first answer.
type ChainCookies []CookieSource

func (c ChainCookies) Cookies(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		cookies, err := src.Cookies(ctx, tab, pageURL)
		if err == nil {
			return cookies, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrCookiesUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrCookiesUnavailable, errors.Join(errs...))
}
