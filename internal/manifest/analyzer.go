// Package manifest fetches HLS and DASH manifests with captured headers and
// summarizes their variants and protection.
package manifest

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

// DefaultTimeout bounds a single manifest fetch.
const DefaultTimeout = 20 * time.Second

// TypeOf infers the manifest format from a URL. HLS wins when both markers appear.
func TypeOf(rawURL string) (types.StreamType, bool) {
	switch {
	case strings.Contains(rawURL, ".m3u8"):
		return types.StreamHLS, true
	case strings.Contains(rawURL, ".mpd"):
		return types.StreamDASH, true
	default:
		return "", false
	}
}

// Analyzer fetches manifests and turns them into MediaInfo outcomes.
type Analyzer struct {
	client  *http.Client
	timeout time.Duration
}

// NewAnalyzer returns an analyzer using client, or http.DefaultClient when nil.
// A non-positive timeout selects DefaultTimeout.
func NewAnalyzer(client *http.Client, timeout time.Duration) *Analyzer {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{client: client, timeout: timeout}
}

// Analyze fetches rawURL with the captured headers and summarizes the body. It
// never returns Pending: every outcome is Ready or Failed.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string, hdrs map[string]string) types.MediaInfo {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.FailedMedia(err.Error(), 0)
	}
	for name, value := range hdrs {
		if strings.EqualFold(name, "accept-encoding") {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Debug("manifest fetch failed", "url", truncateURL(rawURL), "error", err)
		return types.FailedMedia(err.Error(), 0)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("manifest fetch rejected", "url", truncateURL(rawURL), "status", resp.StatusCode)
		return types.FailedMedia("Failed to fetch", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return types.FailedMedia(err.Error(), 0)
	}

	info := Summarize(rawURL, body)
	slog.Debug("manifest analyzed",
		"url", truncateURL(rawURL),
		"size", info.SizeBytes,
		"variants", info.VariantCount,
		"encrypted", info.Encrypted,
	)
	return types.ReadyMedia(info)
}

// Summarize builds the manifest summary of an already fetched body. The format
// is taken from the URL, so a URL with neither marker only reports its size.
func Summarize(rawURL, body string) types.ManifestInfo {
	info := types.ManifestInfo{
		SizeBytes: len(body),
		Variants:  []types.Variant{},
	}

	if strings.Contains(rawURL, ".m3u8") {
		info.Encrypted = hlsEncrypted(body)
		info.Variants = ParseHLS(body, rawURL)
		info.VariantCount = len(info.Variants)
	}

	if strings.Contains(rawURL, ".mpd") {
		dash := ParseDASH(body)
		info.VariantCount = dash.Representations
		info.Encrypted = dash.Encrypted
		info.PSSH = dash.PSSH
		switch {
		case dash.PSSH == "":
		case dash.FromPlayReadyObject:
			info.PSSHSystem = SystemPlayReady
		default:
			info.PSSHSystem = PSSHSystem(dash.PSSH)
		}
	}
	return info
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
