package manifest

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

const unknownResolution = "Unknown"

var (
	// Anchored so AVERAGE-BANDWIDTH is not picked up first.
	bandwidthRe  = regexp.MustCompile(`(?:^|[:,])BANDWIDTH=(\d+)`)
	resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+x\d+)`)
)

// ParseHLS extracts the variant streams of a master playlist, highest bandwidth
// first. Media playlists yield no variants.
func ParseHLS(content, baseURL string) []types.Variant {
	variants := []types.Variant{}
	var pending *types.Variant

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			v := types.Variant{Resolution: unknownResolution}
			if m := bandwidthRe.FindStringSubmatch(line); m != nil {
				v.Bandwidth, _ = strconv.ParseInt(m[1], 10, 64)
			}
			if m := resolutionRe.FindStringSubmatch(line); m != nil {
				v.Resolution = m[1]
			}
			pending = &v
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case pending != nil:
			pending.URL = resolveVariantURL(baseURL, line)
			variants = append(variants, *pending)
			pending = nil
		}
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return variants
}

// resolveVariantURL joins a relative variant line onto the manifest URL with its
// last path segment removed. Anything starting with "http" is taken as absolute.
func resolveVariantURL(baseURL, line string) string {
	if strings.HasPrefix(line, "http") {
		return line
	}
	parts := strings.Split(baseURL, "/")
	parts = parts[:len(parts)-1]
	return strings.Join(parts, "/") + "/" + line
}

// hlsEncrypted reports whether the playlist declares a key.
func hlsEncrypted(content string) bool {
	return strings.Contains(content, "#EXT-X-KEY")
}
