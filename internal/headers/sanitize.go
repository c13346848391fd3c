// Package headers reduces observed request headers to the subset worth replaying.
package headers

import "strings"

// DefaultAllowed covers identity, auth and content negotiation headers.
var DefaultAllowed = []string{
	"user-agent",
	"referer",
	"origin",
	"cookie",
	"authorization",
	"x-requested-with",
	"accept",
	"accept-language",
	"accept-encoding",
	"content-type",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
}

// Sanitizer filters header sets down to an allow-list of lowercased names.
type Sanitizer struct {
	allowed map[string]struct{}
}

// NewSanitizer builds a sanitizer from DefaultAllowed plus any extra names.
func NewSanitizer(extra ...string) *Sanitizer {
	s := &Sanitizer{allowed: make(map[string]struct{}, len(DefaultAllowed)+len(extra))}
	for _, name := range DefaultAllowed {
		s.allowed[name] = struct{}{}
	}
	for _, name := range extra {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			s.allowed[name] = struct{}{}
		}
	}
	return s
}

// Allowed reports whether a header name survives sanitization.
func (s *Sanitizer) Allowed(name string) bool {
	_, ok := s.allowed[strings.ToLower(name)]
	return ok
}

// Sanitize returns a new map with only allow-listed headers. Keys keep their
// original casing.
func (s *Sanitizer) Sanitize(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		if s.Allowed(name) {
			out[name] = value
		}
	}
	return out
}

var defaultSanitizer = NewSanitizer()

// Sanitize filters raw with the default allow-list.
func Sanitize(raw map[string]string) map[string]string {
	return defaultSanitizer.Sanitize(raw)
}

// FromCDP flattens a CDP header object, dropping non-string values.
func FromCDP(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}

// Merge returns a copy of dst with src applied on top. Names are compared
// case-insensitively so "Cookie" from src replaces "cookie" in dst.
func Merge(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		for existing := range out {
			if strings.EqualFold(existing, k) {
				delete(out, existing)
			}
		}
		out[k] = v
	}
	return out
}

// Get looks a header up case-insensitively.
func Get(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
