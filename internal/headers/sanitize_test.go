package headers

import "testing"

func TestSanitizeKeepsAllowListOnly(t *testing.T) {
	raw := map[string]string{
		"User-Agent":        "Mozilla/5.0",
		"Referer":           "https://site.example/watch",
		"Cookie":            "sid=abc",
		"Sec-Fetch-Mode":    "cors",
		"X-Secret-Internal": "do-not-forward",
		"Connection":        "keep-alive",
		"Host":              "cdn.example",
	}

	got := Sanitize(raw)

	for _, name := range []string{"User-Agent", "Referer", "Cookie", "Sec-Fetch-Mode"} {
		if _, ok := got[name]; !ok {
			t.Fatalf("Sanitize() dropped %q", name)
		}
	}
	for _, name := range []string{"X-Secret-Internal", "Connection", "Host"} {
		if _, ok := got[name]; ok {
			t.Fatalf("Sanitize() kept %q", name)
		}
	}
	if len(got) != 4 {
		t.Fatalf("len(Sanitize()) = %d; want 4", len(got))
	}
}

func TestSanitizeIsCaseInsensitive(t *testing.T) {
	got := Sanitize(map[string]string{"AUTHORIZATION": "Bearer x", "accept-LANGUAGE": "en"})
	if got["AUTHORIZATION"] != "Bearer x" {
		t.Fatalf("Sanitize() lost upper-case authorization: %v", got)
	}
	if got["accept-LANGUAGE"] != "en" {
		t.Fatalf("Sanitize() lost mixed-case accept-language: %v", got)
	}
}

func TestSanitizeNilInput(t *testing.T) {
	got := Sanitize(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("Sanitize(nil) = %v; want empty map", got)
	}
}

func TestNewSanitizerExtra(t *testing.T) {
	s := NewSanitizer(" X-Custom-Token ", "")
	got := s.Sanitize(map[string]string{"x-custom-token": "t", "X-Secret-Internal": "s"})
	if got["x-custom-token"] != "t" {
		t.Fatalf("Sanitize() dropped extra allowed header: %v", got)
	}
	if _, ok := got["X-Secret-Internal"]; ok {
		t.Fatalf("Sanitize() kept unknown header: %v", got)
	}
}

func TestMergeReplacesCaseInsensitively(t *testing.T) {
	dst := map[string]string{"cookie": "old", "Referer": "r"}
	got := Merge(dst, map[string]string{"Cookie": "new"})

	if got["Cookie"] != "new" {
		t.Fatalf("Merge() Cookie = %q; want new", got["Cookie"])
	}
	if _, ok := got["cookie"]; ok {
		t.Fatalf("Merge() kept stale lower-case cookie: %v", got)
	}
	if dst["cookie"] != "old" {
		t.Fatalf("Merge() mutated dst")
	}
	if v, ok := Get(got, "referer"); !ok || v != "r" {
		t.Fatalf("Get(referer) = %q, %v", v, ok)
	}
}

func TestFromCDPDropsNonStrings(t *testing.T) {
	got := FromCDP(map[string]any{"Accept": "*/*", "X-Num": 3})
	if len(got) != 1 || got["Accept"] != "*/*" {
		t.Fatalf("FromCDP() = %v", got)
	}
}
