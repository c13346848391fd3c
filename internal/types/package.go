package types

// PackageMode is the replay mode understood by the downstream streaming controller.
const PackageMode = "echo"

// DRMInfo is the license section of a single-stream package. Fields are null when
// no license was seen for the tab.
type DRMInfo struct {
	LicenseURL     *string           `json:"license_url"`
	LicenseHeaders map[string]string `json:"license_headers"`
	PSSH           *string           `json:"pssh"`
}

// StreamPackage is the legacy single-stream export.
type StreamPackage struct {
	Mode    string            `json:"mode"`
	Source  string            `json:"source"`
	Type    StreamType        `json:"type"`
	Headers map[string]string `json:"headers"`
	PageURL string            `json:"page_url"`
	DRM     DRMInfo           `json:"drm"`
	Keys    []DetectedKey     `json:"keys,omitempty"`
}

// PackageStream is a stream entry inside a page package.
type PackageStream struct {
	Source    string            `json:"source"`
	Type      StreamType        `json:"type"`
	Headers   map[string]string `json:"headers"`
	MediaInfo MediaInfo         `json:"mediaInfo"`
}

// PackageLicense is a license entry inside a page package.
type PackageLicense struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Timestamp int64             `json:"timestamp"`
}

// PagePackage is the comprehensive export of everything captured for a page.
type PagePackage struct {
	Mode            string           `json:"mode"`
	PageURL         string           `json:"page_url"`
	Timestamp       int64            `json:"timestamp"`
	CookiesB64      string           `json:"cookies_b64"`
	StreamsDetected int              `json:"streams_detected"`
	Streams         []PackageStream  `json:"streams"`
	Licenses        []PackageLicense `json:"licenses"`
	Keys            []DetectedKey    `json:"keys"`
}
