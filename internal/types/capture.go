package types

import (
	"bytes"
	"encoding/json"
)

// StreamType is the manifest format of a detected stream.
type StreamType string

const (
	StreamHLS  StreamType = "HLS"
	StreamDASH StreamType = "DASH"
)

// Variant is one rendition advertised by a master playlist.
type Variant struct {
	URL        string `json:"url"`
	Bandwidth  int64  `json:"bandwidth"`
	Resolution string `json:"resolution"`
}

// ManifestInfo is the parsed summary of a fetched manifest. Variants are sorted by
// bandwidth, highest first.
type ManifestInfo struct {
	SizeBytes    int       `json:"size"`
	VariantCount int       `json:"variants_count"`
	Variants     []Variant `json:"variants"`
	Encrypted    bool      `json:"encrypted"`
	PSSH         string    `json:"pssh,omitempty"`
	PSSHSystem   string    `json:"pssh_system,omitempty"`
}

// MediaState enumerates the analysis outcomes of a stream.
type MediaState int

const (
	MediaPending MediaState = iota
	MediaReady
	MediaFailed
)

func (s MediaState) String() string {
	switch s {
	case MediaReady:
		return "ready"
	case MediaFailed:
		return "failed"
	default:
		return "pending"
	}
}

// MediaInfo is either pending, ready with a ManifestInfo, or failed with a reason.
// On the wire pending is null, ready is the ManifestInfo object and failed is
// {"error": reason, "status": code}.
type MediaInfo struct {
	State  MediaState
	Info   *ManifestInfo
	Reason string
	Status int
}

func PendingMedia() MediaInfo { return MediaInfo{State: MediaPending} }

func ReadyMedia(info ManifestInfo) MediaInfo {
	return MediaInfo{State: MediaReady, Info: &info}
}

func FailedMedia(reason string, status int) MediaInfo {
	return MediaInfo{State: MediaFailed, Reason: reason, Status: status}
}

// Ready returns the manifest summary when analysis succeeded.
func (m MediaInfo) Ready() (ManifestInfo, bool) {
	if m.State != MediaReady || m.Info == nil {
		return ManifestInfo{}, false
	}
	return *m.Info, true
}

type mediaFailure struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
}

func (m MediaInfo) MarshalJSON() ([]byte, error) {
	switch m.State {
	case MediaReady:
		return json.Marshal(m.Info)
	case MediaFailed:
		return json.Marshal(mediaFailure{Error: m.Reason, Status: m.Status})
	default:
		return []byte("null"), nil
	}
}

func (m *MediaInfo) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*m = PendingMedia()
		return nil
	}
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.Error != nil {
		var f mediaFailure
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		*m = FailedMedia(f.Error, f.Status)
		return nil
	}
	var info ManifestInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return err
	}
	*m = ReadyMedia(info)
	return nil
}

// DetectedStream is a manifest request observed in a tab. URL is its identity.
type DetectedStream struct {
	Type      StreamType        `json:"type"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Timestamp int64             `json:"timestamp"`
	MediaInfo MediaInfo         `json:"mediaInfo"`
}

// DetectedLicense is a DRM license request observed in a tab. URL is its identity.
type DetectedLicense struct {
	Type      string            `json:"type"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Timestamp int64             `json:"timestamp"`
}

// DetectedKey is a content key reported by page instrumentation. KID is its identity.
type DetectedKey struct {
	KID     string `json:"kid"`
	Key     string `json:"key"`
	Session string `json:"session,omitempty"`
}

// MonitoringState is toggled by clients but not acted upon by the engine.
type MonitoringState struct {
	Enabled      bool    `json:"enabled"`
	TargetStream *string `json:"targetStream"`
}
