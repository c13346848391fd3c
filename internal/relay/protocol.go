// Package relay carries engine messages between page contexts, clients and the
// capture engine, and fans engine events out to subscribers.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/streamsniff/internal/types"
)

// Message discriminators.
const (
	ActionDecode            = "dec"
	ActionKeyFound          = "widevineKeyFound"
	ActionGetStreams        = "getStreams"
	ActionGetDRMPackage     = "getDRMPackage"
	ActionGetPageDRMPackage = "getPageDRMPackage"
	ActionCachePageInfo     = "cachePageInfo"
	ActionEnableMonitoring  = "enableMonitoring"
	ActionGetCachedDRM      = "getCachedDRM"
	ActionObserveRequest    = "observeRequest"
	ActionNavigate          = "navigate"
	ActionTabRemoved        = "tabRemoved"
)

// Message is a request to the engine. The decode request is discriminated by
// Name; everything else by Action.
type Message struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action,omitempty"`
	Name   string `json:"name,omitempty"`

	Value       string             `json:"value,omitempty"`
	TabID       types.TabID        `json:"tabId,omitempty"`
	StreamIndex *int               `json:"streamIndex,omitempty"`
	PageURL     string             `json:"pageUrl,omitempty"`
	Data        *types.DetectedKey `json:"data,omitempty"`

	// Request observation and lifecycle fields.
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Type    string            `json:"type,omitempty"`
	FrameID *int              `json:"frameId,omitempty"`
}

// Kind returns the discriminator of m.
func (m Message) Kind() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Action
}

// MainFrame reports whether a navigate message concerns the top-level frame.
// A missing frame id is taken as the main frame.
func (m Message) MainFrame() bool {
	return m.FrameID == nil || *m.FrameID == 0
}

// Blocking reports whether handling m may wait on I/O or the decoder. Other
// messages are handled in arrival order.
func (m Message) Blocking() bool {
	switch m.Kind() {
	case ActionDecode, ActionGetPageDRMPackage, ActionCachePageInfo:
		return true
	}
	return false
}

// Reply payloads.
type (
	PackageReply struct {
		Package any    `json:"package,omitempty"`
		Error   string `json:"error,omitempty"`
	}

	CacheReply struct {
		Success bool   `json:"success,omitempty"`
		Cached  any    `json:"cached,omitempty"`
		Error   string `json:"error,omitempty"`
	}

	SuccessReply struct {
		Success bool `json:"success"`
	}

	// DecodeReply always carries value, null when nothing was decoded.
	DecodeReply struct {
		Value *string `json:"value"`
	}

	ErrorReply struct {
		Error string `json:"error"`
	}
)

// Encode renders a reply object with the correlation id spliced in as "id".
// Non-object payloads are rejected.
func Encode(id string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal reply: %w", err)
	}
	if id == "" {
		return body, nil
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("relay: reply is not an object")
	}
	idJSON, _ := json.Marshal(id)

	var buf bytes.Buffer
	buf.Grow(len(body) + len(idJSON) + 8)
	buf.WriteString(`{"id":`)
	buf.Write(idJSON)
	if rest := bytes.TrimSpace(body[1:]); !bytes.Equal(rest, []byte("}")) {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// replyID extracts the correlation id of an encoded reply.
func replyID(data []byte) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", err
	}
	return probe.ID, nil
}
