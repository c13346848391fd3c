package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TabID identifies a browser tab. CDP target IDs and extension tab numbers both map onto it.
type TabID string

// NoTab is the sentinel the browser uses for requests that do not belong to a tab.
const NoTab TabID = "-1"

// Valid reports whether the id refers to a real tab.
func (t TabID) Valid() bool {
	return t != "" && t != NoTab
}

func (t TabID) String() string { return string(t) }

// UnmarshalJSON accepts both JSON strings and JSON integers.
func (t *TabID) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		*t = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = TabID(s)
		return nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return fmt.Errorf("tab id: %q is neither a string nor an integer", raw)
	}
	*t = TabID(raw)
	return nil
}

// TabInfo holds metadata about an attached browser tab.
type TabInfo struct {
	TabID    TabID  `json:"tab_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}
