package manifest

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// DRM system labels reported alongside a PSSH.
const (
	SystemWidevine  = "widevine"
	SystemPlayReady = "playready"
	SystemOther     = "other"
)

var (
	widevineSystemID  = []byte{0xED, 0xEF, 0x8B, 0xA9, 0x79, 0xD6, 0x4A, 0xCE, 0xA3, 0xC8, 0x27, 0xDC, 0xD5, 0x1D, 0x21, 0xED}
	playReadySystemID = []byte{0x9A, 0x04, 0xF0, 0x79, 0x98, 0x40, 0x42, 0x86, 0xAB, 0x92, 0xE6, 0x4B, 0xE0, 0x88, 0x5F, 0x95}
)

// psshSystemID returns the 16-byte system id of a base64 PSSH box.
func psshSystemID(b64 string) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode pssh: %w", err)
	}
	// 4 size + 4 type + 1 version + 3 flags + 16 system id
	if len(box) < 28 {
		return nil, fmt.Errorf("pssh data too short: expected at least 28 bytes, got %d", len(box))
	}
	if string(box[4:8]) != "pssh" {
		return nil, fmt.Errorf("not a pssh box: found type %q", string(box[4:8]))
	}
	if v := box[8]; v != 0 && v != 1 {
		return nil, fmt.Errorf("unsupported pssh version %d", v)
	}
	return box[12:28], nil
}

// PSSHSystem labels a base64 PSSH box by its system id. Values that do not parse
// as a box are labelled other.
func PSSHSystem(b64 string) string {
	id, err := psshSystemID(b64)
	if err != nil {
		return SystemOther
	}
	switch {
	case bytes.Equal(id, widevineSystemID):
		return SystemWidevine
	case bytes.Equal(id, playReadySystemID):
		return SystemPlayReady
	default:
		return SystemOther
	}
}
