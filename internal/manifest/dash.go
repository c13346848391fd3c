package manifest

import (
	"regexp"
	"strings"
)

var (
	cencPSSHRe = regexp.MustCompile(`<cenc:pssh[^>]*>([A-Za-z0-9+/=]+)</cenc:pssh>`)
	msprProRe  = regexp.MustCompile(`<mspr:pro[^>]*>([A-Za-z0-9+/=]+)</mspr:pro>`)
)

// DASHSummary is what a textual scan of an MPD yields.
type DASHSummary struct {
	Representations int
	Encrypted       bool
	PSSH            string
	// FromPlayReadyObject is set when PSSH came from mspr:pro rather than cenc:pssh.
	FromPlayReadyObject bool
}

// ParseDASH scans an MPD without building a DOM. The PSSH lookup only runs when the
// manifest declares content protection.
func ParseDASH(content string) DASHSummary {
	s := DASHSummary{
		Representations: strings.Count(content, "<Representation"),
		Encrypted:       strings.Contains(content, "ContentProtection") || strings.Contains(content, "cenc:default_KID"),
	}
	if !s.Encrypted {
		return s
	}
	if m := cencPSSHRe.FindStringSubmatch(content); m != nil {
		s.PSSH = m[1]
	} else if m := msprProRe.FindStringSubmatch(content); m != nil {
		s.PSSH = m[1]
		s.FromPlayReadyObject = true
	}
	return s
}
