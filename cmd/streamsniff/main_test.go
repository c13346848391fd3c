package main

import (
	"testing"

	"github.com/dgnsrekt/streamsniff/internal/relay"
)

func TestParseHeaderFlags(t *testing.T) {
	got, err := parseHeaderFlags([]string{"Referer: https://site/", "Cookie:a=1; b=2"})
	if err != nil {
		t.Fatalf("parseHeaderFlags() error = %v", err)
	}
	if got["Referer"] != "https://site/" || got["Cookie"] != "a=1; b=2" {
		t.Fatalf("parseHeaderFlags() = %v", got)
	}
	if _, err := parseHeaderFlags([]string{"no-colon"}); err == nil {
		t.Fatal("parseHeaderFlags() error = nil; want invalid header")
	}
}

func TestBuildMessage(t *testing.T) {
	sendFlags.tab = "7"
	sendFlags.streamIndex = 2
	sendFlags.value = "abc"
	t.Cleanup(func() {
		sendFlags.tab = ""
		sendFlags.streamIndex = -1
		sendFlags.value = ""
	})

	dec := buildMessage("dec")
	if dec.Name != "dec" || dec.Action != "" || dec.Value != "abc" || dec.Kind() != relay.ActionDecode {
		t.Fatalf("buildMessage(dec) = %+v", dec)
	}

	pkg := buildMessage(relay.ActionGetDRMPackage)
	if pkg.Action != relay.ActionGetDRMPackage || pkg.TabID != "7" || pkg.StreamIndex == nil || *pkg.StreamIndex != 2 {
		t.Fatalf("buildMessage(getDRMPackage) = %+v", pkg)
	}

	key := buildMessage(relay.ActionKeyFound)
	if key.Data == nil {
		t.Fatalf("buildMessage(widevineKeyFound) = %+v; want data", key)
	}
}
