package main

import (
	"testing"
	"time"
)

func TestStampRoundTrip(t *testing.T) {
	sent := time.Unix(0, 1_700_000_000_123_456_789)
	got, ok := parseStamp(stamp(3, 42, sent))
	if !ok {
		t.Fatal("stamp not recognised")
	}
	if !got.Equal(sent) {
		t.Fatalf("sent = %v, want %v", got, sent)
	}
}

func TestParseStamp_IgnoresOrdinaryMessages(t *testing.T) {
	for _, content := range []string{"hello everyone", "loadtest stamp 1/2", "loadtest stamp a/b/c"} {
		if _, ok := parseStamp(content); ok {
			t.Errorf("%q parsed as a stamp", content)
		}
	}
}
