package main

import "testing"

func TestTunnelURLPatternMatchesCloudflaredOutput(t *testing.T) {
	line := "2026-08-06T12:00:00Z INF |  https://random-words-here.trycloudflare.com  |"
	got := tunnelURLPattern.FindString(line)
	want := "https://random-words-here.trycloudflare.com"
	if got != want {
		t.Errorf("FindString(%q) = %q, want %q", line, got, want)
	}
}

func TestTunnelURLPatternNoMatch(t *testing.T) {
	line := "2026-08-06T12:00:00Z INF Starting tunnel"
	if got := tunnelURLPattern.FindString(line); got != "" {
		t.Errorf("FindString(%q) = %q, want empty", line, got)
	}
}
