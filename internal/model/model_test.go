package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusPending, true}, // retry edge
		{StatusFailed, StatusRunning, false},
		{"bogus", StatusRunning, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatus(t *testing.T) {
	if TerminalStatus(StatusPending) || TerminalStatus(StatusRunning) {
		t.Error("pending/running must not be terminal")
	}
	if !TerminalStatus(StatusCompleted) || !TerminalStatus(StatusFailed) {
		t.Error("completed/failed must be terminal")
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range Kinds {
		if !ValidKind(k) {
			t.Errorf("ValidKind(%q) = false, want true", k)
		}
	}
	if ValidKind("smtp_relay") {
		t.Error(`ValidKind("smtp_relay") = true, want false`)
	}
	if ValidKind("") {
		t.Error(`ValidKind("") = true, want false`)
	}
}

func TestNormalizeDomainName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com", false},
		{"  Example.COM  ", "example.com", false},
		{"mail.example.co.uk", "mail.example.co.uk", false},
		{"example.com.", "example.com", false},
		{"xn--bcher-kva.ch", "xn--bcher-kva.ch", false},
		{"", "", true},
		{"localhost", "", true},
		{"-bad.example.com", "", true},
		{"bad-.example.com", "", true},
		{"exa mple.com", "", true},
		{"http://example.com", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeDomainName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeDomainName(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeDomainName(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDomainName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
