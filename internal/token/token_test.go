package token

import (
	"net"
	"testing"
	"time"
)

func TestManager_GenerateValidatesForSameIP(t *testing.T) {
	m, err := NewManager(time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	ip := net.IPv4(10, 0, 0, 1)
	tok := m.Generate(ip)
	if !m.Validate(ip, tok) {
		t.Fatal("token failed to validate for the IP it was issued to")
	}
}

func TestManager_TokenRejectedForDifferentIP(t *testing.T) {
	m, err := NewManager(time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	tok := m.Generate(net.IPv4(10, 0, 0, 1))
	if m.Validate(net.IPv4(10, 0, 0, 2), tok) {
		t.Fatal("token validated for an IP it was never issued to")
	}
}

func TestManager_PreviousSecretStillValidatesAfterOneRotation(t *testing.T) {
	m, err := NewManager(time.Unix(0, 0))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	ip := net.IPv4(10, 0, 0, 1)
	tok := m.Generate(ip)

	if err := m.Rotate(time.Unix(1, 0)); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if !m.Validate(ip, tok) {
		t.Fatal("token issued just before rotation should still validate once")
	}

	if err := m.Rotate(time.Unix(2, 0)); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if m.Validate(ip, tok) {
		t.Fatal("token should no longer validate after a second rotation")
	}
}
