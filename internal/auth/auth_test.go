package auth

import (
	"encoding/hex"
	"strconv"
	"testing"
)

func TestExternalHandshakeSucceeds(t *testing.T) {
	s := NewServer("abcd1234")
	uidHex := hex.EncodeToString([]byte(strconv.Itoa(1000)))

	reply, begin, err := s.Process("AUTH EXTERNAL " + uidHex)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if begin {
		t.Fatalf("Process reported begin before BEGIN line")
	}
	if reply != "OK abcd1234" {
		t.Fatalf("reply = %q, want OK abcd1234", reply)
	}
	if !s.Authenticated() {
		t.Fatalf("Authenticated() = false after OK")
	}
	if s.AuthenticatedUID() != "1000" {
		t.Fatalf("AuthenticatedUID() = %q, want 1000", s.AuthenticatedUID())
	}
	if !s.ProcessBegin("BEGIN") {
		t.Fatalf("ProcessBegin(BEGIN) = false once authenticated")
	}
}

func TestExternalHandshakeTwoStep(t *testing.T) {
	s := NewServer("deadbeef")
	uidHex := hex.EncodeToString([]byte(strconv.Itoa(0)))

	reply, _, err := s.Process("AUTH EXTERNAL")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "DATA" {
		t.Fatalf("reply = %q, want DATA", reply)
	}

	reply, _, err = s.Process("DATA " + uidHex)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "OK deadbeef" {
		t.Fatalf("reply = %q, want OK deadbeef", reply)
	}
	if !s.Authenticated() {
		t.Fatalf("Authenticated() = false")
	}
}

func TestAnonymousHandshake(t *testing.T) {
	s := NewServer("cafef00d")
	reply, _, err := s.Process("AUTH ANONYMOUS")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "OK cafef00d" {
		t.Fatalf("reply = %q, want OK cafef00d", reply)
	}
	if !s.Authenticated() {
		t.Fatalf("Authenticated() = false")
	}
}

func TestUnsupportedMechanismRejected(t *testing.T) {
	s := NewServer("abcd1234")
	reply, _, err := s.Process("AUTH DIGEST-MD5")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "REJECTED EXTERNAL ANONYMOUS" {
		t.Fatalf("reply = %q, want REJECTED EXTERNAL ANONYMOUS", reply)
	}
	if s.Authenticated() {
		t.Fatalf("Authenticated() = true after rejection")
	}
}

func TestMalformedExternalDataRejected(t *testing.T) {
	s := NewServer("abcd1234")
	reply, _, err := s.Process("AUTH EXTERNAL zz")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != "REJECTED EXTERNAL ANONYMOUS" {
		t.Fatalf("reply = %q, want REJECTED EXTERNAL ANONYMOUS", reply)
	}
}

func TestBeginRejectedBeforeAuthenticated(t *testing.T) {
	s := NewServer("abcd1234")
	if s.ProcessBegin("BEGIN") {
		t.Fatalf("ProcessBegin(BEGIN) = true before authentication")
	}
}
