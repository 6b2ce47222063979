package ycmd

import (
	"encoding/base64"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef")
	body := []byte(`{"line_num": 1}`)

	sig := Sign(secret, "POST", "/completions", body)
	if !Verify(secret, "POST", "/completions", body, sig) {
		t.Error("signature rejected by matching secret")
	}
}

func TestVerifyRejectsDifferentSecret(t *testing.T) {
	body := []byte(`{"line_num": 1}`)
	sig := Sign([]byte("0123456789abcdef"), "POST", "/completions", body)

	if Verify([]byte("fedcba9876543210"), "POST", "/completions", body, sig) {
		t.Error("signature accepted by a different secret")
	}
}

func TestVerifyRejectsTamperedRequest(t *testing.T) {
	secret := []byte("0123456789abcdef")
	body := []byte(`{"line_num": 1}`)
	sig := Sign(secret, "POST", "/completions", body)

	if Verify(secret, "POST", "/completions", []byte(`{"line_num": 2}`), sig) {
		t.Error("tampered body accepted")
	}
	if Verify(secret, "POST", "/shutdown", body, sig) {
		t.Error("tampered path accepted")
	}
	if Verify(secret, "GET", "/completions", body, sig) {
		t.Error("tampered method accepted")
	}
}

func TestSignUppercasesMethod(t *testing.T) {
	secret := []byte("0123456789abcdef")
	if Sign(secret, "post", "/ready", nil) != Sign(secret, "POST", "/ready", nil) {
		t.Error("method case changed the signature")
	}
}

func TestSignEmptyBody(t *testing.T) {
	secret := []byte("0123456789abcdef")
	sig := Sign(secret, "GET", "/ready", nil)
	if !Verify(secret, "GET", "/ready", []byte{}, sig) {
		t.Error("nil and empty body should sign identically")
	}
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("secret is not base64: %v", err)
	}
	if len(raw) != secretLen {
		t.Errorf("secret length = %d, want %d", len(raw), secretLen)
	}

	b, _ := NewSecret()
	if a == b {
		t.Error("two secrets identical")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	if Verify([]byte("k"), "GET", "/ready", nil, "not-base64!!!") {
		t.Error("malformed signature accepted")
	}
}
