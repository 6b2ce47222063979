package ycmd

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// HMACHeader carries the request signature.
const HMACHeader = "X-Ycm-Hmac"

// secretLen is the raw byte length of a freshly generated secret.
const secretLen = 16

// NewSecret generates a fresh base64-encoded 16-byte HMAC secret.
func NewSecret() (string, error) {
	raw := make([]byte, secretLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func hmacSHA256(secret, data []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// Sign computes the request signature: HMACs of the uppercased method,
// the path, and the body are concatenated and HMACed again, then
// base64-encoded for the X-Ycm-Hmac header.
func Sign(secret []byte, method, path string, body []byte) string {
	hMethod := hmacSHA256(secret, []byte(strings.ToUpper(method)))
	hPath := hmacSHA256(secret, []byte(path))
	hBody := hmacSHA256(secret, body)

	joined := make([]byte, 0, len(hMethod)+len(hPath)+len(hBody))
	joined = append(joined, hMethod...)
	joined = append(joined, hPath...)
	joined = append(joined, hBody...)

	return base64.StdEncoding.EncodeToString(hmacSHA256(secret, joined))
}

// Verify checks a signature in constant time.
func Verify(secret []byte, method, path string, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(Sign(secret, method, path, body))
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}
