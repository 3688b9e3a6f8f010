package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrSignatureMissing = errors.New("signature header missing")
	ErrSignatureInvalid = errors.New("signature mismatch")
)

// VerifySignature checks an HMAC-SHA256 of the raw body against the
// value the sender put in its signature header. An empty secret skips
// verification entirely: senders without a configured secret are
// accepted (permissive by design; a misconfigured secret shows up as
// silently unverified traffic, so callers log when this path is taken).
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	if header == "" {
		return ErrSignatureMissing
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Providers wrap the hex digest differently (e.g. "sha256=<hex>" or
	// "t=...,v1=<hex>"); compare against the digest portion.
	provided := strings.TrimSpace(header)
	if i := strings.LastIndexByte(provided, '='); i >= 0 && !isHex(provided) {
		provided = provided[i+1:]
	}

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrSignatureInvalid
	}
	return nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
