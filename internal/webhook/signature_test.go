package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func digest(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_BareDigest(t *testing.T) {
	body := []byte(`{"event":"ai_usage"}`)
	if err := VerifySignature("secret", body, digest("secret", body)); err != nil {
		t.Errorf("Valid bare digest rejected: %v", err)
	}
}

func TestVerifySignature_PrefixedDigest(t *testing.T) {
	body := []byte(`{"event":"ai_usage"}`)
	if err := VerifySignature("secret", body, "sha256="+digest("secret", body)); err != nil {
		t.Errorf("Valid prefixed digest rejected: %v", err)
	}
	if err := VerifySignature("secret", body, "t=1718000000,v1="+digest("secret", body)); err != nil {
		t.Errorf("Valid stripe-style digest rejected: %v", err)
	}
}

func TestVerifySignature_Mismatch(t *testing.T) {
	body := []byte(`{"event":"ai_usage"}`)
	err := VerifySignature("secret", body, digest("other-secret", body))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	err := VerifySignature("secret", []byte(`{}`), "")
	if !errors.Is(err, ErrSignatureMissing) {
		t.Errorf("Expected ErrSignatureMissing, got %v", err)
	}
}

func TestVerifySignature_NoSecretSkips(t *testing.T) {
	if err := VerifySignature("", []byte(`{}`), "anything"); err != nil {
		t.Errorf("Empty secret must skip verification, got %v", err)
	}
	if err := VerifySignature("", []byte(`{}`), ""); err != nil {
		t.Errorf("Empty secret with no header must pass, got %v", err)
	}
}
