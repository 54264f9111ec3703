package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func hexSign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	v := NewVerifier("secret", 0)
	body := []byte(`{"data_type":"daily_sleep","event_type":"create"}`)

	result, err := v.Verify(body, hexSign("secret", body), time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	v := NewVerifier("secret", 0)
	body := []byte(`{"data_type":"daily_sleep","event_type":"create"}`)
	signature := hexSign("secret", body)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		if _, err := v.Verify(tampered, signature, time.Now()); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("byte %d: expected ErrSignatureInvalid, got %v", i, err)
		}
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	t.Parallel()

	v := NewVerifier("secret", 0)
	if _, err := v.Verify([]byte("{}"), "", time.Now()); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected ErrSignatureMissing, got %v", err)
	}
	if _, err := v.Verify([]byte("{}"), "   ", time.Now()); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("expected ErrSignatureMissing for blank header, got %v", err)
	}
}

func TestVerifyTimestampedSignature(t *testing.T) {
	t.Parallel()

	v := NewVerifier("secret", 5*time.Minute)
	body := []byte(`{"data_type":"workout","event_type":"create"}`)
	now := time.Now()

	sign := func(at time.Time) string {
		unix := at.Unix()
		mac := hexSign("secret", []byte(fmt.Sprintf("%d.%s", unix, body)))
		return fmt.Sprintf("t=%d,v1=%s", unix, mac)
	}

	result, err := v.Verify(body, sign(now), now)
	if err != nil {
		t.Fatalf("verify fresh timestamp: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}

	if _, err := v.Verify(body, sign(now.Add(-6*time.Minute)), now); !errors.Is(err, ErrSignatureStale) {
		t.Fatalf("expected ErrSignatureStale for old timestamp, got %v", err)
	}
	if _, err := v.Verify(body, sign(now.Add(6*time.Minute)), now); !errors.Is(err, ErrSignatureStale) {
		t.Fatalf("expected ErrSignatureStale for future timestamp, got %v", err)
	}

	// A tampered timestamp breaks the MAC before staleness is considered.
	stale := sign(now.Add(-6 * time.Minute))
	forged := fmt.Sprintf("t=%d,%s", now.Unix(), stale[len(fmt.Sprintf("t=%d,", now.Add(-6*time.Minute).Unix())):])
	if _, err := v.Verify(body, forged, now); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for forged timestamp, got %v", err)
	}
}

func TestVerifyInsecureModePassesUnverified(t *testing.T) {
	t.Parallel()

	v := NewVerifier("", 0)
	if v.Enabled() {
		t.Fatal("expected verifier disabled without secret")
	}

	result, err := v.Verify([]byte("{}"), "", time.Now())
	if err != nil {
		t.Fatalf("verify in insecure mode: %v", err)
	}
	if result.Verified {
		t.Fatal("insecure mode must not claim verification")
	}
}

func TestCheckChallenge(t *testing.T) {
	t.Parallel()

	v := NewVerifier("secret", 0)
	if !v.CheckChallenge("secret") {
		t.Fatal("expected matching token to pass")
	}
	if v.CheckChallenge("wrong") {
		t.Fatal("expected mismatched token to fail")
	}
	if v.CheckChallenge("") {
		t.Fatal("expected empty token to fail")
	}
}
