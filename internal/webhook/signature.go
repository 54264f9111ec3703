// Package webhook verifies and ingests inbound Oura webhook notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSignatureMissing means verification is enabled but the request
	// carried no signature header.
	ErrSignatureMissing = errors.New("signature missing")
	// ErrSignatureInvalid means the computed and provided signatures differ.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrSignatureStale means the signed timestamp falls outside the replay
	// tolerance window.
	ErrSignatureStale = errors.New("signature timestamp outside tolerance")
)

// DefaultTolerance is the replay window for timestamped signatures.
const DefaultTolerance = 5 * time.Minute

// Verifier checks webhook authenticity with a shared HMAC-SHA256 secret.
// With an empty secret every request passes unverified; that mode is for
// development only and must be announced at startup.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

// NewVerifier creates a Verifier. A non-positive tolerance falls back to
// DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Result carries the verification outcome. Verified is false both on failure
// and in insecure mode, so downstream code can record provenance.
type Result struct {
	Verified bool
}

// Verify checks the signature header against the raw request body. The header
// is either a bare hex HMAC of the body, or the timestamped form
// "t=<unix>,v1=<hex>" where the MAC covers "<unix>.<body>".
func (v *Verifier) Verify(body []byte, header string, now time.Time) (Result, error) {
	if !v.Enabled() {
		return Result{Verified: false}, nil
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return Result{}, ErrSignatureMissing
	}

	if strings.Contains(header, "=") {
		return v.verifyTimestamped(body, header, now)
	}

	if !v.matches(body, header) {
		return Result{}, ErrSignatureInvalid
	}
	return Result{Verified: true}, nil
}

func (v *Verifier) verifyTimestamped(body []byte, header string, now time.Time) (Result, error) {
	var timestampPart, signaturePart string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestampPart = value
		case "v1":
			signaturePart = value
		}
	}
	if timestampPart == "" || signaturePart == "" {
		return Result{}, ErrSignatureInvalid
	}

	signed := fmt.Sprintf("%s.%s", timestampPart, body)
	if !v.matches([]byte(signed), signaturePart) {
		return Result{}, ErrSignatureInvalid
	}

	unix, err := strconv.ParseInt(timestampPart, 10, 64)
	if err != nil {
		return Result{}, ErrSignatureInvalid
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return Result{}, ErrSignatureStale
	}
	return Result{Verified: true}, nil
}

func (v *Verifier) matches(payload []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CheckChallenge reports whether the provided verification token equals the
// configured secret. The caller echoes the challenge value back on success.
func (v *Verifier) CheckChallenge(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), v.secret) == 1
}
