// Package webhook ingests provider delivery events: it verifies signed
// payloads and applies each event to recipient and communication state.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aixr/awards-mailer/internal/config"
)

var (
	// ErrMissingSignature means a required signature header was absent.
	ErrMissingSignature = errors.New("webhook: missing signature headers")

	// ErrInvalidSignature means no signature candidate matched the payload.
	ErrInvalidSignature = errors.New("webhook: signature mismatch")

	// ErrStaleTimestamp means the signed timestamp fell outside the
	// replay tolerance window.
	ErrStaleTimestamp = errors.New("webhook: timestamp outside tolerance")
)

// Verifier checks provider webhook signatures. The signed content is
// "<message id>.<unix timestamp>.<raw body>"; the signature header carries
// space-separated candidates, each optionally prefixed with a scheme
// version ("v1,<base64 mac>").
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier from webhook configuration. An empty
// signing secret disables verification, which is only sensible in
// development.
func NewVerifier(cfg config.WebhookConfig) *Verifier {
	return &Verifier{
		secret:    decodeSecret(cfg.SigningSecret),
		tolerance: cfg.Tolerance(),
		now:       time.Now,
	}
}

// decodeSecret handles the provider's "whsec_" secret format, where the
// suffix is base64. Anything else is used as raw key bytes.
func decodeSecret(secret string) []byte {
	if secret == "" {
		return nil
	}
	if rest, ok := strings.CutPrefix(secret, "whsec_"); ok {
		if raw, err := base64.StdEncoding.DecodeString(rest); err == nil {
			return raw
		}
	}
	return []byte(secret)
}

// Enabled reports whether a signing secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks the signature headers against the raw request body.
// Returns nil when verification is disabled.
func (v *Verifier) Verify(msgID, timestamp, signature string, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	if msgID == "" || timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	if v.tolerance > 0 {
		drift := v.now().UTC().Sub(time.Unix(ts, 0))
		if drift > v.tolerance || drift < -v.tolerance {
			return ErrStaleTimestamp
		}
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signature) {
		if version, sig, ok := strings.Cut(candidate, ","); ok {
			// Only the v1 scheme is supported; a matching mac under
			// another version label proves nothing.
			if version != "v1" {
				continue
			}
			candidate = sig
		}
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
