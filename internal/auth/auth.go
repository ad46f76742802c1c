// Package auth guards the operator API endpoints with a static key.
// The webhook endpoint is not covered here: the provider authenticates
// with its payload signature instead.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aixr/awards-mailer/internal/pkg/httputil"
)

// Keychain holds the operator API key. An empty key disables the check,
// which is only sensible in development.
type Keychain struct {
	key []byte
}

// NewKeychain creates a keychain for the configured operator key.
func NewKeychain(apiKey string) *Keychain {
	return &Keychain{key: []byte(apiKey)}
}

// Enabled reports whether requests must present a key.
func (k *Keychain) Enabled() bool { return len(k.key) > 0 }

// RequireKey is middleware that rejects requests without a valid key
// before any handler runs. The key arrives as "Authorization: Bearer
// <key>" or in the X-API-Key header.
func (k *Keychain) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !k.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(presentedKey(r)), k.key) != 1 {
			httputil.Error(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedKey(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if key, ok := strings.CutPrefix(v, "Bearer "); ok {
			return key
		}
	}
	return r.Header.Get("X-API-Key")
}
