// Package httputil centralizes JSON response writing for the API
// handlers so every endpoint emits the same content type and error
// envelope.
package httputil
