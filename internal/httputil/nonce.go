package httputil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// nonceBytes encodes to a 22 character base64url string.
const nonceBytes = 16

type nonceCtxKey struct{}

// NewNonce returns a fresh value for a CSP 'nonce-' source.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceCtxKey{}, nonce)
}

// Nonce returns the request's CSP nonce, "" outside the security middleware.
func Nonce(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceCtxKey{}).(string)
	return nonce
}
