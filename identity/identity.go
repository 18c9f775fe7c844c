// Package identity abstracts the external identity store. The engine
// trusts the user ID a Verifier returns as the caller identity for every
// operation; authoritative user records live outside this module.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when a credential cannot be resolved to
// a caller. The root package re-exports it as settle.ErrUnauthenticated.
var ErrUnauthenticated = errors.New("settle: unauthenticated")

// Identity is the verified caller.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Verifier resolves a bearer credential to an identity. Implementations
// return ErrUnauthenticated (or an error wrapping it) when the credential
// is missing, malformed or expired.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}
