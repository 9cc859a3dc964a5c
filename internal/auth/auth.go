// Package auth resolves bearer credentials to verified identities.
//
// The identity provider is an external collaborator; Verifier is the
// boundary the rest of the system consumes. Store is the built-in
// file-backed implementation used when no external provider is wired.
package auth

import (
	"context"

	"pkt.systems/coderoom/schema"
)

// Verifier verifies a bearer credential and resolves the owning identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (schema.Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (schema.Identity, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (schema.Identity, error) {
	return f(ctx, token)
}
