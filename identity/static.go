package identity

import "context"

// StaticVerifier maps opaque tokens to fixed identities. Intended for
// tests and local development.
type StaticVerifier struct {
	tokens map[string]Identity
}

// NewStaticVerifier builds a verifier from a token→identity table.
func NewStaticVerifier(tokens map[string]Identity) *StaticVerifier {
	cp := make(map[string]Identity, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticVerifier{tokens: cp}
}

func (v *StaticVerifier) Verify(_ context.Context, credential string) (*Identity, error) {
	if ident, ok := v.tokens[credential]; ok {
		out := ident
		return &out, nil
	}
	return nil, ErrUnauthenticated
}
