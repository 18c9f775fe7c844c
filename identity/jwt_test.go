package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	v := NewJWTVerifier("test-secret-key-32-bytes-long!!!", time.Hour)

	token, err := v.Generate(&Identity{
		UserID:      "user_1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	ident, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ident.UserID != "user_1" || ident.DisplayName != "Alice" || ident.Email != "alice@example.com" {
		t.Errorf("unexpected identity: %+v", ident)
	}
}

func TestJWTRejections(t *testing.T) {
	v := NewJWTVerifier("test-secret-key-32-bytes-long!!!", time.Hour)
	other := NewJWTVerifier("a-different-secret-entirely!!!!!", time.Hour)
	expired := NewJWTVerifier("test-secret-key-32-bytes-long!!!", -time.Minute)

	goodFromOther, _ := other.Generate(&Identity{UserID: "user_1"})
	expiredToken, _ := expired.Generate(&Identity{UserID: "user_1"})

	tests := []struct {
		name       string
		credential string
	}{
		{"empty credential", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", goodFromOther},
		{"expired", expiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.credential)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("got %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]Identity{
		"tok-alice": {UserID: "alice", DisplayName: "Alice"},
	})

	ident, err := v.Verify(context.Background(), "tok-alice")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ident.UserID != "alice" {
		t.Errorf("got %q, want alice", ident.UserID)
	}

	if _, err := v.Verify(context.Background(), "tok-unknown"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}
