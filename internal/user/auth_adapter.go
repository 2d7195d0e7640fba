package user

import (
	"context"
	"errors"

	"github.com/alecgard/indexgate/internal/auth"
)

// tokenGetter is the subset of Store the adapter needs.
type tokenGetter interface {
	GetAccessToken(ctx context.Context, hash string) (*AccessToken, error)
}

// AuthAdapter adapts user.Store to the auth.TokenLookup interface.
type AuthAdapter struct {
	store tokenGetter
}

// NewAuthAdapter creates a new AuthAdapter wrapping the given user store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// LookupAccessToken resolves a token hash to an auth.AccessToken.
func (a *AuthAdapter) LookupAccessToken(ctx context.Context, hash string) (*auth.AccessToken, error) {
	tok, err := a.store.GetAccessToken(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auth.AccessToken{UserID: tok.UserID, ExpiresAt: tok.ExpiresAt}, nil
}
