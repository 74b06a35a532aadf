package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrTokenNotFound is returned by a TokenStore that holds no credentials.
var ErrTokenNotFound = errors.New("token not found")

// TokenPair is the credential pair issued by the API on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenStore persists the signed-in account's TokenPair.
type TokenStore interface {
	// Get returns the stored pair, or ErrTokenNotFound.
	Get(ctx context.Context) (TokenPair, error)
	// Save replaces the stored pair.
	Save(ctx context.Context, pair TokenPair) error
	// Remove deletes any stored pair. Removing an empty store is not an error.
	Remove(ctx context.Context) error
}

// OAuth2 converts the pair into an oauth2.Token with a bearer type.
func (p TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: p.RefreshToken,
	}
}

// PairFromOAuth2 extracts the pair from an oauth2.Token. A nil token yields
// an empty pair.
func PairFromOAuth2(token *oauth2.Token) TokenPair {
	if token == nil {
		return TokenPair{}
	}
	return TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
}

// loadPair reads the store and treats an empty store as an empty pair.
func loadPair(ctx context.Context, store TokenStore) (TokenPair, error) {
	pair, err := store.Get(ctx)
	if errors.Is(err, ErrTokenNotFound) {
		return TokenPair{}, nil
	}
	return pair, err
}
