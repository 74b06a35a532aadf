package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"homepair-go/internal/auth"
)

// TokenStore persists one account's TokenPair, encrypted, in a Storage.
// It implements auth.TokenStore.
type TokenStore struct {
	db            Storage
	encryptionKey []byte
	account       string
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(db Storage, key []byte, account string) (*TokenStore, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if account == "" {
		return nil, fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}
	return &TokenStore{db: db, encryptionKey: key, account: account}, nil
}

// Get retrieves and decrypts the stored pair. An empty store yields
// auth.ErrTokenNotFound.
func (ts *TokenStore) Get(ctx context.Context) (auth.TokenPair, error) {
	encryptedToken, nonce, err := ts.db.GetToken(ctx, ts.account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return auth.TokenPair{}, auth.ErrTokenNotFound
		}
		return auth.TokenPair{}, fmt.Errorf("failed to get encrypted token from db: %w", err)
	}
	return openPair(ts.encryptionKey, ts.account, encryptedToken, nonce)
}

// Save encrypts and stores the pair.
func (ts *TokenStore) Save(ctx context.Context, pair auth.TokenPair) error {
	encryptedToken, nonce, err := sealPair(ts.encryptionKey, ts.account, pair)
	if err != nil {
		return err
	}
	return ts.db.StoreToken(ctx, ts.account, encryptedToken, nonce)
}

// Remove deletes the stored pair.
func (ts *TokenStore) Remove(ctx context.Context) error {
	return ts.db.DeleteToken(ctx, ts.account)
}

// sealPair serialises the pair as an oauth2.Token and encrypts it.
func sealPair(key []byte, account string, pair auth.TokenPair) ([]byte, []byte, error) {
	tokenBytes, err := json.Marshal(pair.OAuth2())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	ciphertext, nonce, err := EncryptToken(key, account, tokenBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt token: %w", err)
	}
	return ciphertext, nonce, nil
}

func openPair(key []byte, account string, ciphertext, nonce []byte) (auth.TokenPair, error) {
	decryptedData, err := DecryptToken(key, account, ciphertext, nonce)
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("failed to decrypt token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(decryptedData, &token); err != nil {
		return auth.TokenPair{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return auth.PairFromOAuth2(&token), nil
}
