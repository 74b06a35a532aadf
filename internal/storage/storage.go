package storage

import (
	"context"
)

// Storage defines the low-level encrypted-blob operations required by the
// higher-level TokenStore.
type Storage interface {
	GetToken(ctx context.Context, account string) ([]byte, []byte, error)
	StoreToken(ctx context.Context, account string, token, nonce []byte) error
	DeleteToken(ctx context.Context, account string) error
}
