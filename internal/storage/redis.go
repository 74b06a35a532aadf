package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"homepair-go/internal/auth"
)

const redisTokenPrefix = "homepair:tokens:"

// redisRecord is the value stored under an account key.
type redisRecord struct {
	Token []byte `json:"token"`
	Nonce []byte `json:"nonce"`
}

// RedisTokenStore persists one account's TokenPair, encrypted, in Redis.
// It implements auth.TokenStore.
type RedisTokenStore struct {
	client        *redis.Client
	encryptionKey []byte
	account       string
}

// NewRedisTokenStore creates a RedisTokenStore.
func NewRedisTokenStore(client *redis.Client, key []byte, account string) (*RedisTokenStore, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if account == "" {
		return nil, fmt.Errorf("%w: account cannot be empty", ErrInvalidInput)
	}
	return &RedisTokenStore{client: client, encryptionKey: key, account: account}, nil
}

func (s *RedisTokenStore) key() string {
	return redisTokenPrefix + s.account
}

// Get returns the stored pair or auth.ErrTokenNotFound.
func (s *RedisTokenStore) Get(ctx context.Context) (auth.TokenPair, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.TokenPair{}, auth.ErrTokenNotFound
	}
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("failed to get token from redis: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return auth.TokenPair{}, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return openPair(s.encryptionKey, s.account, rec.Token, rec.Nonce)
}

// Save encrypts and stores the pair without expiry.
func (s *RedisTokenStore) Save(ctx context.Context, pair auth.TokenPair) error {
	ciphertext, nonce, err := sealPair(s.encryptionKey, s.account, pair)
	if err != nil {
		return err
	}
	b, err := json.Marshal(redisRecord{Token: ciphertext, Nonce: nonce})
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(), b, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

// Remove deletes the stored pair.
func (s *RedisTokenStore) Remove(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}
