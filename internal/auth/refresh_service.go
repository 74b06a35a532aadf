package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxBodySize bounds how much of a response body is buffered.
const maxBodySize = 1 << 20

// Refresher exchanges a refresh token for a new TokenPair. The returned
// RefreshToken may be empty when the server does not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// HTTPRefresher calls the API's JSON refresh endpoint.
type HTTPRefresher struct {
	client *http.Client
	url    string
}

// NewHTTPRefresher creates a refresher posting to refreshURL. The client
// must not route through a Coordinator.
func NewHTTPRefresher(client *http.Client, refreshURL string) *HTTPRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRefresher{client: client, url: refreshURL}
}

// Refresh posts {"refresh_token": ...} and decodes the returned pair.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, ErrNoRefreshToken
	}

	payload, err := json.Marshal(struct {
		RefreshToken string `json:"refresh_token"`
	}{refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to call refresh endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if eb, ok := ParseErrorBody(body); ok && eb.Message != "" {
			return TokenPair{}, fmt.Errorf("refresh endpoint returned HTTP %d: %s", resp.StatusCode, eb.Message)
		}
		return TokenPair{}, fmt.Errorf("refresh endpoint returned HTTP %d", resp.StatusCode)
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("refresh response has no access token")
	}
	return pair, nil
}

// OAuth2Refresher performs a standard refresh_token grant against an OAuth2
// token endpoint.
type OAuth2Refresher struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuth2Refresher creates a refresher for config. A nil client uses the
// oauth2 package default.
func NewOAuth2Refresher(config *oauth2.Config, client *http.Client) *OAuth2Refresher {
	return &OAuth2Refresher{config: config, client: client}
}

// Refresh exchanges refreshToken at the configured token URL.
func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, ErrNoRefreshToken
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	// A token without an access token is never valid, so the source refreshes.
	tokenSource := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	newToken, err := tokenSource.Token()
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to refresh token: %w", err)
	}
	return PairFromOAuth2(newToken), nil
}
