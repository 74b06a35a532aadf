package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// Mock Token Store
type mockTokenStore struct {
	InMemoryTokenStore
	getErr  error
	saveErr error
	saves   atomic.Int32
}

func newMockTokenStore(pair *TokenPair) *mockTokenStore {
	s := &mockTokenStore{}
	if pair != nil {
		s.pair = pair
	}
	return s
}

func (m *mockTokenStore) Get(ctx context.Context) (TokenPair, error) {
	if m.getErr != nil {
		return TokenPair{}, m.getErr
	}
	return m.InMemoryTokenStore.Get(ctx)
}

func (m *mockTokenStore) Save(ctx context.Context, pair TokenPair) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves.Add(1)
	return m.InMemoryTokenStore.Save(ctx, pair)
}

// Mock Refresher
type mockRefresher struct {
	mu       sync.Mutex
	calls    int
	received []string
	tokens   []TokenPair // returned in order, the last one repeats
	err      error
	release  chan struct{} // when set, Refresh blocks until it is closed
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.received = append(m.received, refreshToken)
	m.mu.Unlock()

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return TokenPair{}, ctx.Err()
		}
	}
	if m.err != nil {
		return TokenPair{}, m.err
	}
	return m.tokens[min(n, len(m.tokens))-1], nil
}

func (m *mockRefresher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Sign-out recorder
type signOutRecorder struct {
	count atomic.Int32
}

func (s *signOutRecorder) SignOut() {
	s.count.Add(1)
}

// apiStub accepts requests bearing its current valid token and echoes the
// request body. Any other token gets a 401 with the configured code.
type apiStub struct {
	mu         sync.Mutex
	validToken string
	code       string
	hits       int
}

func (s *apiStub) setValidToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validToken = token
}

func (s *apiStub) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	valid, code := s.validToken, s.code
	s.hits++
	s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"code":%q,"message":"not allowed"}`, code)
		return
	}

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("X-Echo-Method", r.Method)
	w.Header().Set("X-Echo-Custom", r.Header.Get("X-Custom"))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// failingTransport fails every round trip with err.
type failingTransport struct {
	err error
}

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}
