package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"homepair-go/internal/auth"
	"homepair-go/internal/metrics"
)

// signOutTimeout bounds credential removal when SignOut is invoked without a
// caller context.
const signOutTimeout = 5 * time.Second

// User is the signed-in household member.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PartnerID string `json:"partner_id,omitempty"`
}

// Manager owns the signed-in state: the stored credentials and the current
// user. Its SignOut method is the sign-out signal handed to the
// auth.Coordinator.
type Manager struct {
	tokens auth.TokenStore
	logger *log.Logger

	mu        sync.RWMutex
	user      *User
	listeners []func()
}

// NewManager creates a Manager backed by the given token store.
func NewManager(tokens auth.TokenStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{tokens: tokens, logger: logger}
}

// SignIn persists the pair and records the user.
func (m *Manager) SignIn(ctx context.Context, pair auth.TokenPair, user User) error {
	if pair.AccessToken == "" {
		return errors.New("sign in: access token cannot be empty")
	}
	if err := m.tokens.Save(ctx, pair); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()

	m.logger.Printf("session: signed in as %s", user.Email)
	return nil
}

// SetUser records the user for credentials that are already stored.
func (m *Manager) SetUser(user User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = &user
}

// Current returns the signed-in user, if any.
func (m *Manager) Current() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

// HasCredentials reports whether an access token is stored.
func (m *Manager) HasCredentials(ctx context.Context) (bool, error) {
	pair, err := m.tokens.Get(ctx)
	if errors.Is(err, auth.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pair.AccessToken != "", nil
}

// OnSignOut registers fn to run on every sign-out, after the user is
// cleared and before the stored credentials are removed.
func (m *Manager) OnSignOut(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SignOut clears the user, notifies the listeners and removes the stored
// credentials. It is safe to call when already signed out.
func (m *Manager) SignOut() {
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	if err := m.signOut(ctx); err != nil {
		m.logger.Printf("session: %v", err)
	}
}

// Logout is a voluntary sign-out.
func (m *Manager) Logout(ctx context.Context) error {
	metrics.SignOuts.WithLabelValues("logout").Inc()
	return m.signOut(ctx)
}

func (m *Manager) signOut(ctx context.Context) error {
	m.mu.Lock()
	m.user = nil
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	if removeErr := m.tokens.Remove(ctx); removeErr != nil {
		return fmt.Errorf("failed to remove credentials: %w", removeErr)
	}
	m.logger.Println("session: signed out")
	return nil
}
