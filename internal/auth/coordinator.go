package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"homepair-go/internal/metrics"
)

const defaultRefreshTimeout = 30 * time.Second

// Coordinator is an http.RoundTripper that attaches the stored bearer token
// to outgoing requests and recovers from expired access tokens.
//
// At most one refresh call is in flight at a time. A request that fails with
// a token-expiry 401 while a refresh is running is parked until that refresh
// settles, then replayed once with the new token. Create one Coordinator per
// HTTP client configuration.
type Coordinator struct {
	base           http.RoundTripper
	tokens         TokenStore
	refresher      Refresher
	signOut        func()
	logger         *log.Logger
	refreshTimeout time.Duration

	mu         sync.Mutex
	refreshing bool
	pending    []*pendingRequest
	generation uint64 // bumped on every sign-out
}

type refreshOutcome struct {
	accessToken string
	err         error
}

// pendingRequest is a request waiting on the in-flight refresh. done has a
// buffer of one so settling never blocks on a caller that stopped waiting.
type pendingRequest struct {
	done chan refreshOutcome
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan refreshOutcome, 1)}
}

// NewCoordinator creates a Coordinator. base defaults to
// http.DefaultTransport; signOut is invoked whenever the session can no
// longer be recovered.
func NewCoordinator(base http.RoundTripper, tokens TokenStore, refresher Refresher, signOut func(), logger *log.Logger) *Coordinator {
	if base == nil {
		base = http.DefaultTransport
	}
	if signOut == nil {
		signOut = func() {}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{
		base:           base,
		tokens:         tokens,
		refresher:      refresher,
		signOut:        signOut,
		logger:         logger,
		refreshTimeout: defaultRefreshTimeout,
	}
}

// Reset marks the current credentials as signed out. A refresh that is in
// flight when Reset is called does not store its result.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()
}

// invalidate ends the session: the generation is bumped before the
// sign-out callback removes the credentials.
func (c *Coordinator) invalidate() {
	c.Reset()
	c.signOut()
}

// SetRefreshTimeout bounds each refresh call. Zero disables the bound and
// leaves only the refresher's own client timeout.
func (c *Coordinator) SetRefreshTimeout(d time.Duration) {
	c.refreshTimeout = d
}

type skipRefreshKey struct{}

// WithoutRefresh marks ctx so that requests made with it are sent untouched:
// no bearer token is attached and a 401 is returned as-is. Used for the
// login call.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey{}, true)
}

func skipsRefresh(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRefreshKey{}).(bool)
	return skip
}

// RoundTrip implements http.RoundTripper.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if skipsRefresh(ctx) {
		return c.base.RoundTrip(req)
	}

	getBody, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	out, err := prepare(req, getBody)
	if err != nil {
		return nil, err
	}
	if out.Header.Get("Authorization") == "" {
		pair, err := loadPair(ctx, c.tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to load access token: %w", err)
		}
		if pair.AccessToken != "" {
			out.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}
	}

	resp, err := c.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	body, err := bufferBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read 401 response: %w", err)
	}
	errBody, _ := ParseErrorBody(body)
	if !errBody.SignalsExpiry() {
		c.logger.Printf("coordinator: %s %s rejected with HTTP 401 (%s), signing out", req.Method, req.URL.Path, errBody.Code)
		metrics.SignOuts.WithLabelValues("unauthorized").Inc()
		c.invalidate()
		return resp, nil
	}

	accessToken, err := c.awaitRefresh(ctx)
	if err != nil {
		return nil, err
	}

	replay, err := prepare(req, getBody)
	if err != nil {
		return nil, err
	}
	replay.Header.Set("Authorization", "Bearer "+accessToken)
	metrics.RequestsReplayed.Inc()
	return c.base.RoundTrip(replay)
}

// awaitRefresh returns a fresh access token. The first caller while idle
// performs the refresh; callers arriving during it wait for its outcome.
func (c *Coordinator) awaitRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		p := newPendingRequest()
		c.pending = append(c.pending, p)
		c.mu.Unlock()
		metrics.RequestsQueued.Inc()

		select {
		case out := <-p.done:
			return out.accessToken, out.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.refreshing = true
	generation := c.generation
	c.mu.Unlock()

	c.logger.Println("coordinator: access token expired, refreshing")
	accessToken, err := c.refresh(context.WithoutCancel(ctx), generation)

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.refreshing = false
	c.mu.Unlock()

	out := refreshOutcome{accessToken: accessToken, err: err}
	for _, p := range pending {
		p.done <- out
	}

	if err != nil {
		c.logger.Printf("coordinator: refresh failed, %d queued request(s) rejected: %v", len(pending), err)
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		if errors.Is(err, ErrSignedOut) {
			return "", err
		}
		metrics.SignOuts.WithLabelValues("refresh_failed").Inc()
		c.invalidate()
		return "", err
	}

	c.logger.Printf("coordinator: token refreshed, replaying %d queued request(s)", len(pending))
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return accessToken, nil
}

// refresh performs one refresh call and persists the result unless a
// sign-out moved the coordinator past generation. Every failure is returned
// as a *RefreshError.
func (c *Coordinator) refresh(ctx context.Context, generation uint64) (string, error) {
	pair, err := loadPair(ctx, c.tokens)
	if err != nil {
		return "", &RefreshError{Err: fmt.Errorf("failed to load refresh token: %w", err)}
	}
	if pair.RefreshToken == "" {
		return "", &RefreshError{Err: ErrNoRefreshToken}
	}

	if c.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
		defer cancel()
	}

	start := time.Now()
	fresh, err := c.refresher.Refresh(ctx, pair.RefreshToken)
	metrics.TokenRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &RefreshError{Err: err}
	}

	// Keep the existing refresh token unless the server rotated it.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = pair.RefreshToken
	}
	if err := c.commit(ctx, generation, fresh); err != nil {
		return "", &RefreshError{Err: err}
	}
	return fresh.AccessToken, nil
}

// commit saves fresh if no sign-out happened since generation was read.
// The lock is held across Save so a concurrent Reset either precedes the
// check or follows the write, and in the latter case the sign-out's removal
// runs after it.
func (c *Coordinator) commit(ctx context.Context, generation uint64, fresh TokenPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return ErrSignedOut
	}
	if err := c.tokens.Save(ctx, fresh); err != nil {
		return fmt.Errorf("failed to store refreshed token: %w", err)
	}
	return nil
}

// queued reports the number of parked requests.
func (c *Coordinator) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// rewindable returns a body factory for req so it can be sent twice. The
// original body is consumed and closed. A nil factory means no body.
func rewindable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, nil
	}

	b, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

// prepare clones req with a fresh copy of its body.
func prepare(req *http.Request, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody == nil {
		out.Body = nil
		return out, nil
	}
	body, err := getBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	out.Body = body
	out.GetBody = getBody
	return out, nil
}

// bufferBody reads resp.Body into memory and replaces it with a reader
// over the same bytes.
func bufferBody(resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	resp.ContentLength = int64(len(b))
	return b, nil
}
