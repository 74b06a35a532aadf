package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"homepair-go/internal/api"
	"homepair-go/internal/auth"
	"homepair-go/internal/config"
	"homepair-go/internal/session"
	"homepair-go/internal/storage"
)

// Application holds all the major components of the client.
type Application struct {
	Config        *config.Config
	Logger        *log.Logger
	Tokens        auth.TokenStore
	Refresher     auth.Refresher
	Session       *session.Manager
	Coordinator   *auth.Coordinator
	API           *api.Client
	MetricsServer *http.Server

	closers []func() error
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config) (*Application, error) {
	logger := log.New(os.Stderr, "homepair: ", log.LstdFlags)

	app := &Application{
		Config: cfg,
		Logger: logger,
	}

	// Setup: Token store
	tokens, err := app.openTokenStore()
	if err != nil {
		return nil, err
	}
	app.Tokens = tokens

	// Setup: Refresher. It uses its own client so refresh calls never pass
	// through the coordinator.
	refreshClient := &http.Client{Timeout: cfg.API.RefreshTimeout.Duration}
	if cfg.API.OAuth2ClientID != "" {
		tokenURL := cfg.API.OAuth2TokenURL
		if tokenURL == "" {
			tokenURL = cfg.RefreshURL()
		}
		app.Refresher = auth.NewOAuth2Refresher(&oauth2.Config{
			ClientID:     cfg.API.OAuth2ClientID,
			ClientSecret: cfg.API.OAuth2ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}, refreshClient)
	} else {
		app.Refresher = auth.NewHTTPRefresher(refreshClient, cfg.RefreshURL())
	}

	// Setup: Session and coordinator
	app.Session = session.NewManager(tokens, logger)
	app.Coordinator = auth.NewCoordinator(http.DefaultTransport.(*http.Transport).Clone(), tokens, app.Refresher, app.Session.SignOut, logger)
	app.Coordinator.SetRefreshTimeout(cfg.API.RefreshTimeout.Duration)
	app.Session.OnSignOut(app.Coordinator.Reset)

	// Setup: API client. The client timeout spans a refresh and the replay.
	httpClient := &http.Client{
		Transport: app.Coordinator,
		Timeout:   cfg.API.Timeout.Duration + cfg.API.RefreshTimeout.Duration,
	}
	app.API, err = api.NewClient(cfg.API.BaseURL, httpClient, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	app.API.SetDebug(cfg.LogLevel == "debug")

	// Setup: HTTP Server for metrics and session status
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", app.handleHealth)
		mux.Handle("/session", app.requireSession(http.HandlerFunc(app.handleSession)))
		app.MetricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return app, nil
}

// openTokenStore builds the configured token store backend.
func (a *Application) openTokenStore() (auth.TokenStore, error) {
	ts := a.Config.TokenStore
	key := []byte(ts.EncryptionKey)

	switch ts.Driver {
	case "memory":
		return auth.NewInMemoryTokenStore(), nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: ts.RedisAddr})
		store, err := storage.NewRedisTokenStore(client, key, ts.Account)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create redis token store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return store, nil

	case "sqlite":
		dbCfg := storage.DefaultConfig()
		dbCfg.Path = ts.DBPath
		db, err := storage.OpenDatabase(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open token database: %w", err)
		}
		store, err := storage.NewTokenStore(db, key, ts.Account)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown token store driver %q", ts.Driver)
	}
}

// Login signs in with email and password and loads the user profile.
func (a *Application) Login(ctx context.Context, email, password string) (session.User, error) {
	pair, err := a.API.Login(ctx, email, password)
	if err != nil {
		return session.User{}, fmt.Errorf("login failed: %w", err)
	}
	if err := a.Session.SignIn(ctx, pair, session.User{Email: email}); err != nil {
		return session.User{}, err
	}

	user, err := a.API.Me(ctx)
	if err != nil {
		// A half-finished login leaves no credentials behind.
		a.Session.SignOut()
		return session.User{}, fmt.Errorf("failed to load profile: %w", err)
	}
	a.Session.SetUser(user)
	return user, nil
}

// CurrentUser returns the signed-in user, fetching the profile when only
// stored credentials are known.
func (a *Application) CurrentUser(ctx context.Context) (session.User, error) {
	if user, ok := a.Session.Current(); ok && user.ID != "" {
		return user, nil
	}
	signedIn, err := a.Session.HasCredentials(ctx)
	if err != nil {
		return session.User{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !signedIn {
		return session.User{}, ErrNotSignedIn
	}

	user, err := a.API.Me(ctx)
	if err != nil {
		return session.User{}, err
	}
	a.Session.SetUser(user)
	return user, nil
}

// ErrNotSignedIn is returned when an operation needs stored credentials.
var ErrNotSignedIn = errors.New("not signed in")

// Start begins the application's services.
func (a *Application) Start(ctx context.Context) error {
	if a.MetricsServer == nil {
		return nil
	}

	// Start the metrics server
	go func() {
		a.Logger.Printf("Starting metrics server on %s", a.MetricsServer.Addr)
		if err := a.MetricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Printf("Metrics server ListenAndServe: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	if a.MetricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Printf("Metrics server shutdown error: %v", err)
		}
	}

	return a.Close()
}

// Close releases the token store backend.
func (a *Application) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
