package app

import (
	"context"
	"net/http"

	"homepair-go/internal/session"
)

// contextKey is a custom type to use as a key for context values.
type contextKey string

// userContextKey is the key for storing the signed-in user in the request context.
const userContextKey = contextKey("user")

// requireSession rejects status requests while no user is signed in.
func (a *Application) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.Session.Current()
		if !ok {
			signedIn, err := a.Session.HasCredentials(r.Context())
			if err != nil {
				a.Logger.Printf("middleware: failed to read credentials: %v", err)
				http.Error(w, "credential store unavailable", http.StatusServiceUnavailable)
				return
			}
			if !signedIn {
				http.Error(w, "not signed in", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, withUser(r, user))
	})
}

// withUser adds the user to the request's context.
func withUser(r *http.Request, user session.User) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	return r.WithContext(ctx)
}

// userFromContext retrieves the user from the request's context.
func userFromContext(r *http.Request) (session.User, bool) {
	user, ok := r.Context().Value(userContextKey).(session.User)
	return user, ok
}
