package app

import (
	"encoding/json"
	"net/http"
)

// handleHealth reports that the process is up.
func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

type sessionStatus struct {
	SignedIn bool   `json:"signed_in"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Account  string `json:"account"`
}

// handleSession reports the signed-in state of the configured account.
func (a *Application) handleSession(w http.ResponseWriter, r *http.Request) {
	status := sessionStatus{SignedIn: true, Account: a.Config.TokenStore.Account}
	if user, ok := userFromContext(r); ok {
		status.UserID = user.ID
		status.Email = user.Email
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		a.Logger.Printf("handlers: failed to write session status: %v", err)
	}
}
