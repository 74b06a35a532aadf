package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// householdStub is an in-memory household API.
type householdStub struct {
	mu           sync.Mutex
	current      string
	valid        map[string]bool
	refreshToken string
	tasks        []map[string]interface{}
	items        []map[string]interface{}
	lastHeaders  http.Header
	lastBody     map[string]interface{}
	refreshes    int
	nextID       int
}

func newHouseholdStub() *householdStub {
	return &householdStub{
		current:      "access-1",
		valid:        map[string]bool{"access-1": true},
		refreshToken: "refresh-1",
	}
}

// expire invalidates every access token issued so far. Tokens issued by
// later refreshes stay valid alongside each other.
func (s *householdStub) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = map[string]bool{}
}

func (s *householdStub) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *householdStub) LastBody() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody
}

func (s *householdStub) LastHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders
}

func (s *householdStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /auth/refresh", s.refresh)
	mux.Handle("GET /users/me", s.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1", "name": "Alex", "email": "alex@example.com", "partner_id": "u2"})
	}))
	mux.Handle("GET /tasks", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, s.tasks)
	}))
	mux.Handle("POST /tasks", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		task := s.lastBody
		s.nextID++
		task["id"] = fmt.Sprintf("t%d", s.nextID)
		task["completed"] = false
		s.tasks = append(s.tasks, task)
		writeJSON(w, http.StatusCreated, task)
	}))
	mux.Handle("PATCH /tasks/{id}", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.withTask(w, r.PathValue("id"), func(task map[string]interface{}) {
			for k, v := range s.lastBody {
				task[k] = v
			}
		})
	}))
	mux.Handle("POST /tasks/{id}/complete", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.withTask(w, r.PathValue("id"), func(task map[string]interface{}) {
			task["completed"] = true
		})
	}))
	mux.Handle("DELETE /tasks/{id}", s.authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("GET /shopping-items", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeJSON(w, http.StatusOK, s.items)
	}))
	mux.Handle("POST /shopping-items", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		item := s.lastBody
		s.nextID++
		item["id"] = fmt.Sprintf("i%d", s.nextID)
		item["checked"] = false
		s.items = append(s.items, item)
		writeJSON(w, http.StatusCreated, item)
	}))
	mux.Handle("PATCH /shopping-items/{id}", s.authed(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, item := range s.items {
			if item["id"] == r.PathValue("id") {
				item["checked"] = s.lastBody["checked"]
				writeJSON(w, http.StatusOK, item)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "no such item"})
	}))
	mux.Handle("DELETE /shopping-items/{id}", s.authed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	return mux
}

func (s *householdStub) withTask(w http.ResponseWriter, id string, fn func(map[string]interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task["id"] == id {
			fn(task)
			writeJSON(w, http.StatusOK, task)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "no such task"})
}

// authed records the request and rejects stale bearer tokens with an
// expiry signal.
func (s *householdStub) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		s.mu.Lock()
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		valid := s.valid[token]
		s.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "token.expired", "message": "access token expired"})
			return
		}
		next(w, r)
	})
}

func (s *householdStub) record(r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	if len(b) > 0 {
		json.Unmarshal(b, &body)
	}
	s.mu.Lock()
	s.lastHeaders = r.Header.Clone()
	s.lastBody = body
	s.mu.Unlock()
}

func (s *householdStub) login(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	body := s.LastBody()
	if body["email"] != "alex@example.com" || body["password"] != "hunter2" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "invalid_credentials", "message": "wrong email or password"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": s.current, "refresh_token": s.refreshToken})
}

func (s *householdStub) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if body.RefreshToken != s.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "refresh.revoked", "message": "refresh token revoked"})
		return
	}
	s.current = fmt.Sprintf("access-%d", s.refreshes+1)
	s.valid[s.current] = true
	writeJSON(w, http.StatusOK, map[string]string{"access_token": s.current})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
