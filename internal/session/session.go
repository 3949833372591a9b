// Package session holds the signed-in user scope. Signing in happens elsewhere;
// this only carries the resulting user id.
package session

import (
	"strings"
	"sync"
)

// Static is a session with a user id fixed at startup until SignOut
type Static struct {
	mu     sync.RWMutex
	userID string
}

// NewStatic creates a session for userID. An empty id starts signed out.
func NewStatic(userID string) *Static {
	return &Static{userID: strings.TrimSpace(userID)}
}

// CurrentUser returns the user id and whether someone is signed in
func (s *Static) CurrentUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// SignIn switches the scope to userID
func (s *Static) SignIn(userID string) {
	s.mu.Lock()
	s.userID = strings.TrimSpace(userID)
	s.mu.Unlock()
}

// SignOut clears the user scope
func (s *Static) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
}
