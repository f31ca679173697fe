// Package session carries the logged-in user through the subsystem.
//
// Components receive a *Session at construction instead of consulting any
// ambient current-user state: login creates it, logout (or connection
// teardown) discards it, and a process holds at most one per connection.
package session

import "teamdesk/pkg/models"

// Session identifies the acting user for one live connection.
type Session struct {
	// Key is the participant key used in conversation addressing.
	Key string
	// UID is the account id used in notification read-tracking. For
	// roster-only identities it equals Key.
	UID    string
	Name   string
	Avatar string
}

// New builds a session from a resolved identity. An empty uid falls back
// to the participant key.
func New(ident models.Identity, uid string) *Session {
	if uid == "" {
		uid = ident.Key
	}
	return &Session{Key: ident.Key, UID: uid, Name: ident.Name, Avatar: ident.Avatar}
}

// Identity returns the session's display identity snapshot.
func (s *Session) Identity() models.Identity {
	return models.Identity{Key: s.Key, Name: s.Name, Avatar: s.Avatar}
}
