// Package auth provides the read side of the user session: where a session is
// stored and how the rest of the application observes it. Nothing here
// authenticates; sessions are issued elsewhere and only stored and read.
package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
)

const (
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// DefaultSessionKey names the session slot used when none is configured.
const DefaultSessionKey = "default"

var (
	// ErrNoSession is returned by a store holding no session for a key.
	ErrNoSession = errors.New("no session")
	// ErrNotSignedIn is the cause of a failed gate when no session is active.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrNotEditor is the cause of a failed gate when the session may not edit.
	ErrNotEditor = errors.New("session may not edit records")
)

// Session is the authenticated user as issued by the identity provider.
type Session struct {
	Token     string    `json:"token" firestore:"token"`
	UserID    string    `json:"user_id" firestore:"user_id"`
	Roles     []string  `json:"roles,omitempty" firestore:"roles"`
	ExpiresAt time.Time `json:"expires_at,omitempty" firestore:"expires_at"`
}

// Expired reports whether the session is past its expiry. A zero ExpiresAt
// never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasRole reports whether the session carries role.
func (s Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// CanEdit reports whether the session is privileged to change records.
func (s Session) CanEdit() bool {
	return s.HasRole(RoleEditor) || s.HasRole(RoleAdmin)
}

// SessionStore keeps sessions under a key. Unlike the entity caches there is no
// source of truth behind it, so every write is an explicit Set or Delete.
type SessionStore interface {
	// Set stores the session for key, replacing any previous one.
	Set(ctx context.Context, key string, s Session) error
	// Fetch returns the session for key, or an error wrapping ErrNoSession.
	Fetch(ctx context.Context, key string) (Session, error)
	// Delete removes the session for key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	io.Closer
}

// gateFailure builds the failure returned when a mutation is not permitted.
func gateFailure(code int, cause error) *failure.Failure {
	f := failure.New(code, http.StatusText(code))
	f.Cause = cause
	return f
}
