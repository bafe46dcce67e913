package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/rs/zerolog"
)

// State is the ambient session value read by the rest of the application.
// Session is nil when nobody is signed in, which is not an error.
type State struct {
	Session *Session
	Loading bool
	Error   *failure.Failure
}

// Provider loads the session for one key from a store and exposes it as a
// State. It is started once and read from anywhere.
type Provider struct {
	store  SessionStore
	key    string
	now    func() time.Time
	q      *query.Query[string, Session]
	logger zerolog.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithSessionKey selects the session slot to read. It defaults to DefaultSessionKey.
func WithSessionKey(key string) ProviderOption {
	return func(p *Provider) {
		p.key = key
	}
}

// WithProviderClock overrides the clock used to check expiry.
func WithProviderClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.now = now
	}
}

// NewProvider creates a stopped Provider reading from store.
func NewProvider(store SessionStore, logger zerolog.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		store:  store,
		key:    DefaultSessionKey,
		now:    time.Now,
		logger: logger.With().Str("component", "SessionProvider").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.q = query.NewQuery[string, Session](p.load, query.WithName("session"), query.WithLogger(logger))
	return p
}

// load reads the session. A missing or expired session settles as the zero
// Session, which State reports as signed out.
func (p *Provider) load(ctx context.Context, key string) (Session, error) {
	s, err := p.store.Fetch(ctx, key)
	if errors.Is(err, ErrNoSession) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if s.Expired(p.now()) {
		p.logger.Info().Str("user_id", s.UserID).Time("expired_at", s.ExpiresAt).Msg("Stored session has expired.")
		return Session{}, nil
	}
	return s, nil
}

// Start begins loading the session.
func (p *Provider) Start(ctx context.Context) {
	p.q.Mount(ctx, p.key)
}

// Stop deactivates the provider.
func (p *Provider) Stop() {
	p.q.Unmount()
}

// Close stops the provider and closes its store once no load is still using it.
func (p *Provider) Close() error {
	p.Stop()
	p.q.Wait()
	return p.store.Close()
}

// State returns the current session state.
func (p *Provider) State() State {
	return toState(p.q.State())
}

// Subscribe registers fn for every session state change.
func (p *Provider) Subscribe(fn func(State)) func() {
	return p.q.Subscribe(func(s query.State[Session]) { fn(toState(s)) })
}

// Await blocks until the session has loaded.
func (p *Provider) Await(ctx context.Context) (State, error) {
	s, err := p.q.Await(ctx)
	return toState(s), err
}

func toState(s query.State[Session]) State {
	st := State{Loading: s.IsLoading, Error: s.Err}
	if s.HasData && s.Data.Token != "" {
		session := s.Data
		st.Session = &session
	}
	return st
}

// Token returns the bearer token of the signed in session, or "" when signed
// out. It waits for the first load to finish.
func (p *Provider) Token(ctx context.Context) (string, error) {
	st, err := p.Await(ctx)
	if err != nil {
		return "", err
	}
	if st.Error != nil {
		return "", st.Error
	}
	if st.Session == nil {
		return "", nil
	}
	return st.Session.Token, nil
}

// RequireEditor returns the current session when it may edit records. Any
// other case yields a Failure whose cause is ErrNotSignedIn or ErrNotEditor.
func (p *Provider) RequireEditor(ctx context.Context) (Session, error) {
	st, err := p.Await(ctx)
	if err != nil {
		return Session{}, err
	}
	if st.Error != nil {
		return Session{}, st.Error
	}
	if st.Session == nil {
		return Session{}, gateFailure(http.StatusUnauthorized, ErrNotSignedIn)
	}
	if st.Session.Expired(p.now()) {
		return Session{}, gateFailure(http.StatusUnauthorized, ErrNotSignedIn)
	}
	if !st.Session.CanEdit() {
		return Session{}, gateFailure(http.StatusForbidden, ErrNotEditor)
	}
	return *st.Session, nil
}

// Login stores s and reloads the provider's state from the store.
func (p *Provider) Login(ctx context.Context, s Session) error {
	if s.Token == "" {
		return errors.New("session token is required")
	}
	if err := p.store.Set(ctx, p.key, s); err != nil {
		return err
	}
	p.logger.Info().Str("user_id", s.UserID).Msg("Session stored.")
	p.q.Refetch()
	return nil
}

// Logout deletes the stored session and reloads the provider's state.
func (p *Provider) Logout(ctx context.Context) error {
	if err := p.store.Delete(ctx, p.key); err != nil {
		return err
	}
	p.logger.Info().Msg("Session removed.")
	p.q.Refetch()
	return nil
}
