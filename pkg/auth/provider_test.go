package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore is a SessionStore with overridable behaviour.
type mockStore struct {
	*auth.InMemorySessionStore
	fetchErr error
}

func (m *mockStore) Fetch(ctx context.Context, key string) (auth.Session, error) {
	if m.fetchErr != nil {
		return auth.Session{}, m.fetchErr
	}
	return m.InMemorySessionStore.Fetch(ctx, key)
}

func startProvider(t *testing.T, store auth.SessionStore, opts ...auth.ProviderOption) *auth.Provider {
	t.Helper()
	p := auth.NewProvider(store, zerolog.Nop(), opts...)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

func TestProvider_SignedOut(t *testing.T) {
	// Arrange
	p := startProvider(t, auth.NewInMemorySessionStore())

	// Act
	st, err := p.Await(context.Background())

	// Assert
	require.NoError(t, err)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.Error, "being signed out is not an error")

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestProvider_LoginAndLogout(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := auth.NewInMemorySessionStore()
	p := startProvider(t, store)
	_, err := p.Await(ctx)
	require.NoError(t, err)

	// Act
	require.NoError(t, p.Login(ctx, auth.Session{Token: "t1", UserID: "u1", Roles: []string{auth.RoleEditor}}))
	token, err := p.Token(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "t1", token)
	s, err := p.RequireEditor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)

	// Act
	require.NoError(t, p.Logout(ctx))

	// Assert
	token, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	_, err = store.Fetch(ctx, auth.DefaultSessionKey)
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestProvider_RequireEditor(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		stored *auth.Session
		code   int
		cause  error
	}{
		{"signed out", nil, http.StatusUnauthorized, auth.ErrNotSignedIn},
		{"expired", &auth.Session{Token: "t", Roles: []string{auth.RoleEditor}, ExpiresAt: now.Add(-time.Minute)}, http.StatusUnauthorized, auth.ErrNotSignedIn},
		{"viewer", &auth.Session{Token: "t", Roles: []string{"viewer"}}, http.StatusForbidden, auth.ErrNotEditor},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			store := auth.NewInMemorySessionStore()
			if tc.stored != nil {
				require.NoError(t, store.Set(ctx, "work", *tc.stored))
			}
			p := startProvider(t, store, auth.WithSessionKey("work"), auth.WithProviderClock(func() time.Time { return now }))

			// Act
			_, err := p.RequireEditor(ctx)

			// Assert
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.cause)
			f := failure.Normalize(err)
			assert.Equal(t, tc.code, f.Code)
			assert.Equal(t, "You do not have permission to do that.", f.UserMessage())
		})
	}
}

func TestProvider_StoreFailure(t *testing.T) {
	// Arrange
	store := &mockStore{InMemorySessionStore: auth.NewInMemorySessionStore(), fetchErr: errors.New("disk unavailable")}
	p := startProvider(t, store)

	// Act
	st, err := p.Await(context.Background())

	// Assert
	require.NoError(t, err)
	require.NotNil(t, st.Error)
	assert.Nil(t, st.Session)
	_, err = p.Token(context.Background())
	assert.Error(t, err)
}

func TestProvider_Subscribe(t *testing.T) {
	// Arrange
	store := auth.NewInMemorySessionStore()
	p := auth.NewProvider(store, zerolog.Nop())
	updates := make(chan auth.State, 8)
	unsubscribe := p.Subscribe(func(s auth.State) { updates <- s })
	t.Cleanup(unsubscribe)

	// Act
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	// Assert
	first := <-updates
	assert.True(t, first.Loading)
	require.Eventually(t, func() bool { return !p.State().Loading }, time.Second, 5*time.Millisecond)
}

// slowStore blocks Fetch until its context is cancelled and records whether
// Close arrived while a Fetch was still running.
type slowStore struct {
	*auth.InMemorySessionStore
	fetching      atomic.Bool
	closedInFetch atomic.Bool
}

func (s *slowStore) Fetch(ctx context.Context, _ string) (auth.Session, error) {
	s.fetching.Store(true)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	s.fetching.Store(false)
	return auth.Session{}, ctx.Err()
}

func (s *slowStore) Close() error {
	if s.fetching.Load() {
		s.closedInFetch.Store(true)
	}
	return nil
}

func TestProvider_CloseWaitsForLoad(t *testing.T) {
	// Arrange
	store := &slowStore{InMemorySessionStore: auth.NewInMemorySessionStore()}
	p := auth.NewProvider(store, zerolog.Nop())
	p.Start(context.Background())
	require.Eventually(t, store.fetching.Load, time.Second, 5*time.Millisecond)

	// Act
	err := p.Close()

	// Assert
	require.NoError(t, err)
	assert.False(t, store.closedInFetch.Load(), "the store must not be closed under a running load")
}
