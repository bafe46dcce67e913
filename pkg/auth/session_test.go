package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expiry", func(t *testing.T) {
		assert.False(t, auth.Session{}.Expired(now), "zero expiry never expires")
		assert.True(t, auth.Session{ExpiresAt: now}.Expired(now))
		assert.False(t, auth.Session{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	})

	t.Run("edit rights", func(t *testing.T) {
		assert.True(t, auth.Session{Roles: []string{auth.RoleEditor}}.CanEdit())
		assert.True(t, auth.Session{Roles: []string{"viewer", auth.RoleAdmin}}.CanEdit())
		assert.False(t, auth.Session{Roles: []string{"viewer"}}.CanEdit())
	})
}

func TestInMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := auth.NewInMemorySessionStore()
	t.Cleanup(func() { _ = store.Close() })

	_, err := store.Fetch(ctx, "default")
	require.ErrorIs(t, err, auth.ErrNoSession)

	s := auth.Session{Token: "t1", UserID: "u1"}
	require.NoError(t, store.Set(ctx, "default", s))
	got, err := store.Fetch(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	require.NoError(t, store.Delete(ctx, "default"))
	require.NoError(t, store.Delete(ctx, "default"), "deleting a missing key is not an error")
	_, err = store.Fetch(ctx, "default")
	assert.ErrorIs(t, err, auth.ErrNoSession)
}
