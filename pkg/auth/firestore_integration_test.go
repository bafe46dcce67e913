//go:build integration

package auth_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreSessionStore_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := auth.NewFirestoreSessionStore(client, "it-sessions")
	require.NoError(t, err)

	s := auth.Session{Token: "t1", UserID: "u1", Roles: []string{auth.RoleEditor}, ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)}

	// Act 1: Set a value
	require.NoError(t, store.Set(ctx, "default", s))

	// Assert 1: Verify directly in Firestore that the document exists
	doc, err := client.Collection("it-sessions").Doc("default").Get(ctx)
	require.NoError(t, err)
	require.True(t, doc.Exists())

	// Act 2: Fetch the value back
	got, err := store.Fetch(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, s.Token, got.Token)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

	// Act 3: Delete twice, the second being a no-op
	require.NoError(t, store.Delete(ctx, "default"))
	require.NoError(t, store.Delete(ctx, "default"))
	_, err = store.Fetch(ctx, "default")
	assert.ErrorIs(t, err, auth.ErrNoSession)
}
