package auth

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreSessionStore keeps sessions in a Firestore collection. It suits
// smaller deployments where a dedicated Redis instance is not available.
type FirestoreSessionStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreSessionStore creates a new FirestoreSessionStore. The caller
// keeps ownership of client.
func NewFirestoreSessionStore(client *firestore.Client, collectionName string) (*FirestoreSessionStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collectionName == "" {
		collectionName = "sessions"
	}
	return &FirestoreSessionStore{
		client:     client,
		collection: collectionName,
	}, nil
}

// Set creates or overwrites the session document.
func (c *FirestoreSessionStore) Set(ctx context.Context, key string, s Session) error {
	_, err := c.client.Collection(c.collection).Doc(key).Set(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to set session in firestore for key %s: %w", key, err)
	}
	return nil
}

// Fetch retrieves the session document.
func (c *FirestoreSessionStore) Fetch(ctx context.Context, key string) (Session, error) {
	docSnap, err := c.client.Collection(c.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Session{}, fmt.Errorf("key '%s': %w", key, ErrNoSession)
		}
		return Session{}, fmt.Errorf("firestore get failed for key %s: %w", key, err)
	}
	var s Session
	if err := docSnap.DataTo(&s); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session for key %s: %w", key, err)
	}
	return s, nil
}

// Delete removes the session document.
func (c *FirestoreSessionStore) Delete(ctx context.Context, key string) error {
	_, err := c.client.Collection(c.collection).Doc(key).Delete(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete failed for key %s: %w", key, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (c *FirestoreSessionStore) Close() error {
	return nil
}
