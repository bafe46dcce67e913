package records

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore adapter.
type FirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
	// CollectionPrefix is prepended to the collection of every kind, letting
	// several environments share one database.
	CollectionPrefix string `yaml:"collection_prefix"`
}

// FirestoreClient is a Client reading records straight from Firestore, one
// collection per kind. It suits low volume deployments that have no REST API
// in front of the database.
type FirestoreClient struct {
	client     *firestore.Client
	prefix     string
	ownsClient bool
	logger     zerolog.Logger
}

// NewFirestoreClient wraps an existing Firestore client. The caller keeps
// ownership of client.
func NewFirestoreClient(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreClient, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection_prefix", cfg.CollectionPrefix).Msg("Records Firestore client initialized.")
	return &FirestoreClient{
		client: client,
		prefix: cfg.CollectionPrefix,
		logger: logger.With().Str("component", "FirestoreClient").Logger(),
	}, nil
}

// DialFirestore creates a Firestore client for cfg.ProjectID and wraps it. The
// returned FirestoreClient closes the underlying client on Close.
func DialFirestore(ctx context.Context, cfg *FirestoreConfig, logger zerolog.Logger, opts ...option.ClientOption) (*FirestoreClient, error) {
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	c, err := NewFirestoreClient(cfg, client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.ownsClient = true
	return c, nil
}

func (c *FirestoreClient) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	if err := c.get(ctx, EntityID{Kind: KindProject, ID: id}, &p); err != nil {
		return Project{}, err
	}
	p.ID = id
	return p, nil
}

func (c *FirestoreClient) GetPerson(ctx context.Context, id string) (Person, error) {
	var p Person
	if err := c.get(ctx, EntityID{Kind: KindPerson, ID: id}, &p); err != nil {
		return Person{}, err
	}
	p.ID = id
	return p, nil
}

func (c *FirestoreClient) GetOrganisation(ctx context.Context, id string) (Organisation, error) {
	var o Organisation
	if err := c.get(ctx, EntityID{Kind: KindOrganisation, ID: id}, &o); err != nil {
		return Organisation{}, err
	}
	o.ID = id
	return o, nil
}

func (c *FirestoreClient) UpdateProject(ctx context.Context, id string, patch Patch) (Project, error) {
	if err := c.update(ctx, EntityID{Kind: KindProject, ID: id}, patch); err != nil {
		return Project{}, err
	}
	return c.GetProject(ctx, id)
}

func (c *FirestoreClient) UpdatePerson(ctx context.Context, id string, patch Patch) (Person, error) {
	if err := c.update(ctx, EntityID{Kind: KindPerson, ID: id}, patch); err != nil {
		return Person{}, err
	}
	return c.GetPerson(ctx, id)
}

func (c *FirestoreClient) UpdateOrganisation(ctx context.Context, id string, patch Patch) (Organisation, error) {
	if err := c.update(ctx, EntityID{Kind: KindOrganisation, ID: id}, patch); err != nil {
		return Organisation{}, err
	}
	return c.GetOrganisation(ctx, id)
}

// Close closes the Firestore client when this adapter created it.
func (c *FirestoreClient) Close() error {
	if !c.ownsClient {
		c.logger.Info().Msg("FirestoreClient does not close the injected Firestore client.")
		return nil
	}
	return c.client.Close()
}

func (c *FirestoreClient) doc(id EntityID) *firestore.DocumentRef {
	return c.client.Collection(c.prefix + id.Kind.Collection()).Doc(id.ID)
}

func (c *FirestoreClient) get(ctx context.Context, id EntityID, dst any) error {
	docSnap, err := c.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			c.logger.Warn().Str("entity", id.String()).Msg("Document not found in Firestore.")
			return fmt.Errorf("document not found: %w", err)
		}
		c.logger.Error().Err(err).Str("entity", id.String()).Msg("Failed to get document from Firestore.")
		return fmt.Errorf("firestore get for %s: %w", id, err)
	}
	if err := docSnap.DataTo(dst); err != nil {
		c.logger.Error().Err(err).Str("entity", id.String()).Msg("Failed to map Firestore document data.")
		return fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}
	c.logger.Debug().Str("entity", id.String()).Msg("Successfully fetched document from Firestore.")
	return nil
}

// update applies patch to an existing document. A missing document fails with
// NotFound rather than being created.
func (c *FirestoreClient) update(ctx context.Context, id EntityID, patch Patch) error {
	updates := make([]firestore.Update, 0, len(patch)+1)
	for field, value := range patch {
		if field == "id" || field == "updated_at" {
			continue
		}
		updates = append(updates, firestore.Update{Path: field, Value: value})
	}
	updates = append(updates, firestore.Update{Path: "updated_at", Value: firestore.ServerTimestamp})

	if _, err := c.doc(id).Update(ctx, updates); err != nil {
		c.logger.Error().Err(err).Str("entity", id.String()).Msg("Failed to update document in Firestore.")
		return fmt.Errorf("firestore update for %s: %w", id, err)
	}
	c.logger.Debug().Str("entity", id.String()).Int("fields", len(updates)).Msg("Successfully updated document in Firestore.")
	return nil
}
