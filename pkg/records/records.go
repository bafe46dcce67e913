// Package records holds the entity types of the records API and the remote
// call adapters that read and update them.
package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind names a type of record.
type Kind string

const (
	KindProject      Kind = "project"
	KindPerson       Kind = "person"
	KindOrganisation Kind = "organisation"
)

// Kinds lists every supported record kind.
var Kinds = []Kind{KindProject, KindPerson, KindOrganisation}

// ErrUnknownKind is returned when a kind string names no record type.
var ErrUnknownKind = errors.New("unknown record kind")

// ParseKind resolves a kind from user input. Plural forms are accepted.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Collection is the plural path segment and collection name for the kind.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// EntityID identifies one record. It is the key of every entity cache.
type EntityID struct {
	Kind Kind
	ID   string
}

func (e EntityID) String() string {
	return string(e.Kind) + "/" + e.ID
}

// ParseEntityID parses the "kind/id" form produced by String.
func ParseEntityID(s string) (EntityID, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return EntityID{}, fmt.Errorf("invalid entity id %q, expected kind/id", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return EntityID{}, err
	}
	return EntityID{Kind: k, ID: id}, nil
}

// Project is a piece of work owned by an organisation.
type Project struct {
	ID             string    `json:"id" firestore:"id"`
	Title          string    `json:"title" firestore:"title"`
	Description    string    `json:"description,omitempty" firestore:"description"`
	Status         string    `json:"status,omitempty" firestore:"status"`
	OrganisationID string    `json:"organisation_id,omitempty" firestore:"organisation_id"`
	Members        []string  `json:"members,omitempty" firestore:"members"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"updated_at"`
}

// Person is an individual, optionally attached to an organisation.
type Person struct {
	ID             string    `json:"id" firestore:"id"`
	Name           string    `json:"name" firestore:"name"`
	Email          string    `json:"email,omitempty" firestore:"email"`
	Role           string    `json:"role,omitempty" firestore:"role"`
	OrganisationID string    `json:"organisation_id,omitempty" firestore:"organisation_id"`
	UpdatedAt      time.Time `json:"updated_at" firestore:"updated_at"`
}

// Organisation groups people and projects.
type Organisation struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	Website   string    `json:"website,omitempty" firestore:"website"`
	Country   string    `json:"country,omitempty" firestore:"country"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

// Patch is a partial update keyed by the field names used on the wire. Values
// are sent as given; the API owns validation.
type Patch map[string]any

// Client reads and updates records. Every method performs exactly one remote
// call and returns the API's failure untranslated.
type Client interface {
	GetProject(ctx context.Context, id string) (Project, error)
	GetPerson(ctx context.Context, id string) (Person, error)
	GetOrganisation(ctx context.Context, id string) (Organisation, error)

	UpdateProject(ctx context.Context, id string, patch Patch) (Project, error)
	UpdatePerson(ctx context.Context, id string, patch Patch) (Person, error)
	UpdateOrganisation(ctx context.Context, id string, patch Patch) (Organisation, error)

	io.Closer
}
