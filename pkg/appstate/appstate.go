// Package appstate holds the state shared by every view of a session: the
// entity caches, the request deduplicator, the records client, the session
// and the change notifier. One AppState is created at start, passed by
// reference to whatever needs it, cleared at logout and closed at exit.
package appstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/fetch"
	"github.com/illmade-knight/go-recordview/pkg/microservice"
	"github.com/illmade-knight/go-recordview/pkg/notify"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/rs/zerolog"
)

// Edit is the input of an edit mutation: the record to change and the fields
// to set on it.
type Edit struct {
	ID    string
	Patch records.Patch
}

// Deps are the collaborators of an AppState. Nil caches default to in-memory
// caches and a nil Notifier logs notices.
type Deps struct {
	Client        records.Client
	Sessions      *auth.Provider
	Notifier      *notify.Notifier
	Projects      cache.EntityCache[records.EntityID, records.Project]
	People        cache.EntityCache[records.EntityID, records.Person]
	Organisations cache.EntityCache[records.EntityID, records.Organisation]
	// FetchTimeout bounds every fetch cycle of the queries built here. Zero
	// leaves them unbounded.
	FetchTimeout time.Duration
	Logger       zerolog.Logger
}

// AppState is the ambient context object of a running client.
type AppState struct {
	client   records.Client
	sessions *auth.Provider
	notifier *notify.Notifier
	dedup    *fetch.Deduplicator

	projects      *entity[records.Project]
	people        *entity[records.Person]
	organisations *entity[records.Organisation]

	fetchTimeout time.Duration
	logger       zerolog.Logger
}

// New creates an AppState from deps. The session provider is expected to be
// started by the caller.
func New(deps Deps) (*AppState, error) {
	if deps.Client == nil {
		return nil, errors.New("records client cannot be nil")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session provider cannot be nil")
	}
	logger := deps.Logger.With().Str("component", "AppState").Logger()

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewNotifier(notify.NewLogPublisher(deps.Logger), deps.Logger)
	}
	if deps.Projects == nil {
		deps.Projects = cache.NewInMemoryEntityCache[records.EntityID, records.Project]()
	}
	if deps.People == nil {
		deps.People = cache.NewInMemoryEntityCache[records.EntityID, records.Person]()
	}
	if deps.Organisations == nil {
		deps.Organisations = cache.NewInMemoryEntityCache[records.EntityID, records.Organisation]()
	}

	a := &AppState{
		client:       deps.Client,
		sessions:     deps.Sessions,
		notifier:     notifier,
		dedup:        fetch.NewDeduplicator(deps.Logger),
		fetchTimeout: deps.FetchTimeout,
		logger:       logger,
	}

	var err error
	if a.projects, err = newEntity(a, records.KindProject, deps.Projects, deps.Client.GetProject, deps.Client.UpdateProject); err != nil {
		return nil, err
	}
	if a.people, err = newEntity(a, records.KindPerson, deps.People, deps.Client.GetPerson, deps.Client.UpdatePerson); err != nil {
		return nil, err
	}
	if a.organisations, err = newEntity(a, records.KindOrganisation, deps.Organisations, deps.Client.GetOrganisation, deps.Client.UpdateOrganisation); err != nil {
		return nil, err
	}

	logger.Info().Dur("fetch_timeout", deps.FetchTimeout).Msg("Application state created.")
	return a, nil
}

// Sessions returns the session provider.
func (a *AppState) Sessions() *auth.Provider {
	return a.sessions
}

// ProjectQuery builds a query reading projects through the shared cache.
func (a *AppState) ProjectQuery(opts ...query.Option) *query.Query[string, records.Project] {
	return a.projects.newQuery(opts)
}

// PersonQuery builds a query reading people through the shared cache.
func (a *AppState) PersonQuery(opts ...query.Option) *query.Query[string, records.Person] {
	return a.people.newQuery(opts)
}

// OrganisationQuery builds a query reading organisations through the shared cache.
func (a *AppState) OrganisationQuery(opts ...query.Option) *query.Query[string, records.Organisation] {
	return a.organisations.newQuery(opts)
}

// ProjectView builds a retrying presenter for projects. A retry drops the
// cached project before fetching again.
func (a *AppState) ProjectView(opts ...query.Option) *query.Retrying[string, records.Project] {
	return a.projects.newRetrying(opts)
}

// PersonView builds a retrying presenter for people.
func (a *AppState) PersonView(opts ...query.Option) *query.Retrying[string, records.Person] {
	return a.people.newRetrying(opts)
}

// OrganisationView builds a retrying presenter for organisations.
func (a *AppState) OrganisationView(opts ...query.Option) *query.Retrying[string, records.Organisation] {
	return a.organisations.newRetrying(opts)
}

// EditProject builds a mutation updating projects. A call fails with a
// permission failure unless the session may edit. On success the cached
// project is dropped and a change notice is published; open queries are not
// refetched automatically.
func (a *AppState) EditProject(opts ...query.MutationOption[records.Project]) *query.Mutation[Edit, records.Project] {
	return a.projects.newMutation(opts)
}

// EditPerson builds a mutation updating people.
func (a *AppState) EditPerson(opts ...query.MutationOption[records.Person]) *query.Mutation[Edit, records.Person] {
	return a.people.newMutation(opts)
}

// EditOrganisation builds a mutation updating organisations.
func (a *AppState) EditOrganisation(opts ...query.MutationOption[records.Organisation]) *query.Mutation[Edit, records.Organisation] {
	return a.organisations.newMutation(opts)
}

// Invalidate drops the cached copy of id.
func (a *AppState) Invalidate(ctx context.Context, id records.EntityID) error {
	switch id.Kind {
	case records.KindProject:
		return a.projects.loader.Invalidate(ctx, id)
	case records.KindPerson:
		return a.people.loader.Invalidate(ctx, id)
	case records.KindOrganisation:
		return a.organisations.loader.Invalidate(ctx, id)
	default:
		return fmt.Errorf("%w: %q", records.ErrUnknownKind, id.Kind)
	}
}

// ApplyNotice drops the cached copy of the record a change notice names. Open
// queries keep their data until they are refetched.
func (a *AppState) ApplyNotice(ctx context.Context, n notify.Notice) error {
	id := records.EntityID{Kind: n.Kind, ID: n.ID}
	if err := a.Invalidate(ctx, id); err != nil {
		return err
	}
	a.logger.Debug().Str("entity", id.String()).Str("session_user", n.SessionUser).Msg("Cached record dropped after change notice.")
	return nil
}

// LookupEntry reports the cached entry for kind and id without fetching.
func (a *AppState) LookupEntry(ctx context.Context, kind, id string) (microservice.CachedEntry, bool, error) {
	k, err := records.ParseKind(kind)
	if err != nil {
		return microservice.CachedEntry{}, false, err
	}
	key := records.EntityID{Kind: k, ID: id}
	switch k {
	case records.KindProject:
		return a.projects.lookup(ctx, key)
	case records.KindPerson:
		return a.people.lookup(ctx, key)
	default:
		return a.organisations.lookup(ctx, key)
	}
}

// Logout removes the session and clears every entity cache.
func (a *AppState) Logout(ctx context.Context) error {
	errs := []error{a.sessions.Logout(ctx)}
	errs = append(errs, a.clearCaches(ctx)...)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.logger.Info().Msg("Logged out, entity caches cleared.")
	return nil
}

func (a *AppState) clearCaches(ctx context.Context) []error {
	return []error{
		a.projects.loader.Clear(ctx),
		a.people.loader.Clear(ctx),
		a.organisations.loader.Clear(ctx),
	}
}

// Close flushes pending notices and releases every client. It does not
// clear the caches.
func (a *AppState) Close(ctx context.Context) error {
	errs := []error{
		a.notifier.Stop(ctx),
		a.projects.loader.Close(),
		a.people.loader.Close(),
		a.organisations.loader.Close(),
		a.client.Close(),
		a.sessions.Close(),
	}
	return errors.Join(errs...)
}
