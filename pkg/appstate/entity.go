package appstate

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/fetch"
	"github.com/illmade-knight/go-recordview/pkg/microservice"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/illmade-knight/go-recordview/pkg/records"
)

type updateFunc[V any] func(ctx context.Context, id string, patch records.Patch) (V, error)

// entity wires one record kind: its cached loader and its update call.
type entity[V any] struct {
	app    *AppState
	kind   records.Kind
	loader *fetch.CachedLoader[records.EntityID, V]
	update updateFunc[V]
}

func newEntity[V any](
	app *AppState,
	kind records.Kind,
	entityCache cache.EntityCache[records.EntityID, V],
	get func(ctx context.Context, id string) (V, error),
	update updateFunc[V],
) (*entity[V], error) {
	source := func(ctx context.Context, id records.EntityID) (V, error) {
		return get(ctx, id.ID)
	}
	loader, err := fetch.NewCachedLoader[records.EntityID, V](string(kind), entityCache, source, app.dedup, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s loader: %w", kind, err)
	}
	return &entity[V]{app: app, kind: kind, loader: loader, update: update}, nil
}

func (e *entity[V]) id(id string) records.EntityID {
	return records.EntityID{Kind: e.kind, ID: id}
}

func (e *entity[V]) load(ctx context.Context, id string) (V, error) {
	return e.loader.Fetch(ctx, e.id(id))
}

func (e *entity[V]) invalidate(ctx context.Context, id string) error {
	return e.loader.Invalidate(ctx, e.id(id))
}

func (e *entity[V]) queryOptions(opts []query.Option) []query.Option {
	base := []query.Option{query.WithName(string(e.kind)), query.WithLogger(e.app.logger)}
	if e.app.fetchTimeout > 0 {
		base = append(base, query.WithTimeout(e.app.fetchTimeout))
	}
	return append(base, opts...)
}

func (e *entity[V]) newQuery(opts []query.Option) *query.Query[string, V] {
	return query.NewQuery[string, V](e.load, e.queryOptions(opts)...)
}

func (e *entity[V]) newRetrying(opts []query.Option) *query.Retrying[string, V] {
	return query.NewRetrying[string, V](e.load, e.invalidate, e.queryOptions(opts)...)
}

func (e *entity[V]) newMutation(opts []query.MutationOption[V]) *query.Mutation[Edit, V] {
	base := []query.MutationOption[V]{
		query.WithMutationName[V]("edit_" + string(e.kind)),
		query.WithMutationLogger[V](e.app.logger),
	}
	return query.NewMutation[Edit, V](e.edit, append(base, opts...)...)
}

// edit requires an editing session, performs the update, then drops the
// cached copy and announces the change. Both happen even when the mutation
// hook was unmounted while the update ran.
func (e *entity[V]) edit(ctx context.Context, in Edit) (V, error) {
	var zero V
	session, err := e.app.sessions.RequireEditor(ctx)
	if err != nil {
		return zero, err
	}

	value, err := e.update(ctx, in.ID, in.Patch)
	if err != nil {
		return zero, err
	}

	id := e.id(in.ID)
	if err := e.loader.Invalidate(ctx, id); err != nil {
		e.app.logger.Warn().Err(err).Str("entity", id.String()).Msg("Failed to invalidate edited entity.")
	}
	if err := e.app.notifier.Changed(ctx, id, session.UserID); err != nil {
		e.app.logger.Warn().Err(err).Str("entity", id.String()).Msg("Edit applied but the change notice was not sent.")
	}
	e.app.logger.Info().Str("entity", id.String()).Str("user_id", session.UserID).Msg("Entity edited.")
	return value, nil
}

func (e *entity[V]) lookup(ctx context.Context, id records.EntityID) (microservice.CachedEntry, bool, error) {
	entry, ok, err := e.loader.Peek(ctx, id)
	if err != nil || !ok {
		return microservice.CachedEntry{}, ok, err
	}
	return microservice.CachedEntry{Key: id.String(), FetchedAt: entry.FetchedAt, Value: entry.Value}, true, nil
}
