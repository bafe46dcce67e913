package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-recordview/pkg/appstate"
	"github.com/illmade-knight/go-recordview/pkg/auth"
	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/config"
	"github.com/illmade-knight/go-recordview/pkg/notify"
	"github.com/illmade-knight/go-recordview/pkg/records"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// runtime owns everything a command opened. Google clients are shared between
// the components that need them and closed last.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	app      *appstate.AppState
	sessions *auth.Provider
	fs       *firestore.Client
	ps       *pubsub.Client
}

func (c *cli) newRuntime() *runtime {
	return &runtime{cfg: c.cfg, logger: c.logger}
}

func (rt *runtime) clientOptions() []option.ClientOption {
	if rt.cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(rt.cfg.CredentialsFile)}
}

func (rt *runtime) firestoreClient(ctx context.Context) (*firestore.Client, error) {
	if rt.fs != nil {
		return rt.fs, nil
	}
	client, err := firestore.NewClient(ctx, rt.cfg.Firestore.ProjectID, rt.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	rt.fs = client
	return client, nil
}

// openSessions opens the configured session store and starts a provider
// over it.
func (rt *runtime) openSessions(ctx context.Context) (*auth.Provider, error) {
	cfg := rt.cfg.Session
	var store auth.SessionStore
	switch cfg.Backend {
	case config.BackendMemory:
		store = auth.NewInMemorySessionStore()
	case config.BackendRedis:
		s, err := auth.NewRedisSessionStore(ctx, &cfg.Redis, rt.logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendFirestore:
		client, err := rt.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		s, err := auth.NewFirestoreSessionStore(client, cfg.Collection)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
				return nil, fmt.Errorf("failed to create session directory: %w", err)
			}
		}
		s, err := auth.OpenSQLiteSessionStore(ctx, cfg.Path, rt.logger)
		if err != nil {
			return nil, err
		}
		store = s
	}

	provider := auth.NewProvider(store, rt.logger, auth.WithSessionKey(cfg.Key))
	provider.Start(ctx)
	rt.sessions = provider
	return provider, nil
}

func (rt *runtime) openClient(ctx context.Context) (records.Client, error) {
	switch rt.cfg.Source {
	case config.SourceFirestore:
		client, err := rt.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		return records.NewFirestoreClient(&rt.cfg.Firestore, client, rt.logger)
	default:
		return records.NewHTTPClient(&rt.cfg.HTTP, nil, rt.sessions.Token, rt.logger)
	}
}

func (rt *runtime) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	if rt.ps != nil {
		return rt.ps, nil
	}
	client, err := pubsub.NewClient(ctx, rt.cfg.ProjectID, rt.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	rt.ps = client
	return client, nil
}

func (rt *runtime) openNotifier(ctx context.Context) (*notify.Notifier, error) {
	notices := rt.cfg.Notices
	if notices.TopicID == "" {
		return notify.NewNotifier(notify.NewLogPublisher(rt.logger), rt.logger), nil
	}

	client, err := rt.pubsubClient(ctx)
	if err != nil {
		return nil, err
	}

	pubCfg := notify.NewGooglePublisherDefaults(notices.TopicID)
	if notices.ConfirmTimeout > 0 {
		pubCfg.ConfirmTimeout = notices.ConfirmTimeout
	}
	publisher, err := notify.NewGooglePublisher(ctx, pubCfg, client, rt.logger)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(publisher, rt.logger), nil
}

// entityCache builds the configured cache for one record kind. Redis caches
// get a key prefix per kind so that Clear only touches that kind.
func entityCache[V any](ctx context.Context, cfg config.CacheConfig, kind records.Kind, logger zerolog.Logger) (cache.EntityCache[records.EntityID, V], error) {
	switch cfg.Backend {
	case config.BackendLRU:
		c, err := cache.NewLRUEntityCache[records.EntityID, V](cfg.MaxEntries, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendRedis:
		redisCfg := cfg.Redis
		redisCfg.KeyPrefix += kind.Collection() + ":"
		c, err := cache.NewRedisEntityCache[records.EntityID, V](ctx, &redisCfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return cache.NewInMemoryEntityCache[records.EntityID, V](), nil
	}
}

// openApp wires the whole application state. On error everything opened so
// far is released.
func (rt *runtime) openApp(ctx context.Context) (app *appstate.AppState, err error) {
	var pending []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(pending) - 1; i >= 0; i-- {
			_ = pending[i]()
		}
		rt.sessions = nil
		_ = rt.closeClients()
	}()

	sessions, err := rt.openSessions(ctx)
	if err != nil {
		return nil, err
	}
	pending = append(pending, sessions.Close)

	client, err := rt.openClient(ctx)
	if err != nil {
		return nil, err
	}
	pending = append(pending, client.Close)

	deps := appstate.Deps{
		Client:       client,
		Sessions:     sessions,
		FetchTimeout: rt.cfg.FetchTimeout,
		Logger:       rt.logger,
	}
	if deps.Projects, err = entityCache[records.Project](ctx, rt.cfg.Cache, records.KindProject, rt.logger); err != nil {
		return nil, err
	}
	pending = append(pending, deps.Projects.Close)
	if deps.People, err = entityCache[records.Person](ctx, rt.cfg.Cache, records.KindPerson, rt.logger); err != nil {
		return nil, err
	}
	pending = append(pending, deps.People.Close)
	if deps.Organisations, err = entityCache[records.Organisation](ctx, rt.cfg.Cache, records.KindOrganisation, rt.logger); err != nil {
		return nil, err
	}
	pending = append(pending, deps.Organisations.Close)

	if deps.Notifier, err = rt.openNotifier(ctx); err != nil {
		return nil, err
	}
	pending = append(pending, func() error { return deps.Notifier.Stop(context.Background()) })

	app, err = appstate.New(deps)
	if err != nil {
		return nil, err
	}
	rt.app = app
	return app, nil
}

// openSubscriber starts applying change notices from the configured
// subscription to the application state. It returns nil when no subscription
// is configured.
func (rt *runtime) openSubscriber(ctx context.Context) (*notify.GoogleSubscriber, error) {
	subID := rt.cfg.Notices.SubscriptionID
	if subID == "" || rt.app == nil {
		return nil, nil
	}
	client, err := rt.pubsubClient(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := notify.NewGoogleSubscriber(ctx, notify.NewGoogleSubscriberDefaults(subID), client, rt.app.ApplyNotice, rt.logger)
	if err != nil {
		return nil, err
	}
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

func (rt *runtime) closeClients() error {
	var errs []error
	if rt.ps != nil {
		errs = append(errs, rt.ps.Close())
		rt.ps = nil
	}
	if rt.fs != nil {
		errs = append(errs, rt.fs.Close())
		rt.fs = nil
	}
	return errors.Join(errs...)
}

// Close releases the application state, or only the session provider when
// no application state was opened.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	switch {
	case rt.app != nil:
		errs = append(errs, rt.app.Close(ctx))
	case rt.sessions != nil:
		errs = append(errs, rt.sessions.Close())
	}
	errs = append(errs, rt.closeClients())
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn().Err(err).Msg("Error while closing.")
		return err
	}
	return nil
}
