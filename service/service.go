// Package service manages named store connections: one shared driver per
// connection name, Contexts created over it and index synchronization.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/uon-team/db/config"
	"github.com/uon-team/db/core"
	mongodriver "github.com/uon-team/db/driver/mongo"
)

// Dialer opens the driver of a connection.
type Dialer func(ctx context.Context, conn config.Connection, logger zerolog.Logger) (core.Driver, error)

// MongoDialer dials a MongoDB connection.
func MongoDialer(ctx context.Context, conn config.Connection, logger zerolog.Logger) (core.Driver, error) {
	return mongodriver.NewMongoDriver(ctx, conn.URL, conn.Database,
		mongodriver.WithConnectTimeout(conn.ConnectTimeout),
		mongodriver.WithLogger(logger),
	)
}

// Service owns the drivers of the configured connections.
type Service struct {
	cfg         *config.Config
	dial        Dialer
	logger      zerolog.Logger
	middlewares []core.Middleware

	mutex   sync.Mutex
	drivers map[string]core.Driver
}

// Option configures a Service.
type Option func(*Service)

// WithDialer replaces MongoDialer.
func WithDialer(dial Dialer) Option {
	return func(s *Service) { s.dial = dial }
}

// WithLogger sets the logger handed to drivers and Contexts.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMiddleware adds middlewares to every Context created by the Service.
func WithMiddleware(middlewares ...core.Middleware) Option {
	return func(s *Service) { s.middlewares = append(s.middlewares, middlewares...) }
}

// New creates a Service. Connections are dialed on first use.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		dial:    MongoDialer,
		logger:  zerolog.Nop(),
		drivers: make(map[string]core.Driver),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrUnknownConnection is returned for a connection name absent from the
// configuration.
var ErrUnknownConnection = errors.New("unknown connection")

// Driver returns the shared driver of the connection name, dialing it on
// first use.
func (s *Service) Driver(ctx context.Context, name string) (core.Driver, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if d, ok := s.drivers[name]; ok {
		return d, nil
	}
	conn, ok := s.cfg.Connection(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	logger := s.logger.With().Str("connection", name).Logger()
	d, err := s.dial(ctx, *conn, logger)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}
	s.drivers[name] = d
	return d, nil
}

// Context creates a Context over the shared driver of the connection name.
// Every Context gets its own hook registry unless one is given in opts.
func (s *Service) Context(ctx context.Context, name string, opts ...core.ContextOption) (*core.Context, error) {
	d, err := s.Driver(ctx, name)
	if err != nil {
		return nil, err
	}
	base := []core.ContextOption{core.WithLogger(s.logger.With().Str("connection", name).Logger())}
	if len(s.middlewares) > 0 {
		base = append(base, core.WithMiddleware(s.middlewares...))
	}
	return core.NewContext(d, append(base, opts...)...), nil
}

// SyncIndexes synchronizes the indexes of the connection name: those listed
// in its configuration and those declared by defs. Results are keyed by
// collection.
func (s *Service) SyncIndexes(ctx context.Context, name string, defs ...*core.Definition) (map[string][]core.IndexSyncResult, error) {
	conn, ok := s.cfg.Connection(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}
	d, err := s.Driver(ctx, name)
	if err != nil {
		return nil, err
	}

	wanted := map[core.Namespace][]core.IndexDefinition{}
	for _, c := range conn.Collections {
		ns := core.Namespace{Database: conn.Database, Collection: c.Name}
		wanted[ns] = append(wanted[ns], c.Indexes...)
	}
	for _, def := range defs {
		if !def.IsPersistable() {
			continue
		}
		ns := def.Namespace
		if ns.Database == "" {
			ns.Database = conn.Database
		}
		wanted[ns] = append(wanted[ns], def.Indexes...)
	}

	namespaces := make([]core.Namespace, 0, len(wanted))
	for ns := range wanted {
		namespaces = append(namespaces, ns)
	}
	sort.Slice(namespaces, func(i, j int) bool {
		if namespaces[i].Database != namespaces[j].Database {
			return namespaces[i].Database < namespaces[j].Database
		}
		return namespaces[i].Collection < namespaces[j].Collection
	})

	out := make(map[string][]core.IndexSyncResult, len(wanted))
	for _, ns := range namespaces {
		results, err := d.SyncIndexes(ctx, ns, wanted[ns])
		if err != nil {
			return out, fmt.Errorf("sync indexes of %s: %w", ns.Collection, err)
		}
		out[ns.Collection] = append(out[ns.Collection], results...)
		s.logger.Debug().Str("connection", name).Str("collection", ns.Collection).Int("indexes", len(results)).Msg("indexes synced")
	}
	return out, nil
}

// Close closes every dialed driver.
func (s *Service) Close(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var errs []error
	for name, d := range s.drivers {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.drivers, name)
	}
	return errors.Join(errs...)
}
