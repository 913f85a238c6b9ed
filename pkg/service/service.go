// Package service exposes parameter resolution and override management over a
// repository, a merchant directory, a definition registry and a cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	params "github.com/goliatone/go-params"
	"github.com/goliatone/go-params/pkg/activity"
	"github.com/goliatone/go-params/pkg/cache"
	"github.com/goliatone/go-params/pkg/registry"
	"github.com/goliatone/go-params/pkg/state"
)

// DefaultWriteRetries bounds how often a write is retried after losing a
// version race.
const DefaultWriteRetries = 3

// Option configures a Service.
type Option func(*Service)

// WithCache replaces the default cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEmitter publishes change events through emitter.
func WithEmitter(emitter *activity.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWriteRetries sets how many times a conflicting write is retried.
func WithWriteRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithValidator sets the validator of the default registry.
func WithValidator(v *params.Validator) Option {
	return func(s *Service) { s.validator = v }
}

// WithRegistry replaces the registry built over the repository.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// Service is safe for concurrent use.
type Service struct {
	repo      state.Repository
	directory state.Directory
	registry  *registry.Registry
	validator *params.Validator
	cache     *cache.Cache
	emitter   *activity.Emitter
	logger    *slog.Logger
	now       func() time.Time
	retries   int
	resolver  state.Resolver
}

// New wires a Service. directory may be nil, in which case every merchant
// resolves against its merchant-only chain.
func New(repo state.Repository, directory state.Directory, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		directory: directory,
		logger:    slog.Default(),
		now:       time.Now,
		retries:   DefaultWriteRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.registry == nil {
		regOpts := []registry.Option{registry.WithLogger(s.logger)}
		if s.validator != nil {
			regOpts = append(regOpts, registry.WithValidator(s.validator))
		}
		s.registry = registry.New(repo, regOpts...)
	}
	if s.cache == nil {
		s.cache = cache.New(cache.WithLogger(s.logger), cache.WithClock(s.now))
	}
	s.resolver = state.Resolver{
		Store:       repo,
		Directory:   directory,
		Definitions: s.registry,
		Logger:      s.logger,
		Now:         s.now,
	}
	return s
}

// Start loads the registry and starts cache expiry. Definitions that fail
// their own validation are logged and skipped; only a repository failure is
// returned.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.Load(ctx); err != nil {
		var invalid *multierror.Error
		if !errors.As(err, &invalid) {
			return s.fail(ctx, "Start", "", "", "", err)
		}
		s.logger.WarnContext(ctx, "some parameter definitions were skipped",
			slog.Int("skipped", invalid.Len()),
			slog.Any("error", invalid))
	}
	s.cache.Start()
	return nil
}

// Close stops the cache.
func (s *Service) Close() {
	s.cache.Close()
}

// Registry exposes the definition registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Cache exposes the resolution cache.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// fail wraps err with operation context and logs it. Caller mistakes and
// missing records are logged at warn level.
func (s *Service) fail(ctx context.Context, op string, entityType params.EntityType, entityID, name string, err error) error {
	wrapped := params.WrapOperation(op, entityType, entityID, name, err)
	level := slog.LevelError
	if errors.Is(err, params.ErrNotFound) || errors.Is(err, params.ErrInvalidParameter) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "parameter operation failed",
		slog.String("operation", op),
		slog.String("entity_type", entityType.String()),
		slog.String("entity_id", entityID),
		slog.String("parameter", name),
		slog.Any("error", err))
	return wrapped
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{params.ErrInvalidParameter}, args...)...)
}
