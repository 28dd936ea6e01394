// Package broker is the hub's message broker.
//
// A Service owns the entity registry, the subscription directory, the
// message store with its per-plugin delivery queues, and the response
// correlator. Transports hold one Service for the life of the process and
// call it with an explicit caller identity; the Service never reads ambient
// session state.
package broker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/presence"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// DefaultVersion is reported by Version when none is configured.
const DefaultVersion = "2.1"

// Service implements the broker operations.
type Service struct {
	store     store.Store
	publisher events.Publisher
	registry  *presence.Tracker
	logger    *slog.Logger
	tracer    trace.Tracer
	version   string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithVersion sets the string reported by Version.
func WithVersion(v string) Option {
	return func(s *Service) {
		if v != "" {
			s.version = v
		}
	}
}

// WithRegistry replaces the default entity registry.
func WithRegistry(r *presence.Tracker) Option {
	return func(s *Service) { s.registry = r }
}

// New returns a Service backed by st. A nil publisher disables notifications.
func New(st store.Store, pub events.Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	s := &Service{
		store:     st,
		publisher: pub,
		registry:  presence.New(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/alfredjeanlab/hpit/internal/broker"),
		version:   DefaultVersion,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry exposes the entity registry for transports that need the roster.
func (s *Service) Registry() *presence.Tracker { return s.registry }

// Store exposes the backing store.
func (s *Service) Store() store.Store { return s.store }

// Version returns the hub version string.
func (s *Service) Version() string { return s.version }

// Connect issues a new identity for a tutor or plugin.
func (s *Service) Connect(ctx context.Context, kind model.EntityKind, name string) (model.Entity, error) {
	if !kind.IsValid() {
		return model.Entity{}, model.Errorf(model.ErrMissingField, "unknown entity kind %q", kind)
	}
	if err := model.ValidateEntityName(name); err != nil {
		return model.Entity{}, err
	}
	e, err := s.registry.Connect(kind, name)
	if err != nil {
		return model.Entity{}, model.Wrap(err, "could not issue an entity id")
	}
	s.logger.Info("entity connected", "entity_id", e.ID, "entity_name", e.Name, "kind", e.Kind)
	s.notify(ctx, events.TopicEntityConnected, events.EntityConnected{Entity: e})
	return e, nil
}

// Disconnect removes the identity. Disconnecting an unknown identity is a
// no-op and reports false.
func (s *Service) Disconnect(ctx context.Context, entityID string) bool {
	e, ok := s.registry.Disconnect(entityID)
	if !ok {
		return false
	}
	s.logger.Info("entity disconnected", "entity_id", e.ID, "entity_name", e.Name)
	s.notify(ctx, events.TopicEntityDisconnected, events.EntityDisconnected{Entity: e, Reason: "request"})
	return true
}

// Expired is the registry reaper callback: it announces identities the
// registry dropped for inactivity.
func (s *Service) Expired(e model.Entity) {
	s.notify(context.Background(), events.TopicEntityDisconnected, events.EntityDisconnected{Entity: e, Reason: "idle"})
}

// Authenticate resolves a caller identity. It fails with NotFound when the
// identity is absent or no longer connected.
func (s *Service) Authenticate(entityID string) (model.Entity, error) {
	if entityID == "" {
		return model.Entity{}, model.Errorf(model.ErrNotFound, "no entity identity supplied")
	}
	e, ok := s.registry.Resolve(entityID)
	if !ok {
		return model.Entity{}, model.Errorf(model.ErrNotFound, "entity %s is not connected", entityID)
	}
	return e, nil
}

// notify publishes a best-effort notification. Failures are logged.
func (s *Service) notify(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "broker."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
