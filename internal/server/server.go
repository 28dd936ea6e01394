// Package server exposes the broker over HTTP and gRPC.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/hpit/internal/broker"
	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// HubServer serves one broker.Service on every transport.
type HubServer struct {
	svc      *broker.Service
	notifier *notifier
	logger   *slog.Logger
}

// NewHubServer returns a HubServer backed by st. Broker notifications go to
// pub and to the server's SSE streams.
func NewHubServer(st store.Store, pub events.Publisher, opts ...broker.Option) *HubServer {
	notes := newNotifier(streamBacklog)
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	return &HubServer{
		svc:      broker.New(st, events.MultiPublisher{pub, notes}, opts...),
		notifier: notes,
		logger:   slog.Default(),
	}
}

// Service returns the broker, for plugins hosted in the same process.
func (s *HubServer) Service() *broker.Service { return s.svc }

// inputError indicates a request the transport could not parse.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// errUnauthenticated is returned when a call carries no usable identity.
var errUnauthenticated = errors.New("a connected entity identity is required")

// httpStatus maps a broker error to an HTTP status. Domain failures are
// answered as data: 200 with an {"error"} body. Only malformed requests and a
// missing identity fail at the transport.
func httpStatus(err error) int {
	var ie inputError
	if errors.As(err, &ie) {
		return http.StatusBadRequest
	}
	if errors.Is(err, errUnauthenticated) {
		return http.StatusUnauthorized
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return http.StatusOK
	}
	switch model.KindOf(err) {
	case model.ErrMissingField, model.ErrInvalidSkillID, model.ErrNotFound, model.ErrAccessDenied:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// grpcError maps a broker error to a gRPC status error.
func grpcError(err error) error {
	var ie inputError
	var ve *model.ValidationError
	if errors.As(err, &ie) || errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if errors.Is(err, errUnauthenticated) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	switch model.KindOf(err) {
	case model.ErrMissingField, model.ErrInvalidSkillID:
		return status.Error(codes.InvalidArgument, err.Error())
	case model.ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case model.ErrAccessDenied:
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

// authenticate resolves the caller identity; any failure is unauthenticated.
func (s *HubServer) authenticate(entityID string) (model.Entity, error) {
	e, err := s.svc.Authenticate(entityID)
	if err != nil {
		return model.Entity{}, errUnauthenticated
	}
	return e, nil
}
