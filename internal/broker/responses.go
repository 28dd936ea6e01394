package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/idgen"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// Respond stores a response to messageID. The response embeds a snapshot of
// the original message so it can be routed back to the publisher even if the
// message is later pruned.
func (s *Service) Respond(ctx context.Context, messageID string, payload json.RawMessage) (id string, err error) {
	ctx, span := s.startSpan(ctx, "Respond", attribute.String("hpit.message_id", messageID))
	defer func() { endSpan(span, err) }()

	if messageID == "" {
		return "", model.Errorf(model.ErrMissingField, "message_id is required")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return "", model.Errorf(model.ErrMissingField, "payload must be valid JSON")
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return "", model.Errorf(model.ErrNotFound, "message %s not found", messageID)
	}
	if err != nil {
		return "", fmt.Errorf("loading message: %w", err)
	}

	id, err = idgen.ResponseID()
	if err != nil {
		return "", err
	}
	r := &model.Response{
		ID:        id,
		MessageID: msg.ID,
		Message:   msg.Snapshot(),
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateResponse(ctx, r); err != nil {
		return "", fmt.Errorf("storing response: %w", err)
	}

	s.notify(ctx, events.TopicResponsePosted, events.ResponsePosted{
		ResponseID: r.ID,
		MessageID:  msg.ID,
		EntityID:   msg.PublisherID,
	})
	return r.ID, nil
}

// PollResponses returns, and marks delivered, every pending response to a
// message published by entityID. Each response is returned at most once.
func (s *Service) PollResponses(ctx context.Context, entityID string) (out []*model.Response, err error) {
	ctx, span := s.startSpan(ctx, "PollResponses")
	defer func() { endSpan(span, err) }()

	out, err = s.store.ClaimResponses(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("claiming responses: %w", err)
	}
	span.SetAttributes(attribute.Int("hpit.count", len(out)))
	return out, nil
}
