package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alfredjeanlab/hpit/internal/events"
	"github.com/alfredjeanlab/hpit/internal/idgen"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// ReadMode selects how a plugin reads its delivery queue.
type ReadMode int

const (
	// History returns every delivery for the plugin and marks nothing.
	History ReadMode = iota
	// Preview returns undelivered records and marks nothing.
	Preview
	// Consume returns undelivered records and marks them delivered atomically.
	Consume
)

// Publish stores a message from publisherID and queues one delivery for each
// plugin subscribed to eventName. The message and its deliveries are written
// in one store transaction.
func (s *Service) Publish(ctx context.Context, publisherID, eventName string, payload json.RawMessage) (id string, err error) {
	ctx, span := s.startSpan(ctx, "Publish", attribute.String("hpit.event", eventName))
	defer func() { endSpan(span, err) }()

	if err := model.ValidatePublish(eventName, payload); err != nil {
		return "", err
	}
	return s.publish(ctx, publisherID, eventName, payload)
}

// PublishTransaction stamps the caller identity into the payload as
// entity_id and publishes it on the transaction channel.
func (s *Service) PublishTransaction(ctx context.Context, publisherID string, payload json.RawMessage) (id string, err error) {
	ctx, span := s.startSpan(ctx, "PublishTransaction")
	defer func() { endSpan(span, err) }()

	if err := model.ValidatePublish(model.TransactionEvent, payload); err != nil {
		return "", err
	}
	stamped, err := sjson.SetBytes(payload, "entity_id", publisherID)
	if err != nil {
		return "", fmt.Errorf("stamping transaction: %w", err)
	}
	return s.publish(ctx, publisherID, model.TransactionEvent, stamped)
}

func (s *Service) publish(ctx context.Context, publisherID, eventName string, payload json.RawMessage) (string, error) {
	now := s.now().UTC()
	msg := &model.Message{
		ID:          idgen.MessageID(),
		EventName:   eventName,
		Payload:     payload,
		PublisherID: publisherID,
		CreatedAt:   now,
	}

	body, err := deliveryBody(msg)
	if err != nil {
		return "", err
	}

	var subscribers []string
	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("creating message: %w", err)
		}
		plugins, err := tx.ListSubscribers(ctx, eventName)
		if err != nil {
			return fmt.Errorf("listing subscribers: %w", err)
		}
		for _, plugin := range plugins {
			deliveryID, err := idgen.DeliveryID()
			if err != nil {
				return err
			}
			if err := tx.CreateDelivery(ctx, &model.Delivery{
				ID:         deliveryID,
				MessageID:  msg.ID,
				PluginName: plugin,
				EventName:  eventName,
				SenderID:   publisherID,
				Payload:    body,
				CreatedAt:  now,
			}); err != nil {
				return fmt.Errorf("queueing delivery for %s: %w", plugin, err)
			}
		}
		subscribers = plugins
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("message published",
		"message_id", msg.ID, "event", eventName, "publisher", publisherID, "subscribers", len(subscribers))
	s.notify(ctx, events.TopicMessagePublished, events.MessagePublished{
		MessageID:   msg.ID,
		EventName:   eventName,
		PublisherID: publisherID,
		Subscribers: subscribers,
	})
	for _, plugin := range subscribers {
		s.notify(ctx, events.DeliveryTopic(plugin), events.DeliveryQueued{
			PluginName: plugin,
			MessageID:  msg.ID,
			EventName:  eventName,
			Channel:    model.ChannelFor(eventName),
		})
	}
	return msg.ID, nil
}

// deliveryBody is the payload a plugin receives: the stored payload with the
// message id and the publisher identity added, so the plugin can respond and
// apply caller checks.
func deliveryBody(msg *model.Message) (json.RawMessage, error) {
	body, err := sjson.SetBytes(msg.Payload, "message_id", msg.ID)
	if err != nil {
		return nil, fmt.Errorf("annotating delivery: %w", err)
	}
	body, err = sjson.SetBytes(body, "sender_entity_id", msg.PublisherID)
	if err != nil {
		return nil, fmt.Errorf("annotating delivery: %w", err)
	}
	return body, nil
}

// Deliveries reads the plugin's queue on channel in the given mode.
func (s *Service) Deliveries(ctx context.Context, pluginName string, channel model.Channel, mode ReadMode) (out []*model.Delivery, err error) {
	ctx, span := s.startSpan(ctx, "Deliveries",
		attribute.String("hpit.plugin", pluginName),
		attribute.String("hpit.channel", string(channel)),
		attribute.Int("hpit.read_mode", int(mode)))
	defer func() { endSpan(span, err) }()

	if pluginName == "" {
		return nil, model.Errorf(model.ErrMissingField, "plugin name is required")
	}
	switch mode {
	case Consume:
		out, err = s.store.ClaimDeliveries(ctx, pluginName, channel)
	case Preview:
		out, err = s.store.ListDeliveries(ctx, model.DeliveryFilter{PluginName: pluginName, Channel: channel, UndeliveredOnly: true})
	default:
		out, err = s.store.ListDeliveries(ctx, model.DeliveryFilter{PluginName: pluginName, Channel: channel})
	}
	if err != nil {
		return nil, fmt.Errorf("reading deliveries: %w", err)
	}
	span.SetAttributes(attribute.Int("hpit.count", len(out)))
	return out, nil
}
