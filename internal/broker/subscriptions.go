package broker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// SubscribeResult reports whether a subscription was created.
type SubscribeResult int

const (
	// Created means the subscription is new.
	Created SubscribeResult = iota
	// AlreadyExists means the plugin was already subscribed to the event.
	AlreadyExists
)

// String returns the wire form used by the HTTP surface.
func (r SubscribeResult) String() string {
	if r == AlreadyExists {
		return "EXISTS"
	}
	return "OK"
}

// UnsubscribeResult reports whether a subscription was removed.
type UnsubscribeResult int

const (
	// Removed means the subscription existed and was deleted.
	Removed UnsubscribeResult = iota
	// NotSubscribed means there was no such subscription.
	NotSubscribed
)

// String returns the wire form used by the HTTP surface.
func (r UnsubscribeResult) String() string {
	if r == NotSubscribed {
		return "DOES_NOT_EXIST"
	}
	return "OK"
}

// Subscribe registers the plugin's interest in eventName. Subscribing twice
// is a no-op that reports AlreadyExists.
func (s *Service) Subscribe(ctx context.Context, pluginName, eventName string) (res SubscribeResult, err error) {
	ctx, span := s.startSpan(ctx, "Subscribe",
		attribute.String("hpit.plugin", pluginName),
		attribute.String("hpit.event", eventName))
	defer func() { endSpan(span, err) }()

	if err := requireNames(pluginName, eventName); err != nil {
		return 0, err
	}
	created, err := s.store.AddSubscription(ctx, &model.Subscription{
		PluginName: pluginName,
		EventName:  eventName,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("adding subscription: %w", err)
	}
	if !created {
		return AlreadyExists, nil
	}
	s.logger.Info("plugin subscribed", "plugin", pluginName, "event", eventName)
	return Created, nil
}

// Unsubscribe removes the plugin's interest in eventName.
func (s *Service) Unsubscribe(ctx context.Context, pluginName, eventName string) (res UnsubscribeResult, err error) {
	ctx, span := s.startSpan(ctx, "Unsubscribe",
		attribute.String("hpit.plugin", pluginName),
		attribute.String("hpit.event", eventName))
	defer func() { endSpan(span, err) }()

	if err := requireNames(pluginName, eventName); err != nil {
		return 0, err
	}
	removed, err := s.store.RemoveSubscription(ctx, pluginName, eventName)
	if err != nil {
		return 0, fmt.Errorf("removing subscription: %w", err)
	}
	if !removed {
		return NotSubscribed, nil
	}
	s.logger.Info("plugin unsubscribed", "plugin", pluginName, "event", eventName)
	return Removed, nil
}

// ListSubscriptions returns the event names the plugin is subscribed to.
func (s *Service) ListSubscriptions(ctx context.Context, pluginName string) ([]string, error) {
	subs, err := s.store.ListSubscriptions(ctx, pluginName)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.EventName)
	}
	return names, nil
}

func requireNames(pluginName, eventName string) error {
	if pluginName == "" {
		return model.Errorf(model.ErrMissingField, "plugin name is required")
	}
	if eventName == "" {
		return model.Errorf(model.ErrMissingField, "event name is required")
	}
	return nil
}
