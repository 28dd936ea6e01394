package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence interface for the hub and the knowledge tracer.
type Store interface {
	// Subscriptions
	AddSubscription(ctx context.Context, sub *model.Subscription) (created bool, err error)
	RemoveSubscription(ctx context.Context, pluginName, eventName string) (removed bool, err error)
	ListSubscriptions(ctx context.Context, pluginName string) ([]*model.Subscription, error)
	ListSubscribers(ctx context.Context, eventName string) ([]string, error)
	ListAllSubscriptions(ctx context.Context) ([]*model.Subscription, error)

	// Messages
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListAllMessages(ctx context.Context) ([]*model.Message, error)

	// Deliveries. ClaimDeliveries returns every undelivered record for the
	// plugin and channel and marks them delivered in one atomic step.
	CreateDelivery(ctx context.Context, d *model.Delivery) error
	ListDeliveries(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error)
	ClaimDeliveries(ctx context.Context, pluginName string, channel model.Channel) ([]*model.Delivery, error)

	// Responses. ClaimResponses returns and marks delivered every undelivered
	// response whose original message was published by entityID.
	CreateResponse(ctx context.Context, r *model.Response) error
	ClaimResponses(ctx context.Context, entityID string) ([]*model.Response, error)

	// Mastery
	GetMastery(ctx context.Context, key model.MasteryKey) (*model.Mastery, error)
	FindMastery(ctx context.Context, publisherID, studentID string, skillIDs []string) ([]*model.Mastery, error)
	UpsertMastery(ctx context.Context, m *model.Mastery) error
	ListMasteryByStudent(ctx context.Context, studentID string) ([]*model.Mastery, error)
	ListAllMastery(ctx context.Context) ([]*model.Mastery, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
