package memory

import (
	"context"
	"slices"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// txStore implements store.Store over a cloned state owned by one
// RunInTransaction call. The parent store lock is held for its lifetime.
type txStore struct {
	st *state
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) AddSubscription(_ context.Context, sub *model.Subscription) (bool, error) {
	return s.st.addSubscription(sub), nil
}

func (s *txStore) RemoveSubscription(_ context.Context, pluginName, eventName string) (bool, error) {
	return s.st.removeSubscription(pluginName, eventName), nil
}

func (s *txStore) ListSubscriptions(_ context.Context, pluginName string) ([]*model.Subscription, error) {
	return s.st.listSubscriptions(pluginName), nil
}

func (s *txStore) ListSubscribers(_ context.Context, eventName string) ([]string, error) {
	return s.st.listSubscribers(eventName), nil
}

func (s *txStore) ListAllSubscriptions(_ context.Context) ([]*model.Subscription, error) {
	return s.st.listSubscriptions(""), nil
}

func (s *txStore) CreateMessage(_ context.Context, msg *model.Message) error {
	s.st.createMessage(msg)
	return nil
}

func (s *txStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	return s.st.getMessage(id)
}

func (s *txStore) ListAllMessages(_ context.Context) ([]*model.Message, error) {
	return s.st.listMessages(), nil
}

func (s *txStore) CreateDelivery(_ context.Context, d *model.Delivery) error {
	s.st.deliv = append(s.st.deliv, *d)
	return nil
}

func (s *txStore) ListDeliveries(_ context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	return s.st.listDeliveries(filter, false), nil
}

func (s *txStore) ClaimDeliveries(_ context.Context, pluginName string, channel model.Channel) ([]*model.Delivery, error) {
	return s.st.listDeliveries(model.DeliveryFilter{
		PluginName:      pluginName,
		Channel:         channel,
		UndeliveredOnly: true,
	}, true), nil
}

func (s *txStore) CreateResponse(_ context.Context, r *model.Response) error {
	s.st.responses = append(s.st.responses, *r)
	return nil
}

func (s *txStore) ClaimResponses(_ context.Context, entityID string) ([]*model.Response, error) {
	return s.st.claimResponses(entityID), nil
}

func (s *txStore) GetMastery(_ context.Context, key model.MasteryKey) (*model.Mastery, error) {
	m, ok := s.st.mastery[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *txStore) FindMastery(_ context.Context, publisherID, studentID string, skillIDs []string) ([]*model.Mastery, error) {
	return s.st.findMastery(func(m *model.Mastery) bool {
		return m.PublisherID == publisherID && m.StudentID == studentID && slices.Contains(skillIDs, m.SkillID)
	}), nil
}

func (s *txStore) UpsertMastery(_ context.Context, m *model.Mastery) error {
	s.st.mastery[m.Key()] = *m
	return nil
}

func (s *txStore) ListMasteryByStudent(_ context.Context, studentID string) ([]*model.Mastery, error) {
	return s.st.findMastery(func(m *model.Mastery) bool { return m.StudentID == studentID }), nil
}

func (s *txStore) ListAllMastery(_ context.Context) ([]*model.Mastery, error) {
	return s.st.findMastery(func(*model.Mastery) bool { return true }), nil
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store.
func (s *txStore) Close() error { return nil }
