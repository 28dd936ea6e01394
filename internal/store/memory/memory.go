// Package memory implements store.Store in process memory.
//
// It backs tests and single-process development hubs. Every read returns
// copies, and RunInTransaction works on a cloned state that replaces the live
// one only when the callback succeeds.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

type subKey struct {
	plugin string
	event  string
}

type state struct {
	subs      map[subKey]model.Subscription
	messages  []model.Message
	msgIndex  map[string]int
	deliv     []model.Delivery
	responses []model.Response
	mastery   map[model.MasteryKey]model.Mastery
}

func newState() *state {
	return &state{
		subs:     map[subKey]model.Subscription{},
		msgIndex: map[string]int{},
		mastery:  map[model.MasteryKey]model.Mastery{},
	}
}

func (s *state) clone() *state {
	c := &state{
		subs:      make(map[subKey]model.Subscription, len(s.subs)),
		messages:  slices.Clone(s.messages),
		msgIndex:  make(map[string]int, len(s.msgIndex)),
		deliv:     slices.Clone(s.deliv),
		responses: slices.Clone(s.responses),
		mastery:   make(map[model.MasteryKey]model.Mastery, len(s.mastery)),
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.msgIndex {
		c.msgIndex[k] = v
	}
	for k, v := range s.mastery {
		c.mastery[k] = v
	}
	return c
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) AddSubscription(_ context.Context, sub *model.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.addSubscription(sub), nil
}

func (s *Store) RemoveSubscription(_ context.Context, pluginName, eventName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.removeSubscription(pluginName, eventName), nil
}

func (s *Store) ListSubscriptions(_ context.Context, pluginName string) ([]*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listSubscriptions(pluginName), nil
}

func (s *Store) ListSubscribers(_ context.Context, eventName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listSubscribers(eventName), nil
}

func (s *Store) ListAllSubscriptions(_ context.Context) ([]*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listSubscriptions(""), nil
}

func (s *Store) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.createMessage(msg)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getMessage(id)
}

func (s *Store) ListAllMessages(_ context.Context) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listMessages(), nil
}

func (s *Store) CreateDelivery(_ context.Context, d *model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.deliv = append(s.st.deliv, *d)
	return nil
}

func (s *Store) ListDeliveries(_ context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listDeliveries(filter, false), nil
}

func (s *Store) ClaimDeliveries(_ context.Context, pluginName string, channel model.Channel) ([]*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listDeliveries(model.DeliveryFilter{
		PluginName:      pluginName,
		Channel:         channel,
		UndeliveredOnly: true,
	}, true), nil
}

func (s *Store) CreateResponse(_ context.Context, r *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.responses = append(s.st.responses, *r)
	return nil
}

func (s *Store) ClaimResponses(_ context.Context, entityID string) ([]*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.claimResponses(entityID), nil
}

func (s *Store) GetMastery(_ context.Context, key model.MasteryKey) (*model.Mastery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.mastery[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) FindMastery(_ context.Context, publisherID, studentID string, skillIDs []string) ([]*model.Mastery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findMastery(func(m *model.Mastery) bool {
		return m.PublisherID == publisherID && m.StudentID == studentID && slices.Contains(skillIDs, m.SkillID)
	}), nil
}

func (s *Store) UpsertMastery(_ context.Context, m *model.Mastery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.mastery[m.Key()] = *m
	return nil
}

func (s *Store) ListMasteryByStudent(_ context.Context, studentID string) ([]*model.Mastery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findMastery(func(m *model.Mastery) bool { return m.StudentID == studentID }), nil
}

func (s *Store) ListAllMastery(_ context.Context) ([]*model.Mastery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findMastery(func(*model.Mastery) bool { return true }), nil
}

// RunInTransaction runs fn against a private copy of the state while holding
// the store lock. The copy replaces the live state only if fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{st: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (st *state) addSubscription(sub *model.Subscription) bool {
	k := subKey{plugin: sub.PluginName, event: sub.EventName}
	if _, ok := st.subs[k]; ok {
		return false
	}
	st.subs[k] = *sub
	return true
}

func (st *state) removeSubscription(pluginName, eventName string) bool {
	k := subKey{plugin: pluginName, event: eventName}
	if _, ok := st.subs[k]; !ok {
		return false
	}
	delete(st.subs, k)
	return true
}

// listSubscriptions returns subscriptions for pluginName, or all of them when
// pluginName is empty.
func (st *state) listSubscriptions(pluginName string) []*model.Subscription {
	var out []*model.Subscription
	for _, sub := range st.subs {
		if pluginName != "" && sub.PluginName != pluginName {
			continue
		}
		cp := sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PluginName != out[j].PluginName {
			return out[i].PluginName < out[j].PluginName
		}
		return out[i].EventName < out[j].EventName
	})
	return out
}

func (st *state) listSubscribers(eventName string) []string {
	var out []string
	for k := range st.subs {
		if k.event == eventName {
			out = append(out, k.plugin)
		}
	}
	sort.Strings(out)
	return out
}

func (st *state) createMessage(msg *model.Message) {
	st.msgIndex[msg.ID] = len(st.messages)
	st.messages = append(st.messages, *msg)
}

func (st *state) getMessage(id string) (*model.Message, error) {
	i, ok := st.msgIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m := st.messages[i]
	return &m, nil
}

func (st *state) listMessages() []*model.Message {
	out := make([]*model.Message, 0, len(st.messages))
	for i := range st.messages {
		m := st.messages[i]
		out = append(out, &m)
	}
	return out
}

// listDeliveries returns matching deliveries in insertion order. When claim is
// set, each returned record is flipped to delivered under the same lock.
func (st *state) listDeliveries(filter model.DeliveryFilter, claim bool) []*model.Delivery {
	var out []*model.Delivery
	for i := range st.deliv {
		d := &st.deliv[i]
		if d.PluginName != filter.PluginName {
			continue
		}
		if filter.Channel != "" && model.ChannelFor(d.EventName) != filter.Channel {
			continue
		}
		if filter.UndeliveredOnly && d.Delivered {
			continue
		}
		cp := *d
		if claim {
			d.Delivered = true
			cp.Delivered = true
		}
		out = append(out, &cp)
	}
	return out
}

func (st *state) claimResponses(entityID string) []*model.Response {
	var out []*model.Response
	for i := range st.responses {
		r := &st.responses[i]
		if r.Delivered || r.Message.EntityID != entityID {
			continue
		}
		r.Delivered = true
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func (st *state) findMastery(match func(*model.Mastery) bool) []*model.Mastery {
	var out []*model.Mastery
	for _, m := range st.mastery {
		if !match(&m) {
			continue
		}
		cp := m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if a.PublisherID != b.PublisherID {
			return a.PublisherID < b.PublisherID
		}
		return a.SkillID < b.SkillID
	})
	return out
}
