// Package presence is the hub's entity registry.
//
// The Tracker issues ephemeral identities to connecting tutors and plugins and
// keeps the set of identities that are currently connected. Nothing is
// persisted: a restart forgets every identity. An optional reaper goroutine
// disconnects identities that have been idle longer than a threshold, the
// equivalent of an expiring session.
package presence

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/alfredjeanlab/hpit/internal/idgen"
	"github.com/alfredjeanlab/hpit/internal/model"
)

// Entry is a snapshot of one connected entity.
type Entry struct {
	ID          string           `json:"entity_id"`
	Name        string           `json:"entity_name"`
	Kind        model.EntityKind `json:"kind"`
	ConnectedAt time.Time        `json:"connected_at"`
	LastSeen    time.Time        `json:"last_seen"`
	IdleSecs    float64          `json:"idle_secs"`
	CallCount   int64            `json:"call_count"`
}

// ReaperConfig configures the background idle-entity reaper.
type ReaperConfig struct {
	// IdleTimeout is how long an entity may go without a call before it is
	// disconnected.
	IdleTimeout time.Duration

	// SweepInterval is how often the reaper scans. Default: IdleTimeout/4,
	// at least one second.
	SweepInterval time.Duration

	// OnExpired is called for each entity the reaper disconnects.
	// Called outside any map iteration, so it may block.
	OnExpired func(model.Entity)
}

// Tracker maintains the active set of entities.
type Tracker struct {
	entities *haxmap.Map[string, *entityState]
	now      func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type entityState struct {
	entity   model.Entity
	lastSeen atomic.Int64 // unix nanos
	calls    atomic.Int64
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		entities: haxmap.New[string, *entityState](),
		now:      time.Now,
	}
}

// Connect issues a fresh identity. Ids are never reused.
func (t *Tracker) Connect(kind model.EntityKind, requestedName string) (model.Entity, error) {
	id, err := idgen.EntityID()
	if err != nil {
		return model.Entity{}, err
	}
	now := t.now().UTC()
	st := &entityState{entity: model.Entity{
		ID:          id,
		Name:        model.DisplayName(kind, requestedName),
		Kind:        kind,
		ConnectedAt: now,
	}}
	st.lastSeen.Store(now.UnixNano())
	t.entities.Set(id, st)
	return st.entity, nil
}

// Disconnect removes id from the active set. It reports whether the entity
// was connected; disconnecting an unknown id is a no-op.
func (t *Tracker) Disconnect(id string) (model.Entity, bool) {
	st, ok := t.entities.Get(id)
	if !ok {
		return model.Entity{}, false
	}
	t.entities.Del(id)
	return st.entity, true
}

// Resolve returns the connected entity for id and records the call.
func (t *Tracker) Resolve(id string) (model.Entity, bool) {
	if id == "" {
		return model.Entity{}, false
	}
	st, ok := t.entities.Get(id)
	if !ok {
		return model.Entity{}, false
	}
	st.lastSeen.Store(t.now().UnixNano())
	st.calls.Add(1)
	return st.entity, true
}

// Len returns the number of connected entities.
func (t *Tracker) Len() int {
	return int(t.entities.Len())
}

// Roster returns a snapshot of all connected entities, most recently active first.
func (t *Tracker) Roster() []Entry {
	now := t.now()
	var entries []Entry
	t.entities.ForEach(func(_ string, st *entityState) bool {
		last := time.Unix(0, st.lastSeen.Load()).UTC()
		entries = append(entries, Entry{
			ID:          st.entity.ID,
			Name:        st.entity.Name,
			Kind:        st.entity.Kind,
			ConnectedAt: st.entity.ConnectedAt,
			LastSeen:    last,
			IdleSecs:    now.Sub(last).Seconds(),
			CallCount:   st.calls.Load(),
		})
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// StartReaper launches a background goroutine that disconnects idle
// entities. Call Stop() to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil || cfg.IdleTimeout <= 0 {
		return
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = max(cfg.IdleTimeout/4, time.Second)
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("presence: reaper started",
		"idle_timeout", cfg.IdleTimeout,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	cutoff := t.now().Add(-cfg.IdleTimeout).UnixNano()

	var idle []string
	t.entities.ForEach(func(id string, st *entityState) bool {
		if st.lastSeen.Load() < cutoff {
			idle = append(idle, id)
		}
		return true
	})

	for _, id := range idle {
		entity, ok := t.Disconnect(id)
		if !ok {
			continue
		}
		slog.Info("presence: reaper disconnected idle entity",
			"entity_id", entity.ID,
			"entity_name", entity.Name,
			"idle_timeout", cfg.IdleTimeout)
		if cfg.OnExpired != nil {
			cfg.OnExpired(entity)
		}
	}
}
