// Package kt implements Bayesian Knowledge Tracing over the hub.
//
// The Engine keeps one mastery record per (publisher, skill, student) triple
// and updates it from observed outcomes. Handlers adapts the Engine to the
// plugin runtime so it can serve trace, reset, batch, transaction and
// student-model-fragment requests arriving as hub messages.
package kt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

// SkillState is the per-skill result returned to callers. It never carries
// the publisher identity.
type SkillState struct {
	SkillID   string `json:"skill_id"`
	StudentID string `json:"student_id"`
	model.Priors

	// Seeded is set when the record did not exist and was created with
	// default priors instead of being traced.
	Seeded bool `json:"-"`
}

func stateOf(m *model.Mastery, seeded bool) SkillState {
	return SkillState{SkillID: m.SkillID, StudentID: m.StudentID, Priors: m.Priors, Seeded: seeded}
}

// SkillRejectedError reports that the skill verifier refused a skill id.
type SkillRejectedError struct {
	SkillID string
	Reason  string
}

func (e *SkillRejectedError) Error() string {
	return "skill_id " + e.SkillID + " is invalid."
}

// Engine is the knowledge tracer.
type Engine struct {
	store              store.Store
	verifier           SkillVerifier
	transactionManager string
	locks              *keyedLocks
	logger             *slog.Logger
	now                func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithVerifier sets the capability consulted before creating a record
// through SetInitial.
func WithVerifier(v SkillVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithTransactionManager sets the only identity allowed to submit
// transaction traces.
func WithTransactionManager(id string) Option {
	return func(e *Engine) { e.transactionManager = id }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an Engine persisting mastery records in st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		verifier: AcceptAll{},
		locks:    newKeyedLocks(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TraceRequest is a single-skill observation.
type TraceRequest struct {
	PublisherID string
	SkillID     string
	StudentID   string
	Correct     bool
}

// Trace updates the triple with one observation. A triple with no record is
// seeded with default priors and returned untraced.
func (e *Engine) Trace(ctx context.Context, req TraceRequest) (SkillState, error) {
	skillID, err := model.ValidateSkillID(req.SkillID)
	if err != nil {
		return SkillState{}, err
	}
	key := model.MasteryKey{PublisherID: req.PublisherID, SkillID: skillID, StudentID: req.StudentID}

	release := e.locks.lock(key)
	defer release()

	cur, err := e.store.GetMastery(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		seeded := e.seed(key)
		if err := e.store.UpsertMastery(ctx, seeded); err != nil {
			return SkillState{}, fmt.Errorf("seeding mastery: %w", err)
		}
		return stateOf(seeded, true), nil
	}
	if err != nil {
		return SkillState{}, fmt.Errorf("loading mastery: %w", err)
	}

	cur.Priors = Trace(cur.Priors, req.Correct)
	cur.UpdatedAt = e.now().UTC()
	if err := e.store.UpsertMastery(ctx, cur); err != nil {
		return SkillState{}, fmt.Errorf("saving mastery: %w", err)
	}
	e.logger.Debug("kt: traced", "skill_id", skillID, "student_id", req.StudentID, "p_known", cur.PKnown)
	return stateOf(cur, false), nil
}

// SetInitialRequest sets explicit priors for a triple.
type SetInitialRequest struct {
	PublisherID string
	SkillID     string
	StudentID   string
	Priors      model.Priors
}

// SetInitial upserts explicit priors. An existing record is overwritten
// directly; a new record is created only after the skill verifier accepts
// the skill id.
func (e *Engine) SetInitial(ctx context.Context, req SetInitialRequest) (SkillState, error) {
	skillID, err := model.ValidateSkillID(req.SkillID)
	if err != nil {
		return SkillState{}, err
	}
	if !ValidPriors(req.Priors) {
		return SkillState{}, model.Errorf(model.ErrMissingField, "kt_set_initial probabilities must be between 0 and 1")
	}
	key := model.MasteryKey{PublisherID: req.PublisherID, SkillID: skillID, StudentID: req.StudentID}

	_, err = e.store.GetMastery(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Verification may wait on another plugin; no lock is held across it.
		if err := e.verifier.VerifySkill(ctx, skillID); err != nil {
			var rejected *SkillRejectedError
			if errors.As(err, &rejected) {
				return SkillState{}, err
			}
			return SkillState{}, &SkillRejectedError{SkillID: skillID, Reason: err.Error()}
		}
	case err != nil:
		return SkillState{}, fmt.Errorf("loading mastery: %w", err)
	}

	release := e.locks.lock(key)
	defer release()

	m := &model.Mastery{
		PublisherID: key.PublisherID,
		SkillID:     key.SkillID,
		StudentID:   key.StudentID,
		Priors:      req.Priors,
		UpdatedAt:   e.now().UTC(),
	}
	if err := e.store.UpsertMastery(ctx, m); err != nil {
		return SkillState{}, fmt.Errorf("saving mastery: %w", err)
	}
	return stateOf(m, false), nil
}

// Reset restores the default priors of an existing record.
func (e *Engine) Reset(ctx context.Context, publisherID, skillID, studentID string) (SkillState, error) {
	skillID, err := model.ValidateSkillID(skillID)
	if err != nil {
		return SkillState{}, err
	}
	key := model.MasteryKey{PublisherID: publisherID, SkillID: skillID, StudentID: studentID}

	release := e.locks.lock(key)
	defer release()

	cur, err := e.store.GetMastery(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return SkillState{}, model.Errorf(model.ErrNotFound,
			"No configuration found in knowledge tracer for skill/student combination.")
	}
	if err != nil {
		return SkillState{}, fmt.Errorf("loading mastery: %w", err)
	}

	cur.Priors = model.DefaultPriors()
	cur.UpdatedAt = e.now().UTC()
	if err := e.store.UpsertMastery(ctx, cur); err != nil {
		return SkillState{}, fmt.Errorf("saving mastery: %w", err)
	}
	return stateOf(cur, false), nil
}

// BatchTrace traces several skills of one student. Existing records are
// fetched in one query and traced; skills with no record are seeded with
// default priors and returned untraced. Results are keyed by skill id.
func (e *Engine) BatchTrace(ctx context.Context, publisherID, studentID string, outcomes map[string]bool) (map[string]SkillState, error) {
	keys := make([]model.MasteryKey, 0, len(outcomes))
	skills := make([]string, 0, len(outcomes))
	for skill := range outcomes {
		keys = append(keys, model.MasteryKey{PublisherID: publisherID, SkillID: skill, StudentID: studentID})
		skills = append(skills, skill)
	}

	release := e.locks.lockAll(keys)
	defer release()

	existing, err := e.store.FindMastery(ctx, publisherID, studentID, skills)
	if err != nil {
		return nil, fmt.Errorf("loading mastery: %w", err)
	}

	out := make(map[string]SkillState, len(outcomes))
	now := e.now().UTC()
	for _, cur := range existing {
		cur.Priors = Trace(cur.Priors, outcomes[cur.SkillID])
		cur.UpdatedAt = now
		if err := e.store.UpsertMastery(ctx, cur); err != nil {
			return nil, fmt.Errorf("saving mastery for %s: %w", cur.SkillID, err)
		}
		out[cur.SkillID] = stateOf(cur, false)
	}
	for _, key := range keys {
		if _, ok := out[key.SkillID]; ok {
			continue
		}
		seeded := e.seed(key)
		if err := e.store.UpsertMastery(ctx, seeded); err != nil {
			return nil, fmt.Errorf("seeding mastery for %s: %w", key.SkillID, err)
		}
		out[key.SkillID] = stateOf(seeded, true)
	}
	return out, nil
}

// TransactionRequest is a transaction forwarded by the transaction manager.
// SkillIDs maps external skill names to skill ids.
type TransactionRequest struct {
	OrigSenderID string
	StudentID    string
	Outcome      string
	SkillIDs     map[string]string
}

// ParseOutcome maps "correct"/"incorrect" (any case) to a boolean.
func ParseOutcome(outcome string) (bool, bool) {
	switch strings.ToLower(outcome) {
	case "correct":
		return true, true
	case "incorrect":
		return false, true
	}
	return false, false
}

// TransactionTrace applies batch semantics on behalf of the original sender
// of a transaction. Only the configured transaction manager may call it.
// Results are keyed by skill name.
func (e *Engine) TransactionTrace(ctx context.Context, callerID string, req TransactionRequest) (map[string]SkillState, error) {
	if e.transactionManager == "" || callerID != e.transactionManager {
		return nil, model.Errorf(model.ErrAccessDenied, "Access denied")
	}
	correct, ok := ParseOutcome(req.Outcome)
	if !ok {
		return nil, model.Errorf(model.ErrMissingField,
			"knowledge tracing not done because outcome was neither 'correct' or 'incorrect'")
	}

	outcomes := make(map[string]bool, len(req.SkillIDs))
	for _, id := range req.SkillIDs {
		outcomes[id] = correct
	}
	byID, err := e.BatchTrace(ctx, req.OrigSenderID, req.StudentID, outcomes)
	if err != nil {
		return nil, err
	}

	out := make(map[string]SkillState, len(req.SkillIDs))
	for name, id := range req.SkillIDs {
		out[name] = byID[id]
	}
	return out, nil
}

// StudentFragment returns every mastery record of the student.
func (e *Engine) StudentFragment(ctx context.Context, studentID string) ([]SkillState, error) {
	records, err := e.store.ListMasteryByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("listing mastery: %w", err)
	}
	out := make([]SkillState, 0, len(records))
	for _, m := range records {
		out = append(out, stateOf(m, false))
	}
	return out, nil
}

func (e *Engine) seed(key model.MasteryKey) *model.Mastery {
	e.logger.Info("kt: no initial settings, using defaults",
		"skill_id", key.SkillID, "student_id", key.StudentID, "sender_entity_id", key.PublisherID)
	return &model.Mastery{
		PublisherID: key.PublisherID,
		SkillID:     key.SkillID,
		StudentID:   key.StudentID,
		Priors:      model.DefaultPriors(),
		UpdatedAt:   e.now().UTC(),
	}
}
