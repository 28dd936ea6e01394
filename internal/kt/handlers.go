package kt

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/plugin"
)

// Event names served by the knowledge tracer.
const (
	EventSetInitial  = "tutorgen.kt_set_initial"
	EventReset       = "tutorgen.kt_reset"
	EventTrace       = "tutorgen.kt_trace"
	EventBatchTrace  = "tutorgen.kt_batch_trace"
	EventTransaction = "tutorgen.kt_transaction"
	EventFragment    = "get_student_model_fragment"
)

// FragmentName names the knowledge tracer's part of a student model.
const FragmentName = "knowledge_tracing"

// Responder tags replies to transactions.
const Responder = "kt"

// reply is a response payload.
type reply map[string]any

func errorReply(msg string) reply { return reply{"error": msg} }

// Handlers serves the Engine over hub messages.
type Handlers struct {
	engine *Engine
}

// NewHandlers returns the message handlers for e.
func NewHandlers(e *Engine) *Handlers {
	return &Handlers{engine: e}
}

// Register subscribes every knowledge tracing handler on rt.
func (h *Handlers) Register(rt *plugin.Runtime) {
	rt.Handle(EventSetInitial, h.SetInitial)
	rt.Handle(EventReset, h.Reset)
	rt.Handle(EventTrace, h.Trace)
	rt.Handle(EventBatchTrace, h.BatchTrace)
	rt.Handle(EventFragment, h.Fragment)
	rt.Handle(EventTransaction, h.Transaction)
	rt.HandleTransactions(h.Transaction)
}

// present reports whether every path exists in msg.
func present(msg *plugin.Message, paths ...string) bool {
	for _, r := range gjson.GetManyBytes(msg.Payload, paths...) {
		if !r.Exists() || r.Type == gjson.Null {
			return false
		}
	}
	return true
}

// domainReply turns a typed engine failure into an error payload. Anything
// else is returned for the runtime to report as unexpected.
func domainReply(op string, err error) (any, error) {
	var rejected *SkillRejectedError
	switch {
	case errors.As(err, &rejected):
		return reply{"error": rejected.Error(), "skill_manager_error": rejected.Reason}, nil
	case model.IsKind(err, model.ErrInvalidSkillID):
		return errorReply(op + " 'skill_id' is not a valid skill id"), nil
	case model.KindOf(err) != model.ErrUnexpected:
		return errorReply(err.Error()), nil
	}
	return nil, err
}

// SetInitial handles tutorgen.kt_set_initial.
func (h *Handlers) SetInitial(ctx context.Context, msg *plugin.Message) (any, error) {
	if !present(msg, "sender_entity_id", "skill_id", "probability_known", "probability_learned",
		"probability_guess", "probability_mistake", "student_id") {
		return errorReply("kt_set_initial requires 'sender_entity_id', 'skill_id', 'probability_known', " +
			"'probability_learned', 'probability_guess', 'probability_mistake', and 'student_id'"), nil
	}
	state, err := h.engine.SetInitial(ctx, SetInitialRequest{
		PublisherID: msg.Get("sender_entity_id").String(),
		SkillID:     msg.Get("skill_id").String(),
		StudentID:   msg.Get("student_id").String(),
		Priors: model.Priors{
			PKnown:   msg.Get("probability_known").Float(),
			PLearned: msg.Get("probability_learned").Float(),
			PGuess:   msg.Get("probability_guess").Float(),
			PMistake: msg.Get("probability_mistake").Float(),
		},
	})
	if err != nil {
		return domainReply("kt_set_initial", err)
	}
	return state, nil
}

// Trace handles tutorgen.kt_trace.
func (h *Handlers) Trace(ctx context.Context, msg *plugin.Message) (any, error) {
	if !present(msg, "sender_entity_id", "skill_id", "student_id", "correct") || !msg.Get("correct").IsBool() {
		return errorReply("kt_trace requires 'sender_entity_id', 'skill_id', 'student_id' and 'correct'"), nil
	}
	state, err := h.engine.Trace(ctx, TraceRequest{
		PublisherID: msg.Get("sender_entity_id").String(),
		SkillID:     msg.Get("skill_id").String(),
		StudentID:   msg.Get("student_id").String(),
		Correct:     msg.Get("correct").Bool(),
	})
	if err != nil {
		return domainReply("kt_trace", err)
	}
	return state, nil
}

// Reset handles tutorgen.kt_reset.
func (h *Handlers) Reset(ctx context.Context, msg *plugin.Message) (any, error) {
	if !present(msg, "sender_entity_id", "skill_id", "student_id") {
		return errorReply("kt_reset requires 'sender_entity_id', 'skill_id', and 'student_id'"), nil
	}
	state, err := h.engine.Reset(ctx,
		msg.Get("sender_entity_id").String(),
		msg.Get("skill_id").String(),
		msg.Get("student_id").String())
	if err != nil {
		return domainReply("kt_reset", err)
	}
	return state, nil
}

// BatchTrace handles tutorgen.kt_batch_trace.
func (h *Handlers) BatchTrace(ctx context.Context, msg *plugin.Message) (any, error) {
	if !present(msg, "skill_list", "student_id") {
		return errorReply("kt_batch_trace requires 'skill_list', and 'student_id'"), nil
	}
	list := msg.Get("skill_list")
	if !list.IsObject() {
		return errorReply("kt_batch_trace requires 'skill_list' to be dict"), nil
	}

	outcomes := make(map[string]bool)
	list.ForEach(func(k, v gjson.Result) bool {
		outcomes[canonicalSkill(k.String())] = v.Bool()
		return true
	})

	traced, err := h.engine.BatchTrace(ctx, msg.Get("sender_entity_id").String(), msg.Get("student_id").String(), outcomes)
	if err != nil {
		return domainReply("kt_batch_trace", err)
	}
	return reply{"traced_skills": traced}, nil
}

// Transaction handles transactions forwarded by the transaction manager,
// either on the transaction channel or as tutorgen.kt_transaction.
func (h *Handlers) Transaction(ctx context.Context, msg *plugin.Message) (any, error) {
	if h.engine.transactionManager == "" || msg.SenderID != h.engine.transactionManager {
		return reply{"error": "Access denied", "responder": Responder}, nil
	}
	if !present(msg, "skill_ids", "student_id", "outcome") {
		return reply{
			"error":     "knowledge tracing not done because 'skill_ids', 'student_id', or 'outcome' not found.",
			"responder": Responder,
		}, nil
	}
	ids := msg.Get("skill_ids")
	if !ids.IsObject() {
		return reply{
			"error":     "knowledge tracing not done because supplied 'skill_ids' is not valid; must be dict.",
			"responder": Responder,
		}, nil
	}

	skillIDs := make(map[string]string)
	ids.ForEach(func(name, id gjson.Result) bool {
		skillIDs[name.String()] = canonicalSkill(id.String())
		return true
	})

	origSender := msg.Get("orig_sender_id").String()
	if origSender == "" {
		origSender = msg.Get("entity_id").String()
	}

	traced, err := h.engine.TransactionTrace(ctx, msg.SenderID, TransactionRequest{
		OrigSenderID: origSender,
		StudentID:    msg.Get("student_id").String(),
		Outcome:      msg.Get("outcome").String(),
		SkillIDs:     skillIDs,
	})
	if err != nil {
		if model.KindOf(err) == model.ErrUnexpected {
			return nil, err
		}
		return reply{"error": err.Error(), "responder": Responder}, nil
	}
	return reply{"traced_skills": traced, "responder": Responder}, nil
}

// Fragment handles get_student_model_fragment.
func (h *Handlers) Fragment(ctx context.Context, msg *plugin.Message) (any, error) {
	if !present(msg, "student_id") {
		return errorReply("knowledge tracing get_student_model_fragment requires 'student_id'"), nil
	}
	states, err := h.engine.StudentFragment(ctx, msg.Get("student_id").String())
	if err != nil {
		return nil, err
	}
	return reply{"name": FragmentName, "fragment": states}, nil
}

// canonicalSkill lowercases well-formed skill ids so batch lookups match
// the records single traces create. Other keys are used as given.
func canonicalSkill(id string) string {
	if canon, err := model.ValidateSkillID(id); err == nil {
		return canon
	}
	return id
}
