package studentmodel

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/hpit/internal/plugin"
)

// Event names used by the student model plugin.
const (
	EventGetStudentModel = "tutorgen.get_student_model"
	EventFragment        = "get_student_model_fragment"
)

// TimedOutError is the error field of a partial model.
const TimedOutError = "Get student model timed out. Here is a partial student model."

// Model is the reply to tutorgen.get_student_model.
type Model struct {
	Error        string                     `json:"error,omitempty"`
	StudentID    string                     `json:"student_id"`
	StudentModel map[string]json.RawMessage `json:"student_model"`
	Cached       bool                       `json:"cached"`
	MessageID    string                     `json:"message_id"`
}

// Handlers serves student model requests on a plugin runtime.
type Handlers struct {
	rt     *plugin.Runtime
	agg    *Aggregator
	logger *slog.Logger
}

// NewHandlers returns handlers that publish through rt.
func NewHandlers(rt *plugin.Runtime, logger *slog.Logger, opts ...AggregatorOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{rt: rt, logger: logger}
	h.agg = NewAggregator(h.deliver, opts...)
	return h
}

// Register subscribes the handlers on the runtime.
func (h *Handlers) Register() {
	h.rt.Handle(EventGetStudentModel, h.GetStudentModel)
}

// GetStudentModel asks every fragment provider for its part of the model.
// The reply is posted later, once all fragments arrive or the timeout fires.
func (h *Handlers) GetStudentModel(ctx context.Context, msg *plugin.Message) (any, error) {
	student := msg.Get("student_id")
	if !student.Exists() {
		return map[string]string{"error": "get_student_model requires a 'student_id'"}, nil
	}
	studentID := student.String()
	requestID := msg.ID

	h.agg.Start(requestID, studentID)
	sentID, err := h.rt.Send(ctx, EventFragment, map[string]any{
		"update":     false,
		"student_id": studentID,
	}, func(_ context.Context, resp json.RawMessage) {
		var frag struct {
			Name     string          `json:"name"`
			Fragment json.RawMessage `json:"fragment"`
		}
		if err := json.Unmarshal(resp, &frag); err != nil || frag.Name == "" || frag.Fragment == nil {
			return
		}
		if !h.agg.Add(requestID, frag.Name, frag.Fragment) {
			h.logger.Debug("student model: fragment ignored", "message_id", requestID, "name", frag.Name)
		}
	})
	if err != nil {
		h.agg.Cancel(requestID)
		return nil, err
	}
	if !h.agg.Attach(requestID, sentID) {
		h.rt.Forget(sentID)
	}
	return nil, nil
}

func (h *Handlers) deliver(res Result) {
	if res.FragmentRequestID != "" {
		h.rt.Forget(res.FragmentRequestID)
	}
	reply := Model{
		StudentID:    res.StudentID,
		StudentModel: res.Fragments,
		MessageID:    res.RequestID,
	}
	if res.TimedOut {
		reply.Error = TimedOutError
		h.logger.Info("student model: timed out", "message_id", res.RequestID, "fragments", len(res.Fragments))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.rt.Respond(ctx, res.RequestID, reply); err != nil {
		h.logger.Warn("student model: posting response failed", "message_id", res.RequestID, "err", err)
	}
}
