package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /health and GET /version)
// must include a valid Authorization: Bearer <token> header.
func (s *HubServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tutor/connect/{name}", s.handleConnect(model.KindTutor))
	mux.HandleFunc("POST /plugin/connect/{name}", s.handleConnect(model.KindPlugin))
	mux.HandleFunc("POST /tutor/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /plugin/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /plugin/{name}/subscribe/{event}", s.handleSubscribe)
	mux.HandleFunc("POST /plugin/{name}/unsubscribe/{event}", s.handleUnsubscribe)
	mux.HandleFunc("GET /plugin/{name}/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("GET /plugin/{name}/stream", s.handlePluginStream)
	mux.HandleFunc("GET /plugin/{name}/{channel}/{mode}", s.handleDeliveries)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /transaction", s.handleTransaction)
	mux.HandleFunc("POST /response", s.handleResponse)
	mux.HandleFunc("GET /responses", s.handleResponses)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /entities", s.handleEntities)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	return AuthMiddleware(authToken, mux)
}

// handleConnect handles POST /{tutor,plugin}/connect/{name}.
func (s *HubServer) handleConnect(kind model.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := s.svc.Connect(r.Context(), kind, r.PathValue("name"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wire.ConnectReply{EntityName: e.Name, EntityID: e.ID})
	}
}

// handleDisconnect handles POST /{tutor,plugin}/disconnect.
func (s *HubServer) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	e, ok := s.requireEntity(w, r)
	if !ok {
		return
	}
	s.svc.Disconnect(r.Context(), e.ID)
	writeJSON(w, http.StatusOK, "OK")
}

// handleSubscribe handles POST /plugin/{name}/subscribe/{event}.
func (s *HubServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Subscribe(r.Context(), r.PathValue("name"), r.PathValue("event"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.String())
}

// handleUnsubscribe handles POST /plugin/{name}/unsubscribe/{event}.
func (s *HubServer) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Unsubscribe(r.Context(), r.PathValue("name"), r.PathValue("event"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.String())
}

// handleSubscriptions handles GET /plugin/{name}/subscriptions.
func (s *HubServer) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.ListSubscriptions(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, wire.SubscriptionsReply{Subscriptions: subs})
}

// handleDeliveries handles GET /plugin/{name}/{messages,transactions}/{history,preview,list}.
func (s *HubServer) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	channel := model.Channel(r.PathValue("channel"))
	if channel != model.ChannelMessages && channel != model.ChannelTransactions {
		writeError(w, http.StatusNotFound, "unknown channel "+string(channel))
		return
	}
	mode, ok := wire.ParseReadMode(r.PathValue("mode"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown read mode "+r.PathValue("mode"))
		return
	}

	deliveries, err := s.svc.Deliveries(r.Context(), r.PathValue("name"), channel, mode.Broker())
	if err != nil {
		s.fail(w, err)
		return
	}
	envelopes := make([]wire.Envelope, 0, len(deliveries))
	for _, d := range deliveries {
		envelopes = append(envelopes, wire.EnvelopeOf(d))
	}
	writeJSON(w, http.StatusOK, map[string][]wire.Envelope{wire.ListKey(channel, mode): envelopes})
}

// handleMessage handles POST /message.
func (s *HubServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	e, ok := s.requireEntity(w, r)
	if !ok {
		return
	}
	var req wire.PublishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.svc.Publish(r.Context(), e.ID, req.Name, req.Payload)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.MessageIDReply{MessageID: id})
}

// handleTransaction handles POST /transaction.
func (s *HubServer) handleTransaction(w http.ResponseWriter, r *http.Request) {
	e, ok := s.requireEntity(w, r)
	if !ok {
		return
	}
	var req wire.TransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.svc.PublishTransaction(r.Context(), e.ID, req.Payload)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.MessageIDReply{MessageID: id})
}

// handleResponse handles POST /response.
func (s *HubServer) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req wire.RespondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.svc.Respond(r.Context(), req.MessageID, req.Payload)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ResponseIDReply{ResponseID: id})
}

// handleResponses handles GET /responses.
func (s *HubServer) handleResponses(w http.ResponseWriter, r *http.Request) {
	e, ok := s.requireEntity(w, r)
	if !ok {
		return
	}
	responses, err := s.svc.PollResponses(r.Context(), e.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]wire.ResponseEnvelope, 0, len(responses))
	for _, resp := range responses {
		out = append(out, wire.ResponseEnvelope{Message: resp.Message, Response: resp.Payload})
	}
	writeJSON(w, http.StatusOK, wire.ResponsesReply{Responses: out})
}

// handleVersion handles GET /version.
func (s *HubServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.VersionReply{Version: s.svc.Version()})
}

// handleHealth handles GET /health.
func (s *HubServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEntities handles GET /entities.
// Returns the connected tutors and plugins, most recently active first.
func (s *HubServer) handleEntities(w http.ResponseWriter, _ *http.Request) {
	entries := s.svc.Registry().Roster()
	writeJSON(w, http.StatusOK, map[string]any{"entities": entries, "count": len(entries)})
}

// requireEntity resolves the X-HPIT-Entity header, writing 401 when it is
// missing or no longer connected.
func (s *HubServer) requireEntity(w http.ResponseWriter, r *http.Request) (model.Entity, bool) {
	e, err := s.authenticate(r.Header.Get(wire.EntityHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return model.Entity{}, false
	}
	return e, true
}

// decodeBody decodes a JSON request body, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// fail writes err with the status it maps to. Unexpected failures are logged
// and reported without detail.
func (s *HubServer) fail(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		writeError(w, code, "internal server error")
		return
	}
	writeError(w, code, err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
