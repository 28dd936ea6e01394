package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	body        string
	contentType string
	entity      string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.contentType = r.Header.Get("Content-Type")
	h.entity = r.Header.Get(wire.EntityHeader)
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, "")
	return c, srv
}

// --- Identity ---

func TestHTTPClient_Connect(t *testing.T) {
	h := &testHandler{responseBody: `{"entity_name":"tutor_algebra","entity_id":"ent-1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	reply, err := c.Connect(context.Background(), model.KindTutor, "algebra")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/tutor/connect/algebra" {
		t.Errorf("request = %s %s, want POST /tutor/connect/algebra", h.method, h.path)
	}
	if reply.EntityName != "tutor_algebra" || reply.EntityID != "ent-1" {
		t.Errorf("reply = %+v", reply)
	}
	if c.EntityID() != "ent-1" {
		t.Errorf("EntityID() = %q, want ent-1", c.EntityID())
	}

	// Later calls present the identity.
	h.responseBody = `{"version":"2.1"}`
	if _, err := c.Version(context.Background()); err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if h.entity != "ent-1" {
		t.Errorf("%s = %q, want ent-1", wire.EntityHeader, h.entity)
	}
}

func TestHTTPClient_Disconnect_UsesConnectedKind(t *testing.T) {
	h := &testHandler{responseBody: `{"entity_name":"tutor_a","entity_id":"ent-1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.Connect(context.Background(), model.KindTutor, "a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.responseBody = `"OK"`
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if h.path != "/tutor/disconnect" {
		t.Errorf("path = %q, want /tutor/disconnect", h.path)
	}
	if h.entity != "ent-1" {
		t.Errorf("disconnect sent entity %q, want ent-1", h.entity)
	}
	if c.EntityID() != "" {
		t.Errorf("EntityID() after disconnect = %q, want empty", c.EntityID())
	}
}

func TestHTTPClient_Disconnect_DefaultsToPlugin(t *testing.T) {
	h := &testHandler{responseBody: `"OK"`}
	c, srv := newTestClient(h)
	defer srv.Close()
	c.SetEntityID("ent-9")

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if h.path != "/plugin/disconnect" {
		t.Errorf("path = %q, want /plugin/disconnect", h.path)
	}
}

// --- Subscriptions ---

func TestHTTPClient_Subscribe(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status string
	}{
		{"created", `"OK"`, "OK"},
		{"exists", `"EXISTS"`, "EXISTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &testHandler{responseBody: tt.body}
			c, srv := newTestClient(h)
			defer srv.Close()

			got, err := c.Subscribe(context.Background(), "kt", "tutorgen.kt_trace")
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}
			if h.path != "/plugin/kt/subscribe/tutorgen.kt_trace" {
				t.Errorf("path = %q", h.path)
			}
			if got != tt.status {
				t.Errorf("status = %q, want %q", got, tt.status)
			}
		})
	}
}

func TestHTTPClient_Unsubscribe(t *testing.T) {
	h := &testHandler{responseBody: `"DOES_NOT_EXIST"`}
	c, srv := newTestClient(h)
	defer srv.Close()

	got, err := c.Unsubscribe(context.Background(), "kt", "x")
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/plugin/kt/unsubscribe/x" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if got != "DOES_NOT_EXIST" {
		t.Errorf("status = %q, want DOES_NOT_EXIST", got)
	}
}

func TestHTTPClient_Subscribe_URLEscaping(t *testing.T) {
	h := &testHandler{responseBody: `"OK"`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.Subscribe(context.Background(), "kt", "a/b"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if h.rawPath != "/plugin/kt/subscribe/a%2Fb" {
		t.Errorf("rawPath = %q, want escaped slash", h.rawPath)
	}
}

func TestHTTPClient_Subscriptions(t *testing.T) {
	h := &testHandler{responseBody: `{"subscriptions":["a","b"]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	got, err := c.Subscriptions(context.Background(), "kt")
	if err != nil {
		t.Fatalf("Subscriptions() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/plugin/kt/subscriptions" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("subscriptions = %v", got)
	}
}

// --- Messages ---

func TestHTTPClient_Publish(t *testing.T) {
	h := &testHandler{responseBody: `{"message_id":"m1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()
	c.SetEntityID("ent-1")

	id, err := c.Publish(context.Background(), "tutorgen.kt_trace", map[string]any{"student_id": "s1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "m1" {
		t.Errorf("id = %q, want m1", id)
	}
	if h.path != "/message" || h.contentType != "application/json" {
		t.Errorf("path = %q content-type = %q", h.path, h.contentType)
	}

	var body wire.PublishRequest
	if err := json.Unmarshal([]byte(h.body), &body); err != nil {
		t.Fatalf("unmarshaling request body: %v", err)
	}
	if body.Name != "tutorgen.kt_trace" {
		t.Errorf("name = %q", body.Name)
	}
	if string(body.Payload) != `{"student_id":"s1"}` {
		t.Errorf("payload = %s", body.Payload)
	}
}

func TestHTTPClient_Publish_RawPayloadPassesThrough(t *testing.T) {
	h := &testHandler{responseBody: `{"message_id":"m1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.Publish(context.Background(), "x", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !strings.Contains(h.body, `"payload":{"a":1}`) {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_Transaction(t *testing.T) {
	h := &testHandler{responseBody: `{"message_id":"m2"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	id, err := c.Transaction(context.Background(), map[string]string{"outcome": "correct"})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if id != "m2" || h.path != "/transaction" {
		t.Errorf("id = %q path = %q", id, h.path)
	}
	if !strings.Contains(h.body, `"payload":{"outcome":"correct"}`) {
		t.Errorf("body = %s", h.body)
	}
}

func TestHTTPClient_Messages(t *testing.T) {
	tests := []struct {
		channel model.Channel
		mode    wire.ReadMode
		path    string
		key     string
	}{
		{model.ChannelMessages, wire.ModeList, "/plugin/kt/messages/list", "messages"},
		{model.ChannelMessages, wire.ModeHistory, "/plugin/kt/messages/history", "message-history"},
		{model.ChannelMessages, wire.ModePreview, "/plugin/kt/messages/preview", "message-preview"},
		{model.ChannelTransactions, wire.ModeList, "/plugin/kt/transactions/list", "transactions"},
		{model.ChannelTransactions, wire.ModeHistory, "/plugin/kt/transactions/history", "transaction-history"},
		{model.ChannelTransactions, wire.ModePreview, "/plugin/kt/transactions/preview", "transaction-preview"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h := &testHandler{responseBody: `{"` + tt.key + `":[{"event_name":"e","message":{"message_id":"m1"}}]}`}
			c, srv := newTestClient(h)
			defer srv.Close()

			got, err := c.Messages(context.Background(), "kt", tt.channel, tt.mode)
			if err != nil {
				t.Fatalf("Messages() error = %v", err)
			}
			if h.path != tt.path {
				t.Errorf("path = %q, want %q", h.path, tt.path)
			}
			if len(got) != 1 || got[0].EventName != "e" {
				t.Fatalf("envelopes = %+v", got)
			}
			if string(got[0].Message) != `{"message_id":"m1"}` {
				t.Errorf("message = %s", got[0].Message)
			}
		})
	}
}

// --- Responses ---

func TestHTTPClient_Respond(t *testing.T) {
	h := &testHandler{responseBody: `{"response_id":"rs-1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	id, err := c.Respond(context.Background(), "m1", map[string]float64{"probability_known": 0.75})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if id != "rs-1" || h.path != "/response" {
		t.Errorf("id = %q path = %q", id, h.path)
	}
	var body wire.RespondRequest
	if err := json.Unmarshal([]byte(h.body), &body); err != nil {
		t.Fatalf("unmarshaling request body: %v", err)
	}
	if body.MessageID != "m1" {
		t.Errorf("message_id = %q", body.MessageID)
	}
}

func TestHTTPClient_Responses(t *testing.T) {
	h := &testHandler{responseBody: `{"responses":[{"message":{"message_id":"m1","event_name":"e","payload":{},"entity_id":"ent-1"},"response":{"ok":true}}]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	got, err := c.Responses(context.Background())
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Message.MessageID != "m1" || got[0].Message.EntityID != "ent-1" {
		t.Errorf("snapshot = %+v", got[0].Message)
	}
	if string(got[0].Response) != `{"ok":true}` {
		t.Errorf("response = %s", got[0].Response)
	}
}

// --- Misc ---

func TestHTTPClient_Version(t *testing.T) {
	h := &testHandler{responseBody: `{"version":"2.1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != "2.1" || h.path != "/version" {
		t.Errorf("version = %q path = %q", v, h.path)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/health" {
		t.Errorf("request = %s %s, want GET /health", h.method, h.path)
	}
	if status != "ok" {
		t.Errorf("status = %q, want 'ok'", status)
	}
}

func TestHTTPClient_BearerToken(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "s3cret")
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", h.auth)
	}
	if h.entity != "" {
		t.Errorf("entity header sent before connect: %q", h.entity)
	}
}

// --- Error handling ---

func TestHTTPClient_Error_Unauthorized(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusUnauthorized,
		responseBody: `{"error": "missing entity identity"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.Publish(context.Background(), "x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Message != "missing entity identity" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestHTTPClient_Error_DomainReply(t *testing.T) {
	h := &testHandler{responseBody: `{"error":"message m1 not found"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	id, err := c.Respond(context.Background(), "m1", map[string]any{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Respond = %q, %v; want *APIError", id, err)
	}
	if apiErr.StatusCode != http.StatusOK || apiErr.Message != "message m1 not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestErrorReply(t *testing.T) {
	for _, tc := range []struct {
		body string
		want string
		ok   bool
	}{
		{`{"error":"x"}`, "x", true},
		{`{"response_id":"rs-1"}`, "", false},
		{`"OK"`, "", false},
		{`{"error":{"code":1}}`, "", false},
		{`not json`, "", false},
	} {
		got, ok := errorReply([]byte(tc.body))
		if got != tc.want || ok != tc.ok {
			t.Errorf("errorReply(%s) = %q, %v; want %q, %v", tc.body, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal server error"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Responses(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Message != "internal server error" {
		t.Errorf("message = %q, want 'internal server error'", apiErr.Message)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{404, `{"error":"message m1 not found"}`, "hub returned 404 Not Found: message m1 not found"},
		{502, "bad gateway\n", "hub returned 502 Bad Gateway: bad gateway"},
		{400, `{"detail":"x"}`, `hub returned 400 Bad Request: {"detail":"x"}`},
		{200, `{"error":"message m1 not found"}`, "hub rejected request: message m1 not found"},
	}
	for _, tt := range tests {
		if got := apiError(tt.status, []byte(tt.body)).Error(); got != tt.want {
			t.Errorf("apiError(%d, %s) = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestPluginPath(t *testing.T) {
	if got := pluginPath("kt"); got != "/plugin/kt" {
		t.Errorf("pluginPath = %q", got)
	}
	if got := pluginPath("hint factory", "subscribe", "a/b"); got != "/plugin/hint%20factory/subscribe/a%2Fb" {
		t.Errorf("pluginPath = %q", got)
	}
}

func TestWithHTTPClient(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	custom := &http.Client{Timeout: time.Second}
	c := NewHTTPClient(srv.URL, "", WithHTTPClient(custom))
	if c.hc != custom {
		t.Fatal("option not applied")
	}
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error = %q, want to contain 'context canceled'", err.Error())
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/", "")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want 'http://localhost:8080'", c.baseURL)
	}
}

func TestHTTPClient_ConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	c.SetEntityID("ent-1")

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := c.Responses(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Responses() error = %v", err)
		}
	}
}
