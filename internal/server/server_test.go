package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/hpit/internal/client"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store/memory"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// requireCode asserts that err is a gRPC error with the given status code.
func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected gRPC error with code %v, got nil", code)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status error, got %v", err)
	}
	if st.Code() != code {
		t.Fatalf("expected code=%v, got %v (%s)", code, st.Code(), st.Message())
	}
}

// startGRPC serves a fresh hub over bufconn and returns the hub and a
// dial option that reaches it.
func startGRPC(t *testing.T, token string) (*HubServer, []grpc.DialOption) {
	t.Helper()
	hub := NewHubServer(memory.New(), nil)
	srv := NewGRPCServer(hub, token)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return hub, []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func newGRPCClient(t *testing.T, token string, opts []grpc.DialOption) *client.GRPCClient {
	t.Helper()
	c, err := client.NewGRPCClient("passthrough:///bufnet", token, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGRPC_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, opts := startGRPC(t, "")

	plugin := newGRPCClient(t, "", opts)
	if _, err := plugin.Connect(ctx, model.KindPlugin, "kt"); err != nil {
		t.Fatal(err)
	}
	if res, err := plugin.Subscribe(ctx, "kt", "kt_trace"); err != nil || res != "OK" {
		t.Fatalf("Subscribe = %q, %v", res, err)
	}
	if res, _ := plugin.Subscribe(ctx, "kt", "kt_trace"); res != "EXISTS" {
		t.Fatalf("second Subscribe = %q", res)
	}
	subs, err := plugin.Subscriptions(ctx, "kt")
	if err != nil || len(subs) != 1 || subs[0] != "kt_trace" {
		t.Fatalf("Subscriptions = %v, %v", subs, err)
	}

	tutor := newGRPCClient(t, "", opts)
	reply, err := tutor.Connect(ctx, model.KindTutor, "tutor")
	if err != nil {
		t.Fatal(err)
	}
	msgID, err := tutor.Publish(ctx, "kt_trace", map[string]any{"skill_id": "s", "correct": true})
	if err != nil {
		t.Fatal(err)
	}

	preview, err := plugin.Messages(ctx, "kt", model.ChannelMessages, wire.ModePreview)
	if err != nil || len(preview) != 1 {
		t.Fatalf("preview = %v, %v", preview, err)
	}
	list, err := plugin.Messages(ctx, "kt", model.ChannelMessages, wire.ModeList)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}
	if again, _ := plugin.Messages(ctx, "kt", model.ChannelMessages, wire.ModeList); len(again) != 0 {
		t.Fatalf("list after consume = %v", again)
	}
	env := list[0]
	if env.EventName != "kt_trace" {
		t.Errorf("EventName = %q", env.EventName)
	}
	body := string(env.Message)
	for _, want := range []string{`"message_id":"` + msgID + `"`, `"sender_entity_id":"` + reply.EntityID + `"`} {
		if !strings.Contains(body, want) {
			t.Errorf("delivery body %s missing %s", body, want)
		}
	}

	if _, err := plugin.Respond(ctx, msgID, map[string]any{"probability_known": 0.5}); err != nil {
		t.Fatal(err)
	}
	responses, err := tutor.Responses(ctx)
	if err != nil || len(responses) != 1 {
		t.Fatalf("Responses = %v, %v", responses, err)
	}
	if responses[0].Message.MessageID != msgID {
		t.Errorf("response answers %q", responses[0].Message.MessageID)
	}
	if again, _ := tutor.Responses(ctx); len(again) != 0 {
		t.Errorf("responses redelivered: %v", again)
	}

	if v, err := tutor.Version(ctx); err != nil || v == "" {
		t.Errorf("Version = %q, %v", v, err)
	}
	if err := tutor.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = tutor.Publish(ctx, "kt_trace", map[string]any{})
	requireCode(t, err, codes.Unauthenticated)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	ctx := context.Background()
	_, opts := startGRPC(t, "")
	c := newGRPCClient(t, "", opts)

	for _, tc := range []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"Publish/NoIdentity", func() error {
			_, err := c.Publish(ctx, "e", map[string]any{})
			return err
		}, codes.Unauthenticated},
		{"Responses/NoIdentity", func() error {
			_, err := c.Responses(ctx)
			return err
		}, codes.Unauthenticated},
		{"Respond/UnknownMessage", func() error {
			_, err := c.Respond(ctx, "missing", map[string]any{})
			return err
		}, codes.NotFound},
		{"Subscribe/MissingEvent", func() error {
			_, err := c.Subscribe(ctx, "kt", "")
			return err
		}, codes.InvalidArgument},
		{"Messages/BadMode", func() error {
			_, err := c.Messages(ctx, "kt", model.ChannelMessages, "sideways")
			return err
		}, codes.InvalidArgument},
		{"Messages/BadChannel", func() error {
			_, err := c.Messages(ctx, "kt", "gossip", wire.ModeList)
			return err
		}, codes.InvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireCode(t, tc.call(), tc.code)
		})
	}
}

func TestGRPC_AuthToken(t *testing.T) {
	ctx := context.Background()
	_, opts := startGRPC(t, "secret")

	anon := newGRPCClient(t, "", opts)
	_, err := anon.Connect(ctx, model.KindTutor, "t")
	requireCode(t, err, codes.Unauthenticated)
	if _, err := anon.Version(ctx); err != nil {
		t.Errorf("Version requires token: %v", err)
	}

	authed := newGRPCClient(t, "secret", opts)
	if _, err := authed.Connect(ctx, model.KindTutor, "t"); err != nil {
		t.Errorf("Connect with token: %v", err)
	}
}

func TestGRPC_HealthService(t *testing.T) {
	_, opts := startGRPC(t, "secret")
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: wire.ServiceName})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		http int
		grpc codes.Code
	}{
		{"input", inputError("bad"), http.StatusBadRequest, codes.InvalidArgument},
		{"validation", model.ValidatePublish("", nil), http.StatusOK, codes.InvalidArgument},
		{"unauthenticated", errUnauthenticated, http.StatusUnauthorized, codes.Unauthenticated},
		{"missing field", model.Errorf(model.ErrMissingField, "x"), http.StatusOK, codes.InvalidArgument},
		{"skill id", model.Errorf(model.ErrInvalidSkillID, "x"), http.StatusOK, codes.InvalidArgument},
		{"not found", model.Errorf(model.ErrNotFound, "x"), http.StatusOK, codes.NotFound},
		{"denied", model.Errorf(model.ErrAccessDenied, "x"), http.StatusOK, codes.PermissionDenied},
		{"wrapped", fmt.Errorf("ctx: %w", model.Errorf(model.ErrNotFound, "x")), http.StatusOK, codes.NotFound},
		{"unexpected", model.Errorf(model.ErrUnexpected, "x"), http.StatusInternalServerError, codes.Internal},
		{"other", errors.New("disk"), http.StatusInternalServerError, codes.Internal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := httpStatus(tc.err); got != tc.http {
				t.Errorf("httpStatus = %d, want %d", got, tc.http)
			}
			if got := status.Code(grpcError(tc.err)); got != tc.grpc {
				t.Errorf("grpcError code = %v, want %v", got, tc.grpc)
			}
		})
	}
}
