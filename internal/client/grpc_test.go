package client

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// recordedCall is what the fake server saw for one RPC.
type recordedCall struct {
	method string
	entity string
	auth   string
	req    map[string]any
}

// fakeBroker answers every method with a canned Struct and records the call.
type fakeBroker struct {
	mu      sync.Mutex
	calls   []recordedCall
	replies map[string]map[string]any
	fail    map[string]error
}

func (f *fakeBroker) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	in := &structpb.Struct{}
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	md, _ := metadata.FromIncomingContext(stream.Context())
	call := recordedCall{method: method, req: in.AsMap()}
	if v := md.Get(wire.EntityMetadataKey); len(v) > 0 {
		call.entity = v[0]
	}
	if v := md.Get("authorization"); len(v) > 0 {
		call.auth = v[0]
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	reply, err := f.replies[method], f.fail[method]
	f.mu.Unlock()
	if err != nil {
		return err
	}

	out, err := structpb.NewStruct(reply)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}

func (f *fakeBroker) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newGRPCTestClient(t *testing.T, token string) (*GRPCClient, *fakeBroker) {
	t.Helper()
	fake := &fakeBroker{replies: map[string]map[string]any{}, fail: map[string]error{}}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(fake.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, fake
}

func TestGRPCClient_ConnectCarriesIdentity(t *testing.T) {
	c, fake := newGRPCTestClient(t, "tok")
	fake.replies[wire.MethodConnect] = map[string]any{"entity_name": "plugin_kt", "entity_id": "ent-7"}
	fake.replies[wire.MethodPublish] = map[string]any{"message_id": "m1"}

	reply, err := c.Connect(context.Background(), model.KindPlugin, "kt")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if reply.EntityID != "ent-7" || c.EntityID() != "ent-7" {
		t.Fatalf("reply = %+v, EntityID() = %q", reply, c.EntityID())
	}
	got := fake.last()
	if got.req["kind"] != "plugin" || got.req["name"] != "kt" {
		t.Errorf("connect request = %v", got.req)
	}
	if got.entity != "" {
		t.Errorf("connect sent identity %q before it existed", got.entity)
	}

	id, err := c.Publish(context.Background(), "tutorgen.kt_trace", map[string]any{"student_id": "s1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "m1" {
		t.Errorf("message id = %q, want m1", id)
	}
	got = fake.last()
	if got.method != wire.MethodPublish {
		t.Errorf("method = %q", got.method)
	}
	if got.entity != "ent-7" {
		t.Errorf("entity metadata = %q, want ent-7", got.entity)
	}
	if got.auth != "Bearer tok" {
		t.Errorf("authorization = %q", got.auth)
	}
	payload, _ := got.req["payload"].(map[string]any)
	if payload["student_id"] != "s1" {
		t.Errorf("payload = %v", got.req["payload"])
	}
}

func TestGRPCClient_Messages(t *testing.T) {
	c, fake := newGRPCTestClient(t, "")
	fake.replies[wire.MethodMessages] = map[string]any{
		"messages": []any{
			map[string]any{"event_name": "transaction", "message": map[string]any{"message_id": "m1"}},
		},
	}

	got, err := c.Messages(context.Background(), "kt", model.ChannelTransactions, wire.ModePreview)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 1 || got[0].EventName != "transaction" {
		t.Fatalf("envelopes = %+v", got)
	}
	req := fake.last().req
	if req["plugin"] != "kt" || req["channel"] != "transactions" || req["mode"] != "preview" {
		t.Errorf("request = %v", req)
	}
}

func TestGRPCClient_Responses(t *testing.T) {
	c, fake := newGRPCTestClient(t, "")
	c.SetEntityID("ent-1")
	fake.replies[wire.MethodResponses] = map[string]any{
		"responses": []any{
			map[string]any{
				"message":  map[string]any{"message_id": "m1", "event_name": "e", "payload": map[string]any{}, "entity_id": "ent-1"},
				"response": map[string]any{"probability_known": 0.75},
			},
		},
	}

	got, err := c.Responses(context.Background())
	if err != nil {
		t.Fatalf("Responses() error = %v", err)
	}
	if len(got) != 1 || got[0].Message.MessageID != "m1" {
		t.Fatalf("responses = %+v", got)
	}
	if string(got[0].Response) != `{"probability_known":0.75}` {
		t.Errorf("response = %s", got[0].Response)
	}
}

func TestGRPCClient_SubscribeStatus(t *testing.T) {
	c, fake := newGRPCTestClient(t, "")
	fake.replies[wire.MethodSubscribe] = map[string]any{"status": "EXISTS"}

	got, err := c.Subscribe(context.Background(), "kt", "e")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got != "EXISTS" {
		t.Errorf("status = %q, want EXISTS", got)
	}
}

func TestGRPCClient_ErrorStatusPropagates(t *testing.T) {
	c, fake := newGRPCTestClient(t, "")
	fake.fail[wire.MethodRespond] = status.Error(codes.NotFound, "message m9 not found")

	_, err := c.Respond(context.Background(), "m9", map[string]any{})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound (err = %v)", status.Code(err), err)
	}
}

func TestGRPCClient_Health(t *testing.T) {
	c, fake := newGRPCTestClient(t, "")
	fake.replies[wire.MethodVersion] = map[string]any{"version": "2.1"}

	got, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Health() = %q, want ok", got)
	}
}
