package server

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the hpit.v1.Broker service, health and reflection, and returns
// the server ready to serve.
func NewGRPCServer(hub *HubServer, authToken string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor(hub.logger),
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(authToken)),
	}, opts...)
	srv := grpc.NewServer(opts...)

	srv.RegisterService(&brokerServiceDesc, &grpcBroker{hub: hub})

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return srv
}

// brokerServer is the hpit.v1.Broker service. Requests and replies are
// Struct documents shaped like the HTTP bodies.
type brokerServer interface {
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unsubscribe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscriptions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Messages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Respond(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Responses(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Version(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type brokerMethod func(brokerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary builds the descriptor of one Struct-in, Struct-out method.
func unary(name string, call brokerMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(brokerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + wire.ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(brokerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var brokerServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*brokerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Connect", brokerServer.Connect),
		unary("Disconnect", brokerServer.Disconnect),
		unary("Subscribe", brokerServer.Subscribe),
		unary("Unsubscribe", brokerServer.Unsubscribe),
		unary("Subscriptions", brokerServer.Subscriptions),
		unary("Publish", brokerServer.Publish),
		unary("Transaction", brokerServer.Transaction),
		unary("Messages", brokerServer.Messages),
		unary("Respond", brokerServer.Respond),
		unary("Responses", brokerServer.Responses),
		unary("Version", brokerServer.Version),
	},
	Streams: []grpc.StreamDesc{},
}

// grpcBroker implements brokerServer on a HubServer.
type grpcBroker struct {
	hub *HubServer
}

func decode(in *structpb.Struct, v any) error {
	if err := wire.FromStruct(in, v); err != nil {
		return grpcError(inputError(err.Error()))
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := wire.ToStruct(v)
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}

func (g *grpcBroker) caller(ctx context.Context) (model.Entity, error) {
	e, err := g.hub.authenticate(entityFromMetadata(ctx))
	if err != nil {
		return model.Entity{}, grpcError(err)
	}
	return e, nil
}

func (g *grpcBroker) Connect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.ConnectRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	e, err := g.hub.svc.Connect(ctx, req.Kind, req.Name)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.ConnectReply{EntityName: e.Name, EntityID: e.ID})
}

func (g *grpcBroker) Disconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	e, err := g.caller(ctx)
	if err != nil {
		return nil, err
	}
	g.hub.svc.Disconnect(ctx, e.ID)
	return encode(wire.StatusReply{Status: "OK"})
}

func (g *grpcBroker) Subscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.SubscriptionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := g.hub.svc.Subscribe(ctx, req.Plugin, req.Event)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.StatusReply{Status: res.String()})
}

func (g *grpcBroker) Unsubscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.SubscriptionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := g.hub.svc.Unsubscribe(ctx, req.Plugin, req.Event)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.StatusReply{Status: res.String()})
}

func (g *grpcBroker) Subscriptions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.SubscriptionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	subs, err := g.hub.svc.ListSubscriptions(ctx, req.Plugin)
	if err != nil {
		return nil, grpcError(err)
	}
	if subs == nil {
		subs = []string{}
	}
	return encode(wire.SubscriptionsReply{Subscriptions: subs})
}

func (g *grpcBroker) Publish(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, err := g.caller(ctx)
	if err != nil {
		return nil, err
	}
	var req wire.PublishRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	id, err := g.hub.svc.Publish(ctx, e.ID, req.Name, req.Payload)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.MessageIDReply{MessageID: id})
}

func (g *grpcBroker) Transaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	e, err := g.caller(ctx)
	if err != nil {
		return nil, err
	}
	var req wire.TransactionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	id, err := g.hub.svc.PublishTransaction(ctx, e.ID, req.Payload)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.MessageIDReply{MessageID: id})
}

func (g *grpcBroker) Messages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.MessagesRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Channel == "" {
		req.Channel = model.ChannelMessages
	}
	if req.Channel != model.ChannelMessages && req.Channel != model.ChannelTransactions {
		return nil, grpcError(inputError("unknown channel " + string(req.Channel)))
	}
	mode, ok := wire.ParseReadMode(string(req.Mode))
	if !ok {
		return nil, grpcError(inputError("unknown read mode " + string(req.Mode)))
	}

	deliveries, err := g.hub.svc.Deliveries(ctx, req.Plugin, req.Channel, mode.Broker())
	if err != nil {
		return nil, grpcError(err)
	}
	envelopes := make([]wire.Envelope, 0, len(deliveries))
	for _, d := range deliveries {
		envelopes = append(envelopes, wire.EnvelopeOf(d))
	}
	return encode(wire.MessagesReply{Messages: envelopes})
}

func (g *grpcBroker) Respond(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wire.RespondRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	id, err := g.hub.svc.Respond(ctx, req.MessageID, req.Payload)
	if err != nil {
		return nil, grpcError(err)
	}
	return encode(wire.ResponseIDReply{ResponseID: id})
}

func (g *grpcBroker) Responses(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	e, err := g.caller(ctx)
	if err != nil {
		return nil, err
	}
	responses, err := g.hub.svc.PollResponses(ctx, e.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	out := make([]wire.ResponseEnvelope, 0, len(responses))
	for _, r := range responses {
		out = append(out, wire.ResponseEnvelope{Message: r.Message, Response: r.Payload})
	}
	return encode(wire.ResponsesReply{Responses: out})
}

func (g *grpcBroker) Version(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return encode(wire.VersionReply{Version: g.hub.svc.Version()})
}
