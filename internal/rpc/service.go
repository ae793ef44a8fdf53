package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "relay.v1.IngestionService"
	// SendEventMethod is the full method name used by interceptors and clients.
	SendEventMethod = "/" + ServiceName + "/SendEvent"
)

// EventRequest carries one opaque serialized event.
type EventRequest = wrapperspb.BytesValue

// EventResponse reports whether the event was accepted.
type EventResponse = wrapperspb.BoolValue

// IngestionServer is the server side of relay.v1.IngestionService.
type IngestionServer interface {
	SendEvent(ctx context.Context, req *EventRequest) (*EventResponse, error)
}

// RegisterIngestionServer registers srv on the gRPC server.
func RegisterIngestionServer(s grpc.ServiceRegistrar, srv IngestionServer) {
	s.RegisterService(&IngestionServiceDesc, srv)
}

func sendEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestionServer).SendEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SendEventMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestionServer).SendEvent(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestionServiceDesc describes relay.v1.IngestionService.
var IngestionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendEvent",
			Handler:    sendEventHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/v1/ingestion.proto",
}

// IngestionClient calls relay.v1.IngestionService.
type IngestionClient struct {
	cc grpc.ClientConnInterface
}

func NewIngestionClient(cc grpc.ClientConnInterface) *IngestionClient {
	return &IngestionClient{cc: cc}
}

func (c *IngestionClient) SendEvent(ctx context.Context, req *EventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)
	if err := c.cc.Invoke(ctx, SendEventMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
