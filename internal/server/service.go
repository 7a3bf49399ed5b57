package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the jnlpguard.v1.Broker service.
const (
	ServiceName          = "jnlpguard.v1.Broker"
	MethodSubmit         = "/" + ServiceName + "/Submit"
	MethodForget         = "/" + ServiceName + "/Forget"
	MethodListRemembered = "/" + ServiceName + "/ListRemembered"
)

// BrokerServer is the server side of jnlpguard.v1.Broker.
type BrokerServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Forget(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRemembered(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes jnlpguard.v1.Broker for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unary(MethodSubmit, BrokerServer.Submit)},
		{MethodName: "Forget", Handler: unary(MethodForget, BrokerServer.Forget)},
		{MethodName: "ListRemembered", Handler: unary(MethodListRemembered, BrokerServer.ListRemembered)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jnlpguard/v1/broker.proto",
}

type unaryMethod func(BrokerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BrokerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BrokerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
