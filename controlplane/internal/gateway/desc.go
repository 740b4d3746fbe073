package gateway

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	InspectServiceName = "vrouter.Inspect"
	LoggingServiceName = "vrouter.Logging"
)

// InspectServer exposes the router state.
type InspectServer interface {
	ListRoutes(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ListNeighbours(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ListInterfaces(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// LoggingServer exposes logging configuration at runtime.
type LoggingServer interface {
	UpdateLevel(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// InspectServiceDesc describes the vrouter.Inspect service.
var InspectServiceDesc = grpc.ServiceDesc{
	ServiceName: InspectServiceName,
	HandlerType: (*InspectServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListRoutes",
			Handler:    unaryHandler(InspectServiceName, "ListRoutes", InspectServer.ListRoutes),
		},
		{
			MethodName: "ListNeighbours",
			Handler:    unaryHandler(InspectServiceName, "ListNeighbours", InspectServer.ListNeighbours),
		},
		{
			MethodName: "ListInterfaces",
			Handler:    unaryHandler(InspectServiceName, "ListInterfaces", InspectServer.ListInterfaces),
		},
	},
	Metadata: "vrouter/inspect",
}

// LoggingServiceDesc describes the vrouter.Logging service.
var LoggingServiceDesc = grpc.ServiceDesc{
	ServiceName: LoggingServiceName,
	HandlerType: (*LoggingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "UpdateLevel",
			Handler:    unaryHandler(LoggingServiceName, "UpdateLevel", LoggingServer.UpdateLevel),
		},
	},
	Metadata: "vrouter/logging",
}

// unaryHandler adapts a typed service method to grpc.MethodHandler.
func unaryHandler[S any, Req any, Resp any, PReq interface {
	*Req
}](
	service string,
	method string,
	call func(S, context.Context, PReq) (Resp, error),
) grpc.MethodHandler {
	fullMethod := "/" + service + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}
