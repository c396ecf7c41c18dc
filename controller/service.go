package controller

import (
	"context"

	"google.golang.org/grpc"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "suzukikasami.Controller"

// ControllerServer is the gRPC surface of the engine. Requests and responses
// are structpb.Struct values holding the JSON form of the algorithms types.
type ControllerServer interface {
	Request(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Exit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MessageLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CSAccessLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ControllerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControllerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControllerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var controllerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Request", ControllerServer.Request),
		unaryMethod("Enter", ControllerServer.Enter),
		unaryMethod("Exit", ControllerServer.Exit),
		unaryMethod("State", ControllerServer.State),
		unaryMethod("MessageLog", ControllerServer.MessageLog),
		unaryMethod("CSAccessLog", ControllerServer.CSAccessLog),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "suzukikasami/controller",
}

func RegisterControllerServer(s grpc.ServiceRegistrar, srv ControllerServer) {
	s.RegisterService(&controllerServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}
