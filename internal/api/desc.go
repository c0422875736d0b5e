// Package api exposes the chat service over gRPC on the session socket.
// Requests and responses are structpb.Struct values; the service
// descriptor is declared by hand.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// Unary method names.
const (
	MethodGetStatus      = "GetStatus"
	MethodConnect        = "Connect"
	MethodDisconnect     = "Disconnect"
	MethodListDialogs    = "ListDialogs"
	MethodListMessages   = "ListMessages"
	MethodSendText       = "SendText"
	MethodSendTyping     = "SendTyping"
	MethodMarkRead       = "MarkRead"
	MethodEditMessage    = "EditMessage"
	MethodDeleteMessage  = "DeleteMessage"
	MethodSearchMessages = "SearchMessages"
	MethodGetUser        = "GetUser"
	MethodLogout         = "Logout"
	MethodWatch          = "Watch"
)

// ControlServer is the server API of the control service.
type ControlServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDialogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, WatchServer) error
}

// WatchServer is the server side of the Watch stream.
type WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchServer struct {
	grpc.ServerStream
}

func (x *watchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).Watch(in, &watchServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc of the control service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodGetStatus, ControlServer.GetStatus),
		unaryHandler(MethodConnect, ControlServer.Connect),
		unaryHandler(MethodDisconnect, ControlServer.Disconnect),
		unaryHandler(MethodListDialogs, ControlServer.ListDialogs),
		unaryHandler(MethodListMessages, ControlServer.ListMessages),
		unaryHandler(MethodSendText, ControlServer.SendText),
		unaryHandler(MethodSendTyping, ControlServer.SendTyping),
		unaryHandler(MethodMarkRead, ControlServer.MarkRead),
		unaryHandler(MethodEditMessage, ControlServer.EditMessage),
		unaryHandler(MethodDeleteMessage, ControlServer.DeleteMessage),
		unaryHandler(MethodSearchMessages, ControlServer.SearchMessages),
		unaryHandler(MethodGetUser, ControlServer.GetUser),
		unaryHandler(MethodLogout, ControlServer.Logout),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/control.proto",
}
