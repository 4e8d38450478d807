package control

import (
	"context"
	"encoding/json"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "hsu.launcher.LauncherService"

// LauncherServiceServer carries every payload as a structpb.Struct, so no generated code is needed
type LauncherServiceServer interface {
	Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListApps(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Launch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LauncherServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var LauncherServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LauncherServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unaryHandler("Status", LauncherServiceServer.Status)},
		{MethodName: "ListApps", Handler: unaryHandler("ListApps", LauncherServiceServer.ListApps)},
		{MethodName: "Launch", Handler: unaryHandler("Launch", LauncherServiceServer.Launch)},
		{MethodName: "Stop", Handler: unaryHandler("Stop", LauncherServiceServer.Stop)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler(method string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LauncherServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LauncherServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// toStruct converts any JSON-serializable value into a Struct
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode payload", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.NewInternalError("failed to encode payload", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode payload", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into v through its JSON form
func fromStruct(s *structpb.Struct, v interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return errors.NewInternalError("failed to decode payload", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewValidationError("failed to decode payload", err)
	}
	return nil
}

func toStatusError(err error) error {
	code := codes.Internal
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeConfiguration:
		code = codes.InvalidArgument
	case errors.ErrorTypeNotFound:
		code = codes.NotFound
	case errors.ErrorTypeConflict, errors.ErrorTypeAlreadyStarting:
		code = codes.AlreadyExists
	case errors.ErrorTypeCancelled:
		code = codes.Canceled
	case errors.ErrorTypeTimeout:
		code = codes.DeadlineExceeded
	}
	return status.Error(code, errors.MessageOf(err))
}

func fromStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("control call failed", err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return errors.NewValidationError(st.Message(), nil)
	case codes.NotFound:
		return errors.NewNotFoundError(st.Message(), nil)
	case codes.AlreadyExists:
		return errors.NewConflictError(st.Message(), nil)
	case codes.Canceled:
		return errors.NewCancelledError(st.Message(), nil)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError(st.Message(), nil)
	case codes.Unavailable:
		return errors.NewNetworkError(st.Message(), nil)
	}
	return errors.NewInternalError(st.Message(), nil)
}
