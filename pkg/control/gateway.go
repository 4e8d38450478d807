package control

import (
	"context"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) invoke(ctx context.Context, method string, request interface{}, response interface{}) error {
	in, err := toStruct(request)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := gw.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		gw.logger.Errorf("%s client gateway: %v", method, err)
		return fromStatusError(err)
	}
	gw.logger.Debugf("%s client gateway done", method)
	return fromStruct(out, response)
}

func (gw *grpcClientGateway) Status(ctx context.Context) (string, error) {
	var response struct {
		Status string `json:"status"`
	}
	if err := gw.invoke(ctx, "Status", struct{}{}, &response); err != nil {
		return "", err
	}
	return response.Status, nil
}

func (gw *grpcClientGateway) ListApps(ctx context.Context) ([]launcher.AppView, error) {
	var response struct {
		Apps []launcher.AppView `json:"apps"`
	}
	if err := gw.invoke(ctx, "ListApps", struct{}{}, &response); err != nil {
		return nil, err
	}
	return response.Apps, nil
}

func (gw *grpcClientGateway) Launch(ctx context.Context, id string) (launcher.Result, error) {
	var result launcher.Result
	err := gw.invoke(ctx, "Launch", appIDPayload{AppID: id}, &result)
	return result, err
}

func (gw *grpcClientGateway) Stop(ctx context.Context, id string) (launcher.Result, error) {
	var result launcher.Result
	err := gw.invoke(ctx, "Stop", appIDPayload{AppID: id}, &result)
	return result, err
}
