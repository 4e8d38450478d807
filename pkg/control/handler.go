package control

import (
	"context"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&LauncherServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

type appIDPayload struct {
	AppID string `json:"app_id"`
}

func (h *grpcServerHandler) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Status server handler done")
	return toStruct(map[string]string{"status": status})
}

func (h *grpcServerHandler) ListApps(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	apps, err := h.handler.ListApps(ctx)
	if err != nil {
		h.logger.Errorf("ListApps server handler: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("ListApps server handler done, apps: %d", len(apps))
	return toStruct(map[string]interface{}{"apps": apps})
}

func (h *grpcServerHandler) Launch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := appIDFrom(in)
	if err != nil {
		return nil, toStatusError(err)
	}
	result, err := h.handler.Launch(ctx, id)
	if err != nil {
		h.logger.Errorf("Launch server handler, id: %s, error: %v", id, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Launch server handler done, id: %s, status: %s", id, result.Status)
	return toStruct(result)
}

func (h *grpcServerHandler) Stop(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := appIDFrom(in)
	if err != nil {
		return nil, toStatusError(err)
	}
	result, err := h.handler.Stop(ctx, id)
	if err != nil {
		h.logger.Errorf("Stop server handler, id: %s, error: %v", id, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("Stop server handler done, id: %s, status: %s", id, result.Status)
	return toStruct(result)
}

func appIDFrom(in *structpb.Struct) (string, error) {
	var payload appIDPayload
	if err := fromStruct(in, &payload); err != nil {
		return "", err
	}
	if payload.AppID == "" {
		return "", errors.NewValidationError("app_id is required", nil)
	}
	return payload.AppID, nil
}
