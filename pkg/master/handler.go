package master

import (
	"context"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// LauncherService is what the control handler needs from the lifecycle manager
type LauncherService interface {
	List(ctx context.Context) ([]launcher.AppView, error)
	Launch(ctx context.Context, id string) launcher.Result
	Stop(ctx context.Context, id string) launcher.Result
}

func NewLauncherHandler(service LauncherService, state func() MasterState, logger logging.Logger) domain.Contract {
	return &launcherHandler{
		service: service,
		state:   state,
		logger:  logger,
	}
}

type launcherHandler struct {
	service LauncherService
	state   func() MasterState
	logger  logging.Logger
}

func (h *launcherHandler) Status(ctx context.Context) (string, error) {
	return "hsu-launcher: " + string(h.state()), nil
}

func (h *launcherHandler) ListApps(ctx context.Context) ([]launcher.AppView, error) {
	return h.service.List(ctx)
}

// Launch reports unknown apps as errors; every other outcome travels in the result
func (h *launcherHandler) Launch(ctx context.Context, id string) (launcher.Result, error) {
	result := h.service.Launch(ctx, id)
	if errors.IsNotFoundError(result.Err) {
		return launcher.Result{}, result.Err
	}
	return result, nil
}

func (h *launcherHandler) Stop(ctx context.Context, id string) (launcher.Result, error) {
	result := h.service.Stop(ctx, id)
	if errors.IsNotFoundError(result.Err) {
		return launcher.Result{}, result.Err
	}
	return result, nil
}
