package domain

import (
	"context"

	"github.com/core-tools/hsu-launcher/pkg/launcher"
)

// Contract is the control surface shared by the gRPC server handler and client gateway
type Contract interface {
	Status(ctx context.Context) (string, error)
	ListApps(ctx context.Context) ([]launcher.AppView, error)
	Launch(ctx context.Context, id string) (launcher.Result, error)
	Stop(ctx context.Context, id string) (launcher.Result, error)
}
