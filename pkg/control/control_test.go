package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type MockContract struct {
	mock.Mock
}

func (m *MockContract) Status(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockContract) ListApps(ctx context.Context) ([]launcher.AppView, error) {
	args := m.Called(ctx)
	apps, _ := args.Get(0).([]launcher.AppView)
	return apps, args.Error(1)
}

func (m *MockContract) Launch(ctx context.Context, id string) (launcher.Result, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(launcher.Result), args.Error(1)
}

func (m *MockContract) Stop(ctx context.Context, id string) (launcher.Result, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(launcher.Result), args.Error(1)
}

func startTestServer(t *testing.T, handler domain.Contract) domain.Contract {
	t.Helper()

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	RegisterGRPCServerHandler(server, handler, logging.Nop())
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewGRPCClientGateway(conn, logging.Nop())
}

func TestControl_StatusAndList(t *testing.T) {
	handler := &MockContract{}
	checked := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	handler.On("Status", mock.Anything).Return("running", nil)
	handler.On("ListApps", mock.Anything).Return([]launcher.AppView{{
		ID:        "web",
		Name:      "Web",
		Workspace: "/src/web",
		Status:    launcher.StatusRunning,
		Message:   "running",
		LastCheck: checked,
		Ports:     []int{5173, 8000},
		OpenURLs:  []string{"http://localhost:5173"},
	}}, nil)
	client := startTestServer(t, handler)
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", status)

	apps, err := client.ListApps(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "web", apps[0].ID)
	assert.Equal(t, launcher.StatusRunning, apps[0].Status)
	assert.True(t, checked.Equal(apps[0].LastCheck))
	assert.Equal(t, []int{5173, 8000}, apps[0].Ports)
	handler.AssertExpectations(t)
}

func TestControl_LaunchAndStop(t *testing.T) {
	handler := &MockContract{}
	handler.On("Launch", mock.Anything, "web").Return(launcher.Result{
		Status:   launcher.ResultSuccess,
		Message:  "started successfully",
		OpenURLs: []string{"http://localhost:5173"},
	}, nil)
	handler.On("Stop", mock.Anything, "web").Return(launcher.Result{Status: launcher.ResultSuccess, Message: "Application stopped"}, nil)
	handler.On("Launch", mock.Anything, "ghost").Return(launcher.Result{}, errors.NewNotFoundError("application not found", nil))
	client := startTestServer(t, handler)
	ctx := context.Background()

	result, err := client.Launch(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "started successfully", result.Message)
	assert.Equal(t, []string{"http://localhost:5173"}, result.OpenURLs)

	result, err = client.Stop(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "Application stopped", result.Message)

	_, err = client.Launch(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, "application not found", errors.MessageOf(err))
}

func TestControl_LaunchRequiresAppID(t *testing.T) {
	handler := &MockContract{}
	client := startTestServer(t, handler)

	_, err := client.Launch(context.Background(), "")

	assert.True(t, errors.IsValidationError(err))
	handler.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
}
