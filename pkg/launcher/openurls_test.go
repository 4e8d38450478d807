package launcher

import (
	"context"
	"testing"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/shell"

	"github.com/stretchr/testify/assert"
)

func stubResolver(host shell.HostOS, ip string, reachable bool, listener string) (*OpenURLResolver, *int) {
	lookups := 0
	r := NewOpenURLResolver(host)
	r.lookupIP = func(ctx context.Context, distro string) (string, error) {
		lookups++
		return ip, nil
	}
	r.reachable = func(ctx context.Context, host string, port int) bool { return reachable }
	r.listener = func(ctx context.Context, port int) string { return listener }
	return r, &lookups
}

func wslApp() appconfig.AppDefinition {
	return appconfig.AppDefinition{
		ID:        "web",
		Workspace: `\\wsl.localhost\Ubuntu\home\u\web`,
		Open: []appconfig.OpenURL{
			{URL: "http://localhost:5173/app"},
			{URL: "https://example.com"},
			{URL: "http://127.0.0.1"},
		},
	}
}

func TestOpenURLResolver_PassThroughOutsideWindows(t *testing.T) {
	r, lookups := stubResolver(shell.HostLinux, "172.20.0.2", true, "")

	urls, warnings := r.Resolve(context.Background(), wslApp())

	assert.Equal(t, []string{"http://localhost:5173/app", "https://example.com", "http://127.0.0.1"}, urls)
	assert.Empty(t, warnings)
	assert.Equal(t, 0, *lookups)
}

func TestOpenURLResolver_PassThroughForHostWorkspace(t *testing.T) {
	r, lookups := stubResolver(shell.HostWindows, "172.20.0.2", true, "")
	def := wslApp()
	def.Workspace = `C:\src\web`

	urls, _ := r.Resolve(context.Background(), def)

	assert.Equal(t, def.OpenURLs(), urls)
	assert.Equal(t, 0, *lookups)
}

func TestOpenURLResolver_RewritesReachableLoopback(t *testing.T) {
	r, lookups := stubResolver(shell.HostWindows, "172.20.0.2", true, "")

	urls, warnings := r.Resolve(context.Background(), wslApp())
	assert.Equal(t, []string{"http://172.20.0.2:5173/app", "https://example.com", "http://127.0.0.1"}, urls)
	assert.Empty(t, warnings)

	r.Resolve(context.Background(), wslApp())
	assert.Equal(t, 1, *lookups, "distro IP is cached")
}

func TestOpenURLResolver_DropsShadowedPort(t *testing.T) {
	r, _ := stubResolver(shell.HostWindows, "172.20.0.2", false, "node.exe")

	urls, warnings := r.Resolve(context.Background(), wslApp())

	assert.Equal(t, []string{"https://example.com", "http://127.0.0.1"}, urls)
	assert.Equal(t, []string{
		"Not opening http://localhost:5173/app because node.exe is listening on localhost:5173 and WSL IP 172.20.0.2:5173 is not reachable.",
	}, warnings)
}

func TestOpenURLResolver_KeepsURLBehindWSLProxy(t *testing.T) {
	r, _ := stubResolver(shell.HostWindows, "172.20.0.2", false, "wslrelay.exe")

	urls, warnings := r.Resolve(context.Background(), wslApp())

	assert.Equal(t, wslApp().OpenURLs(), urls)
	assert.Empty(t, warnings)
}
