package launcher

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/shell"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	wslIPCacheTTL      = 30 * time.Second
	wslIPLookupTimeout = 2 * time.Second
	wslReachTimeout    = time.Second
)

// OpenURLResolver rewrites loopback open URLs of apps living inside a WSL distro
// to the distro IP, since a Windows process may own the same localhost port.
type OpenURLResolver struct {
	host shell.HostOS

	lookupIP  func(ctx context.Context, distro string) (string, error)
	reachable func(ctx context.Context, host string, port int) bool
	listener  func(ctx context.Context, port int) string

	mutex sync.Mutex
	cache map[string]cachedIP
}

type cachedIP struct {
	ip      string
	fetched time.Time
}

func NewOpenURLResolver(host shell.HostOS) *OpenURLResolver {
	return &OpenURLResolver{
		host:     host,
		lookupIP: wslDistroIP,
		reachable: func(ctx context.Context, host string, port int) bool {
			return monitoring.TCPReachable(ctx, host, port, wslReachTimeout)
		},
		listener: windowsListenerName,
		cache:    make(map[string]cachedIP),
	}
}

// Resolve returns the URLs to open for def and warnings about URLs it dropped
func (r *OpenURLResolver) Resolve(ctx context.Context, def appconfig.AppDefinition) ([]string, []string) {
	urls := def.OpenURLs()
	if r.host != shell.HostWindows {
		return urls, nil
	}

	distro, ok := shell.WSLDistro(def.Workspace)
	if !ok {
		return urls, nil
	}
	ip := r.distroIP(ctx, distro)
	if ip == "" {
		return urls, nil
	}

	resolved := make([]string, 0, len(urls))
	var warnings []string
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			resolved = append(resolved, raw)
			continue
		}

		hostname := strings.ToLower(parsed.Hostname())
		port, err := strconv.Atoi(parsed.Port())
		if (hostname != "localhost" && hostname != "127.0.0.1") || err != nil {
			resolved = append(resolved, raw)
			continue
		}

		if r.reachable(ctx, ip, port) {
			parsed.Host = net.JoinHostPort(ip, parsed.Port())
			resolved = append(resolved, parsed.String())
			continue
		}

		if name := r.listener(ctx, port); name != "" && !isWSLProxy(name) {
			warnings = append(warnings, fmt.Sprintf(
				"Not opening %s because %s is listening on localhost:%d and WSL IP %s:%d is not reachable.",
				raw, name, port, ip, port))
			continue
		}
		resolved = append(resolved, raw)
	}
	return resolved, warnings
}

func (r *OpenURLResolver) distroIP(ctx context.Context, distro string) string {
	r.mutex.Lock()
	cached, ok := r.cache[distro]
	r.mutex.Unlock()
	if ok && time.Since(cached.fetched) < wslIPCacheTTL {
		return cached.ip
	}

	ip, err := r.lookupIP(ctx, distro)
	if err != nil || ip == "" {
		return ""
	}

	r.mutex.Lock()
	r.cache[distro] = cachedIP{ip: ip, fetched: time.Now()}
	r.mutex.Unlock()
	return ip
}

func wslDistroIP(ctx context.Context, distro string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, wslIPLookupTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "wsl.exe", "-d", distro, "hostname", "-I").Output()
	if err != nil {
		return "", err
	}
	// hostname -I may print several addresses
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// windowsListenerName returns the name of the process listening on a TCP port, or ""
func windowsListenerName(ctx context.Context, port int) string {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return ""
	}
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) || conn.Pid == 0 {
			continue
		}
		p, err := process.NewProcessWithContext(ctx, conn.Pid)
		if err != nil {
			return ""
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			return ""
		}
		return name
	}
	return ""
}

func isWSLProxy(name string) bool {
	switch strings.ToLower(name) {
	case "wslhost.exe", "wsl.exe", "wslservice.exe", "vmmem", "system":
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "wsl")
}
