package monitoring

import (
	"context"
	"net"
	"strconv"
	"time"
)

// TCPReachable reports whether host:port accepts a TCP connection within timeout.
// It tries twice to ride out a busy accept queue.
func TCPReachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			conn.Close()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
