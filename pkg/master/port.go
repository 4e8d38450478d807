package master

import (
	"fmt"
	"net"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// PortSearchRange is how many ports after the preferred one are tried
const PortSearchRange = 20

// Listen binds host:port. A busy explicit port is an error; otherwise the
// next PortSearchRange ports are tried in order.
func Listen(host string, port int, explicit bool) (net.Listener, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		return listener, nil
	}
	if explicit {
		return nil, errors.NewConflictError(
			fmt.Sprintf("port %d is already in use; stop the process using it or choose another port with LAUNCHER_PORT", port), err).
			WithContext("host", host)
	}

	for candidate := port + 1; candidate <= port+PortSearchRange && candidate <= 65535; candidate++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(candidate)))
		if err == nil {
			return listener, nil
		}
	}
	return nil, errors.NewConflictError(
		fmt.Sprintf("no free port found in range %d-%d", port, port+PortSearchRange), nil).
		WithContext("host", host)
}
