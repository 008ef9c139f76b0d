package peer

import (
	"fmt"
	"net"
	"strconv"

	"github.com/Ning0612/peersync/internal/domain"
)

// ListenFrom binds the first free TCP port at or above basePort on host.
// It returns the listener and the bound port.
func ListenFrom(host string, basePort int) (net.Listener, int, error) {
	if basePort < 1 || basePort > 65535 {
		return nil, 0, fmt.Errorf("%w: base port %d out of range", domain.ErrNoFreePort, basePort)
	}

	var lastErr error
	for port := basePort; port <= 65535; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("%w: from %d: %v", domain.ErrNoFreePort, basePort, lastErr)
}
