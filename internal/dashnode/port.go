package dashnode

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

const (
	// defaultRPCPortStart is where the search for a free RPC port
	// begins; the P2P port is searched upwards from the RPC port.
	defaultRPCPortStart = 19998

	portSearchAttempts = 20
)

// portAvailable reports whether the port can be bound on localhost.
func portAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// findFreePort returns the first bindable port at or above start.
func findFreePort(start int) (int, error) {
	for port := start; port < start+portSearchAttempts; port++ {
		if portAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.Errorf("no free port in range %d-%d", start, start+portSearchAttempts-1)
}
