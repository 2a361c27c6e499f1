package frontend

import (
	"fmt"
	"net"
	"strconv"
)

// Addr names a registered backend's host and port. A bare host string
// passed to AddBackends is normalized to an Addr using the frontend's
// configured default port.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Backend is anything AddBackends accepts: a bare host string (uses the
// frontend's default port) or an explicit Addr.
type Backend interface {
	resolve(defaultPort int) Addr
}

// Host is a bare hostname; it resolves against the frontend's configured
// default port.
type Host string

func (h Host) resolve(defaultPort int) Addr {
	return Addr{Host: string(h), Port: defaultPort}
}

func (a Addr) resolve(int) Addr { return a }

// ParseBackend accepts either a bare host ("10.0.0.1") or a "host:port"
// pair ("10.0.0.1:54543") and returns the Backend value AddBackends
// expects. A bare host resolves against the frontend's default port; an
// explicit port is honored verbatim.
func ParseBackend(s string) (Backend, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No ":" found -- treat the whole string as a bare host.
		return Host(s), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("frontend: invalid port in %q: %w", s, err)
	}
	return Addr{Host: host, Port: port}, nil
}
