// Package portutil allocates and checks local TCP ports.
package portutil

import (
	"fmt"
	"net"
	"strconv"
)

// AllocatePort allocates an available port on host using OS assignment.
func AllocatePort(host string) (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// CheckAvailable returns an error if host:port cannot be bound right now.
func CheckAvailable(host string, port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("port %d on %s is not available: %w", port, host, err)
	}
	_ = listener.Close()
	return nil
}
