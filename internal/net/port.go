package net

import (
	"fmt"
	"net"
)

// ListenLoopback listens on an ephemeral TCP port of the IPv4 loopback interface.
// The listener is returned open so the caller can serve on it directly.
func ListenLoopback() (net.Listener, int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	return l, l.Addr().(*net.TCPAddr).Port, nil
}
