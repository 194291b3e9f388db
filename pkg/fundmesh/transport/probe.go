package transport

import (
	"net"
	"strconv"
	"time"
)

// Probe dials address:port with a short timeout and reports whether the
// peer accepted the connection, used by the registration directory's
// super-peer liveness check (registrationServer.py's test_super_peer).
// It deliberately does not write or read any payload: a live listener
// accepting the TCP handshake is sufficient evidence of liveness.
func Probe(address string, port int, timeout time.Duration) bool {
	if port <= 0 {
		return false
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
