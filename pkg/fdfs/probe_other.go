//go:build !linux

package fdfs

import "net"

// probeConn has no portable non-blocking peek; failures surface on the next exchange instead.
func probeConn(conn net.Conn) bool {
	return conn != nil
}
