//go:build !linux

package unixsock

import "net"

func peerLabel(c *net.UnixConn) string {
	if addr := c.RemoteAddr(); addr != nil && addr.String() != "" {
		return "unix:" + addr.String()
	}
	return "unix"
}
