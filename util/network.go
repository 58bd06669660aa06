package util

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// SockaddrString renders an accepted peer address.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return FormatAddr(net.IP(a.Addr[:]).String(), a.Port)
	case *unix.SockaddrInet6:
		return FormatAddr(net.IP(a.Addr[:]).String(), a.Port)
	case *unix.SockaddrUnix:
		return "unix:" + a.Name
	default:
		return "unknown"
	}
}
