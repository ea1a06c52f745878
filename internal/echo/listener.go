package echo

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// NewReusableListener opens a non-blocking TCP listening socket bound to
// addr (host:port) with both SO_REUSEADDR and SO_REUSEPORT set, per
// spec.md §6: every worker opens its own listening socket on the same
// port and the kernel load-balances accepts across them. Returns the raw
// fd so it can be posted directly as an ACCEPT work-request.
func NewReusableListener(addr string) (int32, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, fmt.Errorf("echo: resolve %q: %w", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("echo: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echo: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echo: SO_REUSEPORT: %w", err)
	}

	var sa unix.SockaddrInet4
	sa.Port = tcpAddr.Port
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echo: bind %q: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("echo: listen: %w", err)
	}
	return int32(fd), nil
}

// CloseFD releases a raw socket fd, tolerating an already-closed fd.
func CloseFD(fd int32) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(int(fd))
}
