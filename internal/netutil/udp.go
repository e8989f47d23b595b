package netutil

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// PacketConn is the write side of a connected datagram socket.
type PacketConn interface {
	Write(b []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
}

// Dialer opens connected datagram sockets. It exists so the send loop can be
// exercised without real sockets.
type Dialer interface {
	Dial(ctx context.Context, addr string) (PacketConn, error)
}

// UDPDialer opens IPv4 UDP sockets with the system dialer.
type UDPDialer struct {
	logger *logrus.Logger
}

// NewUDPDialer returns a Dialer for "udp4".
func NewUDPDialer(logger *logrus.Logger) *UDPDialer {
	return &UDPDialer{logger: logger}
}

// Dial connects a UDP socket to addr. Connecting fixes the destination so
// each tick is a single Write.
func (d *UDPDialer) Dial(ctx context.Context, addr string) (PacketConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		"addr":    addr,
		"private": IsLocalOrPrivateHost(host),
	}).Debug("Opening UDP socket")

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ErrorClass buckets socket errors by what the send loop should do next.
type ErrorClass int

const (
	// Transient errors are retried on the next tick with the same handle.
	Transient ErrorClass = iota
	// Blocked errors mean the configuration itself cannot work.
	Blocked
	// Unusable errors mean the handle is dead and must be re-opened.
	Unusable
)

func (c ErrorClass) String() string {
	switch c {
	case Blocked:
		return "blocked"
	case Unusable:
		return "unusable"
	default:
		return "transient"
	}
}

// Classify maps a dial or write error onto an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return Transient
	}

	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EBADF) ||
		errors.Is(err, syscall.ENOTCONN) {
		return Unusable
	}

	var addrErr *net.AddrError
	var parseErr *net.ParseError
	if errors.As(err, &addrErr) || errors.As(err, &parseErr) {
		return Blocked
	}
	if errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EAFNOSUPPORT) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) {
		return Blocked
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return Blocked
		}
		return Transient
	}

	if strings.Contains(err.Error(), "invalid port") {
		return Blocked
	}
	return Transient
}

// InstallResolver points the process-wide Go resolver at server (host:port).
// Used on Android where the system resolver is unavailable to static
// binaries.
func InstallResolver(server string, logger *logrus.Logger) {
	net.DefaultResolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: time.Second}
			return d.DialContext(ctx, network, server)
		},
	}
	logger.WithField("server", server).Debug("Custom DNS resolver installed")
}

// IsLocalOrPrivateHost checks if a hostname is localhost or a private network address
func IsLocalOrPrivateHost(host string) bool {
	// Check for localhost variations
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	// Check for localhost-like names
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".lan") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return isPrivateIP(ip)
}

var privateNets = mustParseCIDRs(
	"10.0.0.0/8",     // Class A private
	"172.16.0.0/12",  // Class B private
	"192.168.0.0/16", // Class C private
	"169.254.0.0/16", // Link-local
	"fc00::/7",       // Unique local
	"fe80::/10",      // Link-local
)

// isPrivateIP checks if an IP address is in a private network range
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
