package twamp

import (
	"net"
	"runtime"

	"golang.org/x/sys/unix"
)

// SocketOptions are the per-session IP-level knobs a sender applies to
// its own socket. TTL/Hops and ToS/TCLASS are set per family; DF only
// has meaning for IPv4.
type SocketOptions struct {
	TTL           int
	ToS           int
	DontFragment  bool
}

// ApplySocketOptions sets TTL/ToS (and, for IPv4, the don't-fragment bit)
// on conn's underlying file descriptor. Best-effort: an unsupported
// option on a given platform is reported to the caller, never fatal.
func ApplySocketOptions(conn *net.UDPConn, isIPv6 bool, opts SocketOptions) []error {
	var warnings []error

	raw, err := conn.SyscallConn()
	if err != nil {
		return []error{err}
	}

	controlErr := raw.Control(func(fd uintptr) {
		if isIPv6 {
			if opts.TTL > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, opts.TTL); err != nil {
					warnings = append(warnings, err)
				}
			}
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, opts.ToS); err != nil {
				warnings = append(warnings, err)
			}
			if opts.DontFragment {
				warnings = append(warnings, errDFIgnoredForIPv6)
			}
			return
		}

		if opts.TTL > 0 {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, opts.TTL); err != nil {
				warnings = append(warnings, err)
			}
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, opts.ToS); err != nil {
			warnings = append(warnings, err)
		}
		if opts.DontFragment {
			if runtime.GOOS != "linux" {
				warnings = append(warnings, errDFUnsupportedPlatform)
				return
			}
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
				warnings = append(warnings, err)
			}
		}
	})
	if controlErr != nil {
		warnings = append(warnings, controlErr)
	}
	return warnings
}

type sockoptWarning string

func (w sockoptWarning) Error() string { return string(w) }

const (
	errDFIgnoredForIPv6       sockoptWarning = "twamp: don't-fragment flag is not meaningful for IPv6 and was ignored"
	errDFUnsupportedPlatform  sockoptWarning = "twamp: don't-fragment flag via IP_MTU_DISCOVER is only implemented on Linux"
)
