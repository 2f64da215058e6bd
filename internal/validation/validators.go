// Package validation implements the argument-level checks the command
// dispatcher applies at its boundary: interface names, VLAN ids, ports,
// MTUs, IPv4 addresses and netmasks.
package validation

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"vmark.io/vmark-node/internal/xerr"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (VLAN
	// sub-interfaces) and '@' (sub@parent notation), max 20 chars.
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]{1,20}$`)

	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

// ValidateInterfaceName validates a network interface identifier, including
// the "sub@parent" notation.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return xerr.New(xerr.KindValidation, "interface name cannot be empty")
	}
	if !interfaceNameRegex.MatchString(name) {
		return xerr.Errorf(xerr.KindValidation, "invalid interface name: %s", name)
	}
	for _, c := range dangerousChars {
		if strings.Contains(name, c) {
			return xerr.Errorf(xerr.KindValidation, "interface name contains disallowed character: %s", c)
		}
	}
	return nil
}

// ValidatePortNumber validates a TCP/UDP port in the control/measurement
// range 1024..65535.
func ValidatePortNumber(port int) error {
	if port < 1024 || port > 65535 {
		return xerr.Errorf(xerr.KindValidation, "invalid port %d (must be 1024-65535)", port)
	}
	return nil
}

// ValidateVLAN validates a VLAN id in the 1..4094 range.
func ValidateVLAN(vlan int) error {
	if vlan < 1 || vlan > 4094 {
		return xerr.Errorf(xerr.KindValidation, "invalid VLAN id %d (must be 1-4094)", vlan)
	}
	return nil
}

// ValidateMTU validates an MTU for a created sub-interface.
func ValidateMTU(mtu int) error {
	if mtu < 1000 || mtu > 10000 {
		return xerr.Errorf(xerr.KindValidation, "invalid MTU %d (must be 1000-10000)", mtu)
	}
	return nil
}

// ValidateIPv4 validates a dotted-decimal IPv4 address.
func ValidateIPv4(s string) error {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return xerr.Errorf(xerr.KindValidation, "invalid IPv4 address: %s", s)
	}
	return nil
}

// ValidateIP validates an IPv4 or IPv6 address.
func ValidateIP(s string) error {
	if net.ParseIP(s) == nil {
		return xerr.Errorf(xerr.KindValidation, "invalid IP address: %s", s)
	}
	return nil
}

// ValidateNetmask validates either a "/N" prefix length (0..32) or a
// contiguous dotted-decimal netmask.
func ValidateNetmask(s string) error {
	if strings.HasPrefix(s, "/") {
		n, err := strconv.Atoi(s[1:])
		if err != nil || n < 0 || n > 32 {
			return xerr.Errorf(xerr.KindValidation, "invalid prefix length: %s", s)
		}
		return nil
	}

	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return xerr.Errorf(xerr.KindValidation, "invalid netmask: %s", s)
	}
	mask := ip.To4()
	v := uint32(mask[0])<<24 | uint32(mask[1])<<16 | uint32(mask[2])<<8 | uint32(mask[3])
	// A contiguous mask is a run of 1-bits followed by a run of 0-bits:
	// inverting and adding 1 must yield a power of two (1 for /32), or
	// overflow to 0 for /0.
	inv := ^v
	if inv&(inv+1) != 0 {
		return xerr.Errorf(xerr.KindValidation, "netmask is not contiguous: %s", s)
	}
	return nil
}

// SanitizeString strips characters that have no business appearing in a
// name echoed back to a caller.
func SanitizeString(s string) string {
	for _, c := range dangerousChars {
		s = strings.ReplaceAll(s, c, "")
	}
	return s
}
