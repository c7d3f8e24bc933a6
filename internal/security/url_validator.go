// Package security guards the service against SSRF: every URL a caller
// submits is fetched server-side, first over plain HTTP and then by a real
// browser, so internal addresses must be rejected before anything connects.
package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHostnames are rejected before any IP logic runs. The bare cloud
// names resolve to metadata services from inside most providers.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"local":                    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// metadataIPs are cloud provider metadata endpoints across AWS, GCP, Azure,
// Alibaba, and Oracle, including the AWS IPv6 variants.
var metadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("169.254.170.2"),
	net.ParseIP("100.100.100.200"),
	net.ParseIP("192.0.0.192"),
	net.ParseIP("fd00:ec2::254"),
	net.ParseIP("fc00:ec2::254"),
}

// NormalizeURL prepares user input for analysis: surrounding whitespace is
// dropped, bare domains get an https scheme, and the result must pass
// ValidateURL.
func NormalizeURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	if err := ValidateURL(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateURL rejects URLs the service must never fetch: non-HTTP(S)
// schemes, localhost and loopback in all spellings, private and link-local
// ranges, cloud metadata endpoints, and the decimal/octal/hex IP encodings
// used to smuggle those past naive checks. Hostnames are resolved and every
// returned address is checked; resolution failure is allowed through since
// the fetch will fail on its own terms.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !allowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if isBlockedHostname(hostname) {
		return ErrLocalhostBlocked
	}

	if ip := parseHostAsIP(hostname); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func isBlockedHostname(hostname string) bool {
	if blockedHostnames[hostname] {
		return true
	}
	// foo.localhost and localhost.example both resolve locally
	return strings.HasSuffix(hostname, ".localhost") || strings.HasPrefix(hostname, "localhost.")
}

// checkIP applies the address policy after normalizing IPv4-mapped IPv6
// (::ffff:127.0.0.1 must not slip past the IPv4 rules).
func checkIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case isLoopback(ip):
		return ErrLocalhostBlocked
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return ErrPrivateIPBlocked
	case isMetadataIP(ip):
		return ErrMetadataBlocked
	}
	return nil
}

// isLoopback covers the whole 127.0.0.0/8 range, not just 127.0.0.1.
func isLoopback(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 127
	}
	return ip.Equal(net.IPv6loopback)
}

func isMetadataIP(ip net.IP) bool {
	for _, m := range metadataIPs {
		if ip.Equal(m) {
			return true
		}
	}
	return false
}

// parseHostAsIP parses a host as an IP address, covering the alternative
// encodings curl and browsers accept: a single decimal number (2130706433),
// octal or hex octets (0177.0.0.1, 0x7f.0.0.1), and the shortened two-part
// form (127.1). A nil return means the host is a name, not an address.
func parseHostAsIP(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip
	}

	if num, err := strconv.ParseUint(hostname, 10, 32); err == nil {
		return net.IPv4(byte(num>>24), byte(num>>16), byte(num>>8), byte(num))
	}

	parts := strings.Split(hostname, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			val, err := parseOctet(part)
			if err != nil || val > 255 {
				return nil
			}
			octets[i] = byte(val)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3])
	case 2:
		// 127.1 means 127.0.0.1: the second part fills the low three octets
		first, err1 := parseOctet(parts[0])
		rest, err2 := parseOctet(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && rest <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(rest>>16), byte(rest>>8), byte(rest))
		}
	}
	return nil
}

// parseOctet accepts decimal, 0-prefixed octal, and 0x-prefixed hex.
func parseOctet(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty component")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if len(s) > 1 && s[0] == '0' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
