// Package addr implements the canonical (ip, port) address form used
// throughout the overlay's wire format and comparisons.
package addr

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a canonicalized (ip, port) pair. IP is a dotted quad with
// each octet zero-padded to three digits ("192.168.001.001"); Port is
// a zero-padded five-digit decimal string ("05335"). Canonicalization
// must happen before any Address is compared or placed on the wire.
type Address struct {
	IP   string
	Port string
}

// Zero is the empty Address, used for "unset parent" and similar
// sentinel values.
var Zero = Address{}

// IsZero reports whether a is the unset Address.
func (a Address) IsZero() bool {
	return a == Zero
}

// String renders the address as "ip:port" for logging.
func (a Address) String() string {
	return a.IP + ":" + a.Port
}

// New canonicalizes a raw ip string and integer port into an Address.
func New(ip string, port int) (Address, error) {
	cip, err := canonicalizeIP(ip)
	if err != nil {
		return Zero, err
	}
	return Address{IP: cip, Port: canonicalizePort(port)}, nil
}

// Parse canonicalizes a raw ip string and a raw (possibly unpadded)
// port string into an Address.
func Parse(ip, port string) (Address, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return Zero, fmt.Errorf("addr: invalid port %q: %w", port, err)
	}
	return New(ip, p)
}

// canonicalizeIP zero-pads each octet of a dotted-quad IPv4 address to
// three digits. Idempotent: canonicalizing an already-canonical string
// returns it unchanged.
func canonicalizeIP(ip string) (string, error) {
	parts := strings.Split(strings.TrimSpace(ip), ".")
	if len(parts) != 4 {
		return "", fmt.Errorf("addr: invalid ipv4 address %q", ip)
	}
	out := make([]string, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("addr: invalid ipv4 octet %q in %q", p, ip)
		}
		out[i] = fmt.Sprintf("%03d", n)
	}
	return strings.Join(out, "."), nil
}

// canonicalizePort zero-pads a port number to five digits.
func canonicalizePort(port int) string {
	return fmt.Sprintf("%05d", port)
}

// PortInt parses the canonical Port string back into an int, e.g. for
// dialing with net.JoinHostPort.
func (a Address) PortInt() (int, error) {
	return strconv.Atoi(a.Port)
}

// HostPort renders the address the way net.Dial expects it:
// "192.168.1.1:5335" (octets un-padded, as required by net.Dial).
func (a Address) HostPort() (string, error) {
	parts := strings.Split(a.IP, ".")
	if len(parts) != 4 {
		return "", fmt.Errorf("addr: malformed canonical ip %q", a.IP)
	}
	octets := make([]string, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("addr: malformed canonical ip %q: %w", a.IP, err)
		}
		octets[i] = strconv.Itoa(n)
	}
	port, err := a.PortInt()
	if err != nil {
		return "", fmt.Errorf("addr: malformed canonical port %q: %w", a.Port, err)
	}
	return fmt.Sprintf("%s:%d", strings.Join(octets, "."), port), nil
}
