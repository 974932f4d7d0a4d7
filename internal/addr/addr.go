// Package addr implements the server's address type and classification:
// IP vs loopback vs broadcast, host[:port] parsing, and the distinction
// between full-address and base-address (port-ignoring) equality used by
// the challenge table and per-IP connection limiting.
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind tags how an Address should be treated by the netchan and dispatcher.
type Kind uint8

const (
	KindIP Kind = iota
	KindLoopback
	KindBroadcast
)

func (k Kind) String() string {
	switch k {
	case KindLoopback:
		return "loopback"
	case KindBroadcast:
		return "broadcast"
	default:
		return "ip"
	}
}

// Address is a 4-octet IPv4 address plus a network-order port, tagged with
// a Kind. It is a small value type, safe to use as a map key.
type Address struct {
	Kind  Kind
	Octet [4]byte
	Port  uint16
}

// Parse parses "host[:port]" into an Address. A bare host with no port
// yields Port 0 (the caller supplies a default, e.g. the default server
// port, when that is meaningful).
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port present
		host = s
		portStr = ""
	}
	var port uint16
	if portStr != "" {
		p, perr := strconv.ParseUint(portStr, 10, 16)
		if perr != nil {
			return Address{}, fmt.Errorf("addr: parse port %q: %w", portStr, perr)
		}
		port = uint16(p)
	}
	return Resolve(host, port)
}

// Resolve looks up host (which may already be a dotted-quad) and attaches
// port, classifying the result.
func Resolve(host string, port uint16) (Address, error) {
	if host == "" || strings.EqualFold(host, "localhost") {
		return Address{Kind: KindLoopback, Octet: [4]byte{127, 0, 0, 1}, Port: port}, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return Address{}, fmt.Errorf("addr: resolve %q: %w", host, err)
	}
	var v4 net.IP
	for _, ip := range ips {
		if v4ip := ip.To4(); v4ip != nil {
			v4 = v4ip
			break
		}
	}
	if v4 == nil {
		return Address{}, fmt.Errorf("addr: %q has no IPv4 address", host)
	}
	return FromIP(v4, port), nil
}

// FromIP builds an Address from a net.IP (must be IPv4 or IPv4-in-6) and
// classifies it.
func FromIP(ip net.IP, port uint16) Address {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	a := Address{Port: port}
	copy(a.Octet[:], v4)
	switch {
	case v4.IsLoopback():
		a.Kind = KindLoopback
	case v4[3] == 255 || (v4[0] == 255 && v4[1] == 255 && v4[2] == 255 && v4[3] == 255):
		a.Kind = KindBroadcast
	default:
		a.Kind = KindIP
	}
	return a
}

// IP returns the net.IP view of the address.
func (a Address) IP() net.IP { return net.IPv4(a.Octet[0], a.Octet[1], a.Octet[2], a.Octet[3]) }

// String renders "a.b.c.d:port".
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.Octet[0], a.Octet[1], a.Octet[2], a.Octet[3], a.Port)
}

// Equal compares the full address including port.
func (a Address) Equal(b Address) bool { return a.Octet == b.Octet && a.Port == b.Port }

// BaseEqual compares only the octets, ignoring port — used to match a
// reconnecting client behind NAT port translation against its challenge
// entry and for per-IP connection-count limiting.
func (a Address) BaseEqual(b Address) bool { return a.Octet == b.Octet }

// BaseKey renders the octets (ignoring port) as a map key, for the
// challenge table and per-IP connection counters.
func (a Address) BaseKey() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.Octet[0], a.Octet[1], a.Octet[2], a.Octet[3])
}

// IsLoopback reports whether this address is exempt from the challenge flow
// and from rate-drop enforcement.
func (a Address) IsLoopback() bool { return a.Kind == KindLoopback }
