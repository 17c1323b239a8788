// Package wire implements canopy's fixed binary envelope and the five
// typed body formats it carries. The envelope is a 20-byte header
// (version, type, length, source address) followed by exactly
// `length` bytes of body; every body format is ASCII and fixed-width
// except the Message payload, which is opaque bytes of any length.
//
// This mirrors the teacher's frame.go/envelop.go split collapsed into
// one layer, since canopy's TCP transport already frames atomically
// per send (spec §6) and needs no outer length-prefixed frame of its
// own on top of the envelope's own length field.
package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"canopy/internal/addr"
)

// Packet types, spec §4.1.
const (
	TypeRegister  uint16 = 1
	TypeAdvertise uint16 = 2
	TypeJoin      uint16 = 3
	TypeMessage   uint16 = 4
	TypeReunion   uint16 = 5
)

// Version is the only supported envelope version.
const Version uint16 = 1

// HeaderSize is the fixed 20-byte envelope header: 2+2+4+8+4.
const HeaderSize = 20

// Packet is a decoded envelope: header fields plus the body bytes.
type Packet struct {
	Version uint16
	Type    uint16
	Src     addr.Address
	Body    []byte
}

// Encode renders p into its exact wire form. Encode is a byte-exact
// round trip with Decode for every valid Packet.
func Encode(p Packet) ([]byte, error) {
	if p.Version != Version {
		return nil, fmt.Errorf("wire: encode: %w: version %d", ErrMalformedPacket, p.Version)
	}
	if p.Type < TypeRegister || p.Type > TypeReunion {
		return nil, fmt.Errorf("wire: encode: %w: type %d", ErrMalformedPacket, p.Type)
	}

	ipBytes, err := ipToWire(p.Src.IP)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	portBytes, err := portToWire(p.Src.Port)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}

	buf := make([]byte, HeaderSize+len(p.Body))
	binary.BigEndian.PutUint16(buf[0:2], p.Version)
	binary.BigEndian.PutUint16(buf[2:4], p.Type)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(p.Body)))
	copy(buf[8:16], ipBytes[:])
	copy(buf[16:20], portBytes[:])
	copy(buf[20:], p.Body)

	return buf, nil
}

// Decode parses a complete envelope (header + body) from data. It
// rejects short headers, unknown types, and a length field that
// disagrees with the actual remaining bytes.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("wire: decode: %w: short header (%d bytes)", ErrMalformedPacket, len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	typ := binary.BigEndian.Uint16(data[2:4])
	length := binary.BigEndian.Uint32(data[4:8])

	if typ < TypeRegister || typ > TypeReunion {
		return Packet{}, fmt.Errorf("wire: decode: %w: unknown type %d", ErrMalformedPacket, typ)
	}

	body := data[HeaderSize:]
	if uint32(len(body)) != length {
		return Packet{}, fmt.Errorf("wire: decode: %w: length %d != body %d", ErrMalformedPacket, length, len(body))
	}

	ip, err := wireToIP(data[8:16])
	if err != nil {
		return Packet{}, fmt.Errorf("wire: decode: %w", err)
	}
	port := wireToPort(data[16:20])

	src, err := addr.Parse(ip, port)
	if err != nil {
		return Packet{}, fmt.Errorf("wire: decode: %w: %v", ErrMalformedPacket, err)
	}

	out := make([]byte, len(body))
	copy(out, body)

	return Packet{
		Version: version,
		Type:    typ,
		Src:     src,
		Body:    out,
	}, nil
}

// ipToWire encodes a canonical "ddd.ddd.ddd.ddd" IP into the
// envelope's 8-byte form: each octet as a big-endian uint16.
func ipToWire(ip string) ([8]byte, error) {
	var out [8]byte
	octets, err := splitCanonicalIP(ip)
	if err != nil {
		return out, err
	}
	for i, n := range octets {
		binary.BigEndian.PutUint16(out[i*2:i*2+2], uint16(n))
	}
	return out, nil
}

// wireToIP reverses ipToWire, producing a dotted-quad string (not yet
// necessarily zero-padded to canopy's canonical width, hence the
// addr.Parse pass in Decode which re-canonicalizes it).
func wireToIP(b []byte) (string, error) {
	if len(b) != 8 {
		return "", fmt.Errorf("%w: src_ip must be 8 bytes, got %d", ErrMalformedPacket, len(b))
	}
	octets := make([]int, 4)
	for i := range octets {
		octets[i] = int(binary.BigEndian.Uint16(b[i*2 : i*2+2]))
	}
	return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3]), nil
}

// portToWire encodes a canonical 5-digit port string into a
// big-endian uint32.
func portToWire(port string) ([4]byte, error) {
	var out [4]byte
	n, err := strconv.Atoi(port)
	if err != nil {
		return out, fmt.Errorf("%w: bad port %q: %v", ErrMalformedPacket, port, err)
	}
	binary.BigEndian.PutUint32(out[:], uint32(n))
	return out, nil
}

// wireToPort decodes a big-endian uint32 into a decimal port string
// (addr.Parse below re-pads it to canopy's canonical 5 digits).
func wireToPort(b []byte) string {
	return strconv.Itoa(int(binary.BigEndian.Uint32(b)))
}

// splitCanonicalIP parses a canonical "ddd.ddd.ddd.ddd" string into
// its four octet values.
func splitCanonicalIP(ip string) ([4]int, error) {
	var out [4]int
	var a, b, c, d int
	n, err := fmt.Sscanf(ip, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return out, fmt.Errorf("%w: bad ip %q", ErrMalformedPacket, ip)
	}
	out[0], out[1], out[2], out[3] = a, b, c, d
	return out, nil
}
