package wire

import (
	"fmt"
	"strconv"

	"canopy/internal/addr"
)

const (
	addrIPWidth   = 15 // "ddd.ddd.ddd.ddd"
	addrPortWidth = 5  // "ddddd"
	addrWidth     = addrIPWidth + addrPortWidth
)

// encodeAddr renders a canonical Address as the 20-char ip+port field
// used in every body format below.
func encodeAddr(a addr.Address) (string, error) {
	if len(a.IP) != addrIPWidth {
		return "", fmt.Errorf("%w: ip %q is not %d chars", ErrMalformedPacket, a.IP, addrIPWidth)
	}
	if len(a.Port) != addrPortWidth {
		return "", fmt.Errorf("%w: port %q is not %d chars", ErrMalformedPacket, a.Port, addrPortWidth)
	}
	return a.IP + a.Port, nil
}

// decodeAddr is the inverse of encodeAddr.
func decodeAddr(s string) (addr.Address, error) {
	if len(s) != addrWidth {
		return addr.Zero, fmt.Errorf("%w: address field is %d chars, want %d", ErrMalformedPacket, len(s), addrWidth)
	}
	return addr.Parse(s[:addrIPWidth], s[addrIPWidth:])
}

// --- Type 1: Register ---

// EncodeRegisterReq builds "REQ"+ip(15)+port(5), 23 bytes.
func EncodeRegisterReq(self addr.Address) ([]byte, error) {
	a, err := encodeAddr(self)
	if err != nil {
		return nil, fmt.Errorf("wire: EncodeRegisterReq: %w", err)
	}
	return []byte("REQ" + a), nil
}

// DecodeRegisterReq parses a Register REQ body, returning the
// registering peer's self-reported address.
func DecodeRegisterReq(body []byte) (addr.Address, error) {
	s := string(body)
	if len(s) != 3+addrWidth || s[:3] != "REQ" {
		return addr.Zero, fmt.Errorf("%w: bad register request body", ErrMalformedPacket)
	}
	return decodeAddr(s[3:])
}

// EncodeRegisterRes builds "RES"+"ACK", 6 bytes.
func EncodeRegisterRes() []byte {
	return []byte("RESACK")
}

// DecodeRegisterRes validates that a Register RES body is "RES"+"ACK".
// A 6-byte "RES" body with any other suffix is ErrRegisterNotAck; a
// body of another length or prefix is ErrMalformedPacket.
func DecodeRegisterRes(body []byte) error {
	s := string(body)
	if len(s) != 6 || s[:3] != "RES" {
		return fmt.Errorf("%w: bad register response body", ErrMalformedPacket)
	}
	if s[3:] != "ACK" {
		return fmt.Errorf("%w: body %q", ErrRegisterNotAck, s[3:])
	}
	return nil
}

// --- Type 2: Advertise ---

// EncodeAdvertiseReq builds "REQ", 3 bytes.
func EncodeAdvertiseReq() []byte {
	return []byte("REQ")
}

// DecodeAdvertiseReq validates an Advertise REQ body.
func DecodeAdvertiseReq(body []byte) error {
	if string(body) != "REQ" {
		return fmt.Errorf("%w: bad advertise request body", ErrMalformedPacket)
	}
	return nil
}

// EncodeAdvertiseRes builds "RES"+ip(15)+port(5), 23 bytes, carrying
// the assigned parent's address.
func EncodeAdvertiseRes(parent addr.Address) ([]byte, error) {
	a, err := encodeAddr(parent)
	if err != nil {
		return nil, fmt.Errorf("wire: EncodeAdvertiseRes: %w", err)
	}
	return []byte("RES" + a), nil
}

// DecodeAdvertiseRes parses an Advertise RES body, returning the
// assigned parent address.
func DecodeAdvertiseRes(body []byte) (addr.Address, error) {
	s := string(body)
	if len(s) != 3+addrWidth || s[:3] != "RES" {
		return addr.Zero, fmt.Errorf("%w: bad advertise response body", ErrMalformedPacket)
	}
	return decodeAddr(s[3:])
}

// --- Type 3: Join ---

// EncodeJoin builds "JOIN", 4 bytes.
func EncodeJoin() []byte {
	return []byte("JOIN")
}

// DecodeJoin validates a Join body.
func DecodeJoin(body []byte) error {
	if string(body) != "JOIN" {
		return fmt.Errorf("%w: bad join body", ErrMalformedPacket)
	}
	return nil
}

// --- Type 4: Message ---

// EncodeMessage wraps an arbitrary broadcast payload; the body is the
// payload verbatim.
func EncodeMessage(payload []byte) []byte {
	return payload
}

// DecodeMessage is the identity function; kept for symmetry with the
// other body codecs and to give the broadcast payload a named type at
// call sites.
func DecodeMessage(body []byte) []byte {
	return body
}

// --- Type 5: Reunion ---

// ReunionOp distinguishes the REQ (leafward-to-root hello) and RES
// (rootward-to-leaf hello-back) reunion bodies.
type ReunionOp string

const (
	ReunionReq ReunionOp = "REQ"
	ReunionRes ReunionOp = "RES"
)

// EncodeReunion builds op(3)+N(2)+N*(ip(15)+port(5)).
func EncodeReunion(op ReunionOp, path []addr.Address) ([]byte, error) {
	if len(path) > 99 {
		return nil, fmt.Errorf("wire: EncodeReunion: path of %d entries exceeds 2-digit count", len(path))
	}
	out := string(op) + fmt.Sprintf("%02d", len(path))
	for _, a := range path {
		enc, err := encodeAddr(a)
		if err != nil {
			return nil, fmt.Errorf("wire: EncodeReunion: %w", err)
		}
		out += enc
	}
	return []byte(out), nil
}

// DecodeReunion parses a Reunion body into its op and path.
func DecodeReunion(body []byte) (ReunionOp, []addr.Address, error) {
	s := string(body)
	if len(s) < 5 {
		return "", nil, fmt.Errorf("%w: reunion body too short", ErrMalformedPacket)
	}
	op := ReunionOp(s[:3])
	if op != ReunionReq && op != ReunionRes {
		return "", nil, fmt.Errorf("%w: unknown reunion op %q", ErrMalformedPacket, s[:3])
	}
	n, err := strconv.Atoi(s[3:5])
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad reunion entry count: %v", ErrMalformedPacket, err)
	}
	want := 5 + addrWidth*n
	if len(s) != want {
		return "", nil, fmt.Errorf("%w: reunion body is %d bytes, want %d for %d entries", ErrMalformedPacket, len(s), want, n)
	}
	path := make([]addr.Address, n)
	for i := 0; i < n; i++ {
		start := 5 + addrWidth*i
		a, err := decodeAddr(s[start : start+addrWidth])
		if err != nil {
			return "", nil, fmt.Errorf("wire: DecodeReunion: entry %d: %w", i, err)
		}
		path[i] = a
	}
	return op, path, nil
}
