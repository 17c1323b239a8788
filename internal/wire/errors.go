package wire

import "errors"

// Sentinel errors returned by the codec. Callers match these with
// errors.Is after the codec wraps them with positional context.
var (
	// ErrMalformedPacket covers header truncation, an out-of-range
	// type, a length field that disagrees with the actual body size,
	// or an unparsable address field — spec §7's MalformedPacket.
	ErrMalformedPacket = errors.New("wire: malformed packet")

	// ErrRegisterNotAck is returned when a Register RES body carries
	// anything other than "ACK"; the client reports it as
	// client.ErrRegisterRejected.
	ErrRegisterNotAck = errors.New("wire: register response was not ACK")
)
