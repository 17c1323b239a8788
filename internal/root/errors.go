package root

import "errors"

// ErrNotRegistered is returned when an Advertise REQ arrives from a
// source that never completed Register (§4.4).
var ErrNotRegistered = errors.New("root: source is not registered")

// ErrNoEligibleParent is returned when the graph has no node with
// fewer than two children to offer a newcomer — unreachable at the
// depth/branching bounds this design targets, but checked rather than
// assumed.
var ErrNoEligibleParent = errors.New("root: no eligible parent in the network graph")

// ErrUnexpectedAtRoot is returned for frame types the root never acts
// on (Join, Message, Reunion RES) — logged and dropped by the caller,
// never propagated as a protocol fault.
var ErrUnexpectedAtRoot = errors.New("root: frame type not expected at root")
