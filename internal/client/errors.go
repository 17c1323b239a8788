package client

import "errors"

// ErrRegisterRejected is returned by HandleFrame when the root replied
// to Register with anything other than ACK. The peer's state is left
// unchanged; overlay.Node logs it like any other declined frame and
// keeps running, so the node does not stop on it.
var ErrRegisterRejected = errors.New("client: register request was rejected by root")

// ErrUnknownSource is returned when a Message arrives from an address
// that is neither the current parent nor a current child, or when a
// Reunion REQ arrives while this peer has no parent to forward it to.
// The source of a Reunion REQ is not checked.
var ErrUnknownSource = errors.New("client: frame from an unknown neighbor")

// ErrMisdirectedReunion is returned when a Reunion RES path's head
// does not name this peer, or when forwarding a shortened path would
// require sending to a non-neighbor.
var ErrMisdirectedReunion = errors.New("client: reunion response misdirected")

// ErrChildrenFull is returned when a Join arrives but this peer
// already has two children; the join is silently dropped by the
// caller, per §4.5, with this error surfaced only for logging.
var ErrChildrenFull = errors.New("client: already have two children")
