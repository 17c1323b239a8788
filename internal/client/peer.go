// Package client implements the non-root peer state machine: the
// Register/Advertise/Join choreography a peer drives against the
// root, tree-neighbor message forwarding, and the reunion hello loop
// that detects and recovers from a severed path to root.
//
// Grounded on original_source/src/Peer.py's non-root branches for
// exact sequencing, with the dispatch shape borrowed from the
// teacher's Router.HandleEnvelope (single entry point, switch on
// frame type, injected link table as the sole side effect).
package client

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"canopy/internal/addr"
	"canopy/internal/link"
	"canopy/internal/wire"
)

// Peer is one non-root node's local state. Safe for concurrent use.
type Peer struct {
	self addr.Address
	root addr.Address

	links *link.Table
	log   *zap.Logger
	now   func() time.Time

	helloInterval time.Duration
	failWindow    time.Duration

	mu                sync.Mutex
	state             State
	parent            addr.Address
	children          []addr.Address
	awaitingHelloBack bool
	helloSentAt       time.Time
}

// New constructs a Peer that has not yet registered with root.
func New(self, root addr.Address, links *link.Table, log *zap.Logger, helloInterval, failWindow time.Duration) *Peer {
	p := &Peer{
		self:          self,
		root:          root,
		links:         links,
		log:           log,
		now:           time.Now,
		helloInterval: helloInterval,
		failWindow:    failWindow,
		state:         StateUnregistered,
	}
	links.Add(root, true)
	return p
}

// SetClock overrides the peer's time source; for tests only.
func (p *Peer) SetClock(now func() time.Time) {
	p.now = now
}

// State reports the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Parent reports the peer's current parent, or addr.Zero if unset.
func (p *Peer) Parent() addr.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Children reports the peer's current children, in join order.
func (p *Peer) Children() []addr.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]addr.Address, len(p.children))
	copy(out, p.children)
	return out
}

// SendRegister emits a Register REQ to root on the registration link,
// per the "Register" command (§6). No state change.
func (p *Peer) SendRegister() {
	body, err := wire.EncodeRegisterReq(p.self)
	if err != nil {
		p.log.Error("encoding register request failed", zap.Error(err))
		return
	}
	p.respond(p.root, wire.TypeRegister, body)
}

// SendAdvertise emits an Advertise REQ to root on the registration
// link, per the "Advertise" command (§6).
func (p *Peer) SendAdvertise() {
	p.respond(p.root, wire.TypeAdvertise, wire.EncodeAdvertiseReq())
}

// Broadcast emits a new Message packet carrying payload to every
// current tree neighbor (parent and children), per the "SendMessage"
// command (§6). Never traverses the registration link.
func (p *Peer) Broadcast(payload []byte) {
	p.mu.Lock()
	neighbors := p.neighborsLocked()
	p.mu.Unlock()

	body := wire.EncodeMessage(payload)
	for _, n := range neighbors {
		p.respond(n, wire.TypeMessage, body)
	}
}

// neighborsLocked returns parent (if set) and all children. Caller
// must hold p.mu.
func (p *Peer) neighborsLocked() []addr.Address {
	out := make([]addr.Address, 0, len(p.children)+1)
	if !p.parent.IsZero() {
		out = append(out, p.parent)
	}
	out = append(out, p.children...)
	return out
}

func (p *Peer) isNeighborLocked(a addr.Address) bool {
	if p.parent == a {
		return true
	}
	for _, c := range p.children {
		if c == a {
			return true
		}
	}
	return false
}

// HandleFrame dispatches an inbound frame per §4.5.
func (p *Peer) HandleFrame(pkt wire.Packet) error {
	switch pkt.Type {
	case wire.TypeRegister:
		return p.handleRegister(pkt)
	case wire.TypeAdvertise:
		return p.handleAdvertise(pkt)
	case wire.TypeJoin:
		return p.handleJoin(pkt)
	case wire.TypeMessage:
		return p.handleMessage(pkt)
	case wire.TypeReunion:
		return p.handleReunion(pkt)
	default:
		return fmt.Errorf("client: %w: unknown frame type %d", wire.ErrMalformedPacket, pkt.Type)
	}
}

func (p *Peer) handleRegister(pkt wire.Packet) error {
	if len(pkt.Body) < 3 || string(pkt.Body[:3]) != "RES" {
		// REQ never arrives at a non-root peer; ignore per source.
		return nil
	}
	if err := wire.DecodeRegisterRes(pkt.Body); err != nil {
		return fmt.Errorf("client: %w", ErrRegisterRejected)
	}

	p.mu.Lock()
	p.state = StateAwaitingAdvertise
	p.mu.Unlock()

	p.SendAdvertise()
	p.log.Info("register acknowledged, advertising", zap.String("root", p.root.String()))
	return nil
}

func (p *Peer) handleAdvertise(pkt wire.Packet) error {
	if len(pkt.Body) < 3 || string(pkt.Body[:3]) != "RES" {
		// REQ never arrives at a non-root peer; ignore.
		return nil
	}
	parent, err := wire.DecodeAdvertiseRes(pkt.Body)
	if err != nil {
		return fmt.Errorf("client: handleAdvertise: %w", err)
	}

	p.mu.Lock()
	p.parent = parent
	p.state = StateConnected
	p.awaitingHelloBack = false
	p.mu.Unlock()

	p.links.SetTreeLink(parent)
	p.respond(parent, wire.TypeJoin, wire.EncodeJoin())
	p.log.Info("advertised parent, joining", zap.String("parent", parent.String()))
	return nil
}

func (p *Peer) handleJoin(pkt wire.Packet) error {
	if err := wire.DecodeJoin(pkt.Body); err != nil {
		return fmt.Errorf("client: handleJoin: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.children {
		if c == pkt.Src {
			// Repeated Join from an existing child is idempotent.
			return nil
		}
	}
	if len(p.children) >= 2 {
		p.log.Warn("join rejected, already have two children", zap.String("src", pkt.Src.String()))
		return ErrChildrenFull
	}
	p.children = append(p.children, pkt.Src)
	p.links.Add(pkt.Src, false)
	p.log.Info("child joined", zap.String("src", pkt.Src.String()))
	return nil
}

func (p *Peer) handleMessage(pkt wire.Packet) error {
	payload := wire.DecodeMessage(pkt.Body)

	p.mu.Lock()
	known := p.isNeighborLocked(pkt.Src)
	neighbors := p.neighborsLocked()
	p.mu.Unlock()

	if !known {
		p.log.Warn("message from unknown source, dropping", zap.String("src", pkt.Src.String()))
		return ErrUnknownSource
	}

	body := wire.EncodeMessage(payload)
	for _, n := range neighbors {
		if n == pkt.Src {
			continue
		}
		p.respond(n, wire.TypeMessage, body)
	}
	return nil
}

func (p *Peer) handleReunion(pkt wire.Packet) error {
	op, path, err := wire.DecodeReunion(pkt.Body)
	if err != nil {
		return fmt.Errorf("client: handleReunion: %w", err)
	}

	if op == wire.ReunionReq {
		extended := append(append([]addr.Address{}, path...), p.self)
		body, err := wire.EncodeReunion(wire.ReunionReq, extended)
		if err != nil {
			return fmt.Errorf("client: handleReunion: %w", err)
		}
		p.mu.Lock()
		parent := p.parent
		p.mu.Unlock()
		if parent.IsZero() {
			return fmt.Errorf("client: handleReunion: %w: no parent to forward to", ErrUnknownSource)
		}
		p.respond(parent, wire.TypeReunion, body)
		return nil
	}

	// ReunionRes
	if len(path) == 0 || path[0] != p.self {
		return fmt.Errorf("client: handleReunion: %w", ErrMisdirectedReunion)
	}
	if len(path) == 1 {
		p.mu.Lock()
		p.awaitingHelloBack = false
		p.mu.Unlock()
		p.log.Debug("reunion hello-back received", zap.String("self", p.self.String()))
		return nil
	}

	rest := path[1:]
	next := rest[0]
	p.mu.Lock()
	isNeighbor := p.isNeighborLocked(next)
	p.mu.Unlock()
	if !isNeighbor {
		return fmt.Errorf("client: handleReunion: %w", ErrMisdirectedReunion)
	}
	body, err := wire.EncodeReunion(wire.ReunionRes, rest)
	if err != nil {
		return fmt.Errorf("client: handleReunion: %w", err)
	}
	p.respond(next, wire.TypeReunion, body)
	return nil
}

// ReunionTick drives one cycle of the reunion loop (§4.5): sends a
// hello if none is outstanding and at least the hello interval has
// passed since the previous one, or declares failure and re-advertises
// if the outstanding hello has aged past the failure window. A no-op
// while the peer is not yet Connected or while suspended in
// ReunionFailed awaiting a fresh Advertise RES to re-arm it.
func (p *Peer) ReunionTick() {
	p.mu.Lock()
	state := p.state
	parent := p.parent
	awaiting := p.awaitingHelloBack
	sentAt := p.helloSentAt
	p.mu.Unlock()

	if state != StateConnected {
		return
	}
	if parent.IsZero() {
		return
	}

	now := p.now()

	if awaiting {
		if now.Sub(sentAt) > p.failWindow {
			p.mu.Lock()
			p.state = StateReunionFailed
			p.awaitingHelloBack = false
			p.mu.Unlock()

			p.log.Warn("reunion failed, re-advertising", zap.String("parent", parent.String()))
			p.SendAdvertise()
		}
		return
	}
	if !sentAt.IsZero() && now.Sub(sentAt) < p.helloInterval {
		return
	}

	body, err := wire.EncodeReunion(wire.ReunionReq, []addr.Address{p.self})
	if err != nil {
		p.log.Error("encoding reunion hello failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.awaitingHelloBack = true
	p.helloSentAt = now
	p.mu.Unlock()

	p.respond(parent, wire.TypeReunion, body)
}

func (p *Peer) respond(dest addr.Address, typ uint16, body []byte) {
	frame, err := wire.Encode(wire.Packet{Version: wire.Version, Type: typ, Src: p.self, Body: body})
	if err != nil {
		p.log.Error("encoding a self-produced frame failed, dropping", zap.Error(err))
		return
	}
	p.links.Enqueue(dest, frame)
}
