// Package root implements the root-only membership engine: the
// registration table, the Register/Advertise/Reunion-REQ handlers,
// and the reunion-timeout sweeper that prunes unresponsive subtrees
// from the network graph.
//
// The dispatch shape follows the teacher's Router.HandleEnvelope — a
// single entry point that branches on a frame property and calls out
// to injected collaborators — generalized from Router's single
// REGISTER-flag special case to a switch over all five wire types.
package root

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"canopy/internal/addr"
	"canopy/internal/graph"
	"canopy/internal/link"
	"canopy/internal/wire"
)

// Engine owns root-side membership state: who has registered, the
// network graph, and the last Reunion REQ arrival time per tracked
// address. It is not safe to share across processes; within a
// process, Engine is safe for concurrent use.
type Engine struct {
	self  addr.Address
	graph *graph.Graph
	links *link.Table
	log   *zap.Logger
	now   func() time.Time

	failWindow time.Duration

	mu         sync.Mutex
	registered map[addr.Address]bool
	lastHello  map[addr.Address]time.Time
}

// NewEngine constructs a membership engine rooted at self. links is
// the peer link table the engine enqueues Register/Advertise/Reunion
// responses onto; it must already be shared with whatever transport
// flushes it.
func NewEngine(self addr.Address, g *graph.Graph, links *link.Table, log *zap.Logger, failWindow time.Duration) *Engine {
	return &Engine{
		self:       self,
		graph:      g,
		links:      links,
		log:        log,
		now:        time.Now,
		failWindow: failWindow,
		registered: make(map[addr.Address]bool),
		lastHello:  make(map[addr.Address]time.Time),
	}
}

// SetClock overrides the engine's time source; for tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// IsRegistered reports whether src has completed Register.
func (e *Engine) IsRegistered(src addr.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registered[src]
}

// HandleFrame dispatches an inbound frame per §4.4. It enqueues any
// resulting response frame directly onto the link table (creating a
// registration link on demand for Register/Advertise traffic) and
// returns an error describing why nothing was sent, if applicable.
// Errors are not protocol faults the caller must propagate further;
// the caller logs and moves on, per §5's fault-isolation model.
func (e *Engine) HandleFrame(p wire.Packet) error {
	switch p.Type {
	case wire.TypeRegister:
		return e.handleRegister(p)
	case wire.TypeAdvertise:
		return e.handleAdvertise(p)
	case wire.TypeReunion:
		return e.handleReunion(p)
	default:
		e.log.Warn("frame type not expected at root, dropping",
			zap.Uint16("type", p.Type), zap.String("src", p.Src.String()))
		return ErrUnexpectedAtRoot
	}
}

func (e *Engine) handleRegister(p wire.Packet) error {
	if len(p.Body) < 3 {
		return fmt.Errorf("root: %w: register body too short", wire.ErrMalformedPacket)
	}
	switch string(p.Body[:3]) {
	case "REQ":
		if _, err := wire.DecodeRegisterReq(p.Body); err != nil {
			return fmt.Errorf("root: handleRegister: %w", err)
		}
		e.mu.Lock()
		e.registered[p.Src] = true
		e.mu.Unlock()

		e.links.Add(p.Src, true)
		e.respond(p.Src, wire.TypeRegister, wire.EncodeRegisterRes())
		e.log.Info("registered peer", zap.String("src", p.Src.String()))
		return nil
	default:
		// The root never receives a Register RES; the original
		// source silently ignores it and so do we.
		return nil
	}
}

func (e *Engine) handleAdvertise(p wire.Packet) error {
	if len(p.Body) < 3 {
		return fmt.Errorf("root: %w: advertise body too short", wire.ErrMalformedPacket)
	}
	switch string(p.Body[:3]) {
	case "REQ":
		if err := wire.DecodeAdvertiseReq(p.Body); err != nil {
			return fmt.Errorf("root: handleAdvertise: %w", err)
		}
		if !e.IsRegistered(p.Src) {
			e.log.Warn("advertise from unregistered source, ignoring", zap.String("src", p.Src.String()))
			return ErrNotRegistered
		}

		parent, ok := e.graph.FindLiveNode(p.Src)
		if !ok {
			return ErrNoEligibleParent
		}
		// Re-advertise-after-reunion-failure can name an address
		// already in the graph; AddChild permits this (see its doc
		// comment) rather than rejecting it.
		if err := e.graph.AddChild(parent, p.Src); err != nil {
			return fmt.Errorf("root: handleAdvertise: %w", err)
		}

		body, err := wire.EncodeAdvertiseRes(parent)
		if err != nil {
			return fmt.Errorf("root: handleAdvertise: %w", err)
		}
		e.links.Add(p.Src, true)
		e.respond(p.Src, wire.TypeAdvertise, body)
		e.log.Info("advertised parent", zap.String("src", p.Src.String()), zap.String("parent", parent.String()))
		return nil
	default:
		e.log.Warn("advertise response not expected at root, dropping", zap.String("src", p.Src.String()))
		return ErrUnexpectedAtRoot
	}
}

func (e *Engine) handleReunion(p wire.Packet) error {
	op, path, err := wire.DecodeReunion(p.Body)
	if err != nil {
		return fmt.Errorf("root: handleReunion: %w", err)
	}
	if op == wire.ReunionRes {
		e.log.Warn("reunion response not expected at root, dropping", zap.String("src", p.Src.String()))
		return ErrUnexpectedAtRoot
	}
	if len(path) == 0 {
		return fmt.Errorf("root: handleReunion: %w: empty path", wire.ErrMalformedPacket)
	}

	origin := path[0]
	e.mu.Lock()
	e.lastHello[origin] = e.now()
	e.mu.Unlock()
	e.graph.MarkAlive(origin)

	reversed := make([]addr.Address, len(path))
	for i, a := range path {
		reversed[len(path)-1-i] = a
	}
	nextHop := path[len(path)-1]

	body, err := wire.EncodeReunion(wire.ReunionRes, reversed)
	if err != nil {
		return fmt.Errorf("root: handleReunion: %w", err)
	}
	e.links.Add(nextHop, false)
	e.respond(nextHop, wire.TypeReunion, body)
	return nil
}

// Sweep prunes every tracked address whose last Reunion REQ predates
// half the failure window — the root's sweeper threshold is T_fail/2,
// not T_fail itself — removing its subtree from the graph. It returns
// every address removed, across all pruned subtrees, for logging.
func (e *Engine) Sweep() []addr.Address {
	now := e.now()
	threshold := e.failWindow / 2

	e.mu.Lock()
	stale := make([]addr.Address, 0)
	for a, t := range e.lastHello {
		if now.Sub(t) > threshold {
			stale = append(stale, a)
		}
	}
	e.mu.Unlock()

	var removed []addr.Address
	for _, a := range stale {
		gone := e.graph.RemoveSubtree(a)
		if len(gone) == 0 {
			continue
		}
		removed = append(removed, gone...)

		e.mu.Lock()
		for _, g := range gone {
			delete(e.lastHello, g)
		}
		e.mu.Unlock()

		e.log.Info("reunion timeout, pruned subtree",
			zap.String("root_of_subtree", a.String()), zap.Int("nodes_removed", len(gone)))
	}
	return removed
}

// respond encodes a frame sourced from self and enqueues it to dest.
// Encode only fails for a malformed Packet, which cannot happen here
// since every body above was produced by the matching wire.Encode*
// helper; a failure indicates a programming error, so it is logged
// rather than threaded back through every call site.
func (e *Engine) respond(dest addr.Address, typ uint16, body []byte) {
	frame, err := wire.Encode(wire.Packet{Version: wire.Version, Type: typ, Src: e.self, Body: body})
	if err != nil {
		e.log.Error("encoding a self-produced frame failed, dropping", zap.Error(err))
		return
	}
	e.links.Enqueue(dest, frame)
}
