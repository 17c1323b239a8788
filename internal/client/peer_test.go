package client

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"canopy/internal/addr"
	"canopy/internal/link"
	"canopy/internal/wire"
)

func mustAddr(t *testing.T, ip string, port int) addr.Address {
	t.Helper()
	a, err := addr.New(ip, port)
	if err != nil {
		t.Fatalf("addr.New: %v", err)
	}
	return a
}

type captureSender struct {
	frames map[string][][]byte
}

func (c *captureSender) Send(a addr.Address, frame []byte) error {
	if c.frames == nil {
		c.frames = make(map[string][][]byte)
	}
	c.frames[a.String()] = append(c.frames[a.String()], frame)
	return nil
}

func (c *captureSender) framesFor(a addr.Address) [][]byte {
	return c.frames[a.String()]
}

func newTestPeer(t *testing.T) (*Peer, addr.Address, addr.Address) {
	t.Helper()
	self := mustAddr(t, "10.0.0.2", 2)
	root := mustAddr(t, "10.0.0.1", 1)
	links := link.New()
	p := New(self, root, links, zap.NewNop(), 4*time.Second, 32*time.Second)
	return p, self, root
}

func TestRegisterAdvertiseJoinFlow(t *testing.T) {
	p, self, root := newTestPeer(t)

	p.SendRegister()
	if p.State() != StateUnregistered {
		t.Fatalf("state after SendRegister = %v, want Unregistered", p.State())
	}

	regRes := wire.Packet{Version: wire.Version, Type: wire.TypeRegister, Src: root, Body: wire.EncodeRegisterRes()}
	if err := p.HandleFrame(regRes); err != nil {
		t.Fatalf("handle register res: %v", err)
	}
	if p.State() != StateAwaitingAdvertise {
		t.Fatalf("state after Register RES = %v, want AwaitingAdvertise", p.State())
	}

	parent := mustAddr(t, "10.0.0.3", 3)
	advBody, err := wire.EncodeAdvertiseRes(parent)
	if err != nil {
		t.Fatalf("EncodeAdvertiseRes: %v", err)
	}
	advRes := wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: root, Body: advBody}
	if err := p.HandleFrame(advRes); err != nil {
		t.Fatalf("handle advertise res: %v", err)
	}
	if p.State() != StateConnected {
		t.Fatalf("state after Advertise RES = %v, want Connected", p.State())
	}
	if p.Parent() != parent {
		t.Fatalf("Parent() = %v, want %v", p.Parent(), parent)
	}

	sender := &captureSender{}
	p.links.FlushAll(sender)
	joinFrames := sender.framesFor(parent)
	if len(joinFrames) != 1 {
		t.Fatalf("expected 1 join frame to parent, got %d", len(joinFrames))
	}
	decoded, err := wire.Decode(joinFrames[0])
	if err != nil {
		t.Fatalf("decode join frame: %v", err)
	}
	if decoded.Type != wire.TypeJoin || decoded.Src != self {
		t.Fatalf("unexpected join frame: %+v", decoded)
	}

	_ = self
}

func TestRegisterRejectedReturnsError(t *testing.T) {
	p, _, root := newTestPeer(t)
	bad := wire.Packet{Version: wire.Version, Type: wire.TypeRegister, Src: root, Body: []byte("RESNAK")}
	if err := p.HandleFrame(bad); !errors.Is(err, ErrRegisterRejected) {
		t.Fatalf("expected ErrRegisterRejected, got %v", err)
	}
}

func TestJoinRejectedWhenChildrenFull(t *testing.T) {
	p, _, _ := newTestPeer(t)
	c1 := mustAddr(t, "10.0.0.10", 10)
	c2 := mustAddr(t, "10.0.0.11", 11)
	c3 := mustAddr(t, "10.0.0.12", 12)

	for _, c := range []addr.Address{c1, c2} {
		j := wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: c, Body: wire.EncodeJoin()}
		if err := p.HandleFrame(j); err != nil {
			t.Fatalf("join %v: %v", c, err)
		}
	}

	j3 := wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: c3, Body: wire.EncodeJoin()}
	if err := p.HandleFrame(j3); !errors.Is(err, ErrChildrenFull) {
		t.Fatalf("expected ErrChildrenFull, got %v", err)
	}
	if len(p.Children()) != 2 {
		t.Fatalf("Children() = %v, want 2 entries", p.Children())
	}
}

func TestRepeatedJoinFromExistingChildIsIdempotent(t *testing.T) {
	p, _, _ := newTestPeer(t)
	c1 := mustAddr(t, "10.0.0.10", 10)

	j := wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: c1, Body: wire.EncodeJoin()}
	if err := p.HandleFrame(j); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := p.HandleFrame(j); err != nil {
		t.Fatalf("repeated join from existing child should be a no-op, got error: %v", err)
	}
	if len(p.Children()) != 1 {
		t.Fatalf("Children() = %v, want exactly 1 entry after a repeated Join", p.Children())
	}

	// The child slot freed by the duplicate not being added must still
	// accept a second, genuinely new child.
	c2 := mustAddr(t, "10.0.0.11", 11)
	j2 := wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: c2, Body: wire.EncodeJoin()}
	if err := p.HandleFrame(j2); err != nil {
		t.Fatalf("join from a genuinely new child: %v", err)
	}
	if len(p.Children()) != 2 {
		t.Fatalf("Children() = %v, want 2 entries", p.Children())
	}
}

func TestAdvertiseToRootPromotesRegistrationLinkToTreeLink(t *testing.T) {
	// The single-client bootstrap: root is both the registration peer
	// (from New's links.Add(root, true)) and, once advertised, the
	// assigned parent. The link to root must end up a tree link so
	// Broadcast and Reunion hello traffic reach it.
	p, _, root := newTestPeer(t)

	advBody, err := wire.EncodeAdvertiseRes(root)
	if err != nil {
		t.Fatalf("EncodeAdvertiseRes: %v", err)
	}
	advRes := wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: root, Body: advBody}
	if err := p.HandleFrame(advRes); err != nil {
		t.Fatalf("handle advertise res: %v", err)
	}
	if p.Parent() != root {
		t.Fatalf("Parent() = %v, want root %v", p.Parent(), root)
	}
	if p.links.IsRegistration(root) {
		t.Fatalf("link to root is still flagged as a registration link after being assigned as parent")
	}

	p.Broadcast([]byte("hello"))
	sender := &captureSender{}
	p.links.FlushAll(sender)
	frames := sender.framesFor(root)
	// One Join (from handleAdvertise) plus one Message (from Broadcast).
	if len(frames) != 2 {
		t.Fatalf("expected Join + Message to reach root over the promoted link, got %d frames", len(frames))
	}
}

func TestMessageForwardingExcludesSender(t *testing.T) {
	p, self, _ := newTestPeer(t)
	parent := mustAddr(t, "10.0.0.3", 3)
	child := mustAddr(t, "10.0.0.10", 10)

	// Wire up parent and child as neighbors directly (bypassing the
	// full advertise/join choreography, which is covered elsewhere).
	advBody, _ := wire.EncodeAdvertiseRes(parent)
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: parent, Body: advBody})
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: child, Body: wire.EncodeJoin()})
	// Drain the Join that the Advertise RES queued for parent.
	p.links.FlushAll(&captureSender{})

	msg := wire.Packet{Version: wire.Version, Type: wire.TypeMessage, Src: parent, Body: wire.EncodeMessage([]byte("hi"))}
	if err := p.HandleFrame(msg); err != nil {
		t.Fatalf("handle message: %v", err)
	}

	sender := &captureSender{}
	p.links.FlushAll(sender)

	if frames := sender.framesFor(parent); len(frames) != 0 {
		t.Fatalf("message should not be re-sent to its own sender (parent), got %d frames", len(frames))
	}
	childFrames := sender.framesFor(child)
	if len(childFrames) != 1 {
		t.Fatalf("expected 1 forwarded frame to child, got %d", len(childFrames))
	}
	decoded, _ := wire.Decode(childFrames[0])
	if decoded.Src != self {
		t.Fatalf("forwarded message src = %v, want self %v", decoded.Src, self)
	}
}

func TestMessageFromUnknownSourceIsDropped(t *testing.T) {
	p, _, _ := newTestPeer(t)
	stranger := mustAddr(t, "10.0.0.99", 99)
	msg := wire.Packet{Version: wire.Version, Type: wire.TypeMessage, Src: stranger, Body: wire.EncodeMessage([]byte("hi"))}
	if err := p.HandleFrame(msg); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestReunionHelloAndTimeoutRecovery(t *testing.T) {
	p, _, _ := newTestPeer(t)
	parent := mustAddr(t, "10.0.0.3", 3)
	advBody, _ := wire.EncodeAdvertiseRes(parent)
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: parent, Body: advBody})
	// Drain the Join that the Advertise RES queued for parent.
	p.links.FlushAll(&captureSender{})

	clock := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return clock })

	p.ReunionTick() // sends hello, awaitingHelloBack = true
	sender := &captureSender{}
	p.links.FlushAll(sender)
	if frames := sender.framesFor(parent); len(frames) != 1 {
		t.Fatalf("expected 1 reunion hello, got %d", len(frames))
	}

	// A second tick before the fail window elapses must not resend.
	clock = clock.Add(1 * time.Second)
	p.ReunionTick()
	sender2 := &captureSender{}
	p.links.FlushAll(sender2)
	if frames := sender2.framesFor(parent); len(frames) != 0 {
		t.Fatalf("expected no resend before timeout, got %d frames", len(frames))
	}

	// Past the failure window, the peer must declare failure and
	// re-advertise directly to root.
	clock = clock.Add(40 * time.Second)
	p.ReunionTick()
	if p.State() != StateReunionFailed {
		t.Fatalf("state after timeout = %v, want ReunionFailed", p.State())
	}
	sender3 := &captureSender{}
	p.links.FlushAll(sender3)
	rootFrames := sender3.framesFor(p.root)
	if len(rootFrames) != 1 {
		t.Fatalf("expected 1 re-advertise frame to root, got %d", len(rootFrames))
	}
	decoded, _ := wire.Decode(rootFrames[0])
	if decoded.Type != wire.TypeAdvertise {
		t.Fatalf("expected advertise frame, got type %d", decoded.Type)
	}

	// A further tick while ReunionFailed must not send anything more
	// until a new Advertise RES re-arms the loop.
	clock = clock.Add(10 * time.Second)
	p.ReunionTick()
	sender4 := &captureSender{}
	p.links.FlushAll(sender4)
	if frames := sender4.framesFor(p.root); len(frames) != 0 {
		t.Fatalf("expected no further frames while suspended, got %d", len(frames))
	}

	newParent := mustAddr(t, "10.0.0.4", 4)
	advBody2, _ := wire.EncodeAdvertiseRes(newParent)
	if err := p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: p.root, Body: advBody2}); err != nil {
		t.Fatalf("re-advertise res: %v", err)
	}
	if p.State() != StateConnected || p.Parent() != newParent {
		t.Fatalf("peer did not recover: state=%v parent=%v", p.State(), p.Parent())
	}
}

func TestReunionHelloBackTerminalClearsAwaiting(t *testing.T) {
	p, self, _ := newTestPeer(t)
	parent := mustAddr(t, "10.0.0.3", 3)
	advBody, _ := wire.EncodeAdvertiseRes(parent)
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: parent, Body: advBody})

	clock := time.Unix(1000, 0)
	p.SetClock(func() time.Time { return clock })
	p.ReunionTick() // awaitingHelloBack = true

	resBody, err := wire.EncodeReunion(wire.ReunionRes, []addr.Address{self})
	if err != nil {
		t.Fatalf("EncodeReunion: %v", err)
	}
	res := wire.Packet{Version: wire.Version, Type: wire.TypeReunion, Src: parent, Body: resBody}
	if err := p.HandleFrame(res); err != nil {
		t.Fatalf("handle reunion res: %v", err)
	}

	p.mu.Lock()
	awaiting := p.awaitingHelloBack
	p.mu.Unlock()
	if awaiting {
		t.Fatalf("awaitingHelloBack should be cleared by the terminal hello-back")
	}
}

func TestReunionReqForwardedWithAppendedPath(t *testing.T) {
	p, self, _ := newTestPeer(t)
	parent := mustAddr(t, "10.0.0.3", 3)
	child := mustAddr(t, "10.0.0.10", 10)
	advBody, _ := wire.EncodeAdvertiseRes(parent)
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeAdvertise, Src: parent, Body: advBody})
	p.HandleFrame(wire.Packet{Version: wire.Version, Type: wire.TypeJoin, Src: child, Body: wire.EncodeJoin()})
	// Drain the Join that the Advertise RES queued for parent.
	p.links.FlushAll(&captureSender{})

	reqBody, err := wire.EncodeReunion(wire.ReunionReq, []addr.Address{child})
	if err != nil {
		t.Fatalf("EncodeReunion: %v", err)
	}
	req := wire.Packet{Version: wire.Version, Type: wire.TypeReunion, Src: child, Body: reqBody}
	if err := p.HandleFrame(req); err != nil {
		t.Fatalf("handle reunion req: %v", err)
	}

	sender := &captureSender{}
	p.links.FlushAll(sender)
	frames := sender.framesFor(parent)
	if len(frames) != 1 {
		t.Fatalf("expected 1 forwarded reunion req to parent, got %d", len(frames))
	}
	decoded, _ := wire.Decode(frames[0])
	op, path, err := wire.DecodeReunion(decoded.Body)
	if err != nil {
		t.Fatalf("DecodeReunion: %v", err)
	}
	if op != wire.ReunionReq || len(path) != 2 || path[0] != child || path[1] != self {
		t.Fatalf("unexpected forwarded path: op=%v path=%v", op, path)
	}
}
