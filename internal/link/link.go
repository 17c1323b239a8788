// Package link implements the peer link table: for every remote
// address a node has ever spoken to, an outbound FIFO byte queue and a
// flag distinguishing a registration link (to the root, Register and
// Advertise traffic only) from an ordinary tree link (parent or
// child, carrying Join, Message, and Reunion traffic).
//
// This generalizes the teacher's PeerManager — one pooled connection
// per remote address behind a mutex, resolved and reused on send — to
// "one FIFO queue of frames per remote address", since canopy's
// transport is a plain dialed TCP connection rather than a pooled
// QUIC one.
package link

import (
	"container/list"
	"fmt"
	"sync"

	"canopy/internal/addr"
)

// Sender delivers one already-encoded frame to a remote address. A
// non-nil error is treated as the address being unreachable; the link
// table removes the link rather than retrying.
type Sender interface {
	Send(a addr.Address, frame []byte) error
}

type record struct {
	queue          *list.List
	isRegistration bool
}

// Table is the peer link table. The zero value is not usable; use
// New. A Table is safe for concurrent use.
type Table struct {
	mu    sync.Mutex
	links map[addr.Address]*record
}

// New returns an empty link table.
func New() *Table {
	return &Table{links: make(map[addr.Address]*record)}
}

// Add registers a remote address in the table. Idempotent: if the
// address is already known, its existing registration flag is left
// unchanged and no queue is touched.
func (t *Table) Add(a addr.Address, registration bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.links[a]; ok {
		return
	}
	t.links[a] = &record{queue: list.New(), isRegistration: registration}
}

// SetTreeLink ensures a is known and flagged as an ordinary tree link,
// clearing the registration flag if a was already present. This is
// how a registration link (root, or any address first reached during
// Register/Advertise) gets promoted once it becomes a parent or child
// in the tree — notably the root itself in the single-client bootstrap,
// where Add already created the registration link before Advertise RES
// names the same address as the assigned parent.
func (t *Table) SetTreeLink(a addr.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.links[a]; ok {
		r.isRegistration = false
		return
	}
	t.links[a] = &record{queue: list.New(), isRegistration: false}
}

// Has reports whether a is a known link.
func (t *Table) Has(a addr.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.links[a]
	return ok
}

// IsRegistration reports whether a is known and flagged as a
// registration link. Reports false for an unknown address.
func (t *Table) IsRegistration(a addr.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.links[a]
	return ok && r.isRegistration
}

// Remove drops a link and whatever it had queued, e.g. after a Join
// rejection or a Reunion failure re-advertisement.
func (t *Table) Remove(a addr.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.links, a)
}

// Enqueue appends frame to a's outbound queue. A no-op if a is not a
// known link — callers that need delivery-or-error must Add first.
func (t *Table) Enqueue(a addr.Address, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.links[a]
	if !ok {
		return
	}
	r.queue.PushBack(frame)
}

// TreeAddresses returns every known address whose link is not flagged
// as a registration link.
func (t *Table) TreeAddresses() []addr.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]addr.Address, 0, len(t.links))
	for a, r := range t.links {
		if !r.isRegistration {
			out = append(out, a)
		}
	}
	return out
}

// FlushAll sends every queued frame on every link via send, in FIFO
// order per link, clearing a link's queue once everything queued at
// call time has been sent successfully. A link whose send fails is
// removed from the table entirely — the caller recovers by
// re-advertising or re-joining, not by retrying the same link.
func (t *Table) FlushAll(send Sender) {
	t.flush(send, false)
}

// FlushRegistrationOnly is FlushAll restricted to links flagged as
// registration links; every other link keeps its queued frames.
func (t *Table) FlushRegistrationOnly(send Sender) {
	t.flush(send, true)
}

func (t *Table) flush(send Sender, registrationOnly bool) {
	t.mu.Lock()
	type job struct {
		addr   addr.Address
		frames [][]byte
	}
	jobs := make([]job, 0, len(t.links))
	for a, r := range t.links {
		if registrationOnly && !r.isRegistration {
			continue
		}
		if r.queue.Len() == 0 {
			continue
		}
		frames := make([][]byte, 0, r.queue.Len())
		for e := r.queue.Front(); e != nil; e = e.Next() {
			frames = append(frames, e.Value.([]byte))
		}
		jobs = append(jobs, job{addr: a, frames: frames})
	}
	t.mu.Unlock()

	for _, j := range jobs {
		var sendErr error
		for _, f := range j.frames {
			if sendErr = send.Send(j.addr, f); sendErr != nil {
				sendErr = fmt.Errorf("link: send to %s: %w", j.addr, sendErr)
				break
			}
		}

		t.mu.Lock()
		r, ok := t.links[j.addr]
		if !ok {
			t.mu.Unlock()
			continue
		}
		if sendErr != nil {
			delete(t.links, j.addr)
			t.mu.Unlock()
			continue
		}
		for i := 0; i < len(j.frames) && r.queue.Len() > 0; i++ {
			r.queue.Remove(r.queue.Front())
		}
		t.mu.Unlock()
	}
}
