// Package overlay assembles the lower layers (wire codec, link
// table, TCP transport, and either the root membership engine or the
// client peer state machine) into one runnable Node, and drives the
// Main Loop and Reunion Daemon described in §4.6 and §5.
//
// The Node/Builder split is the teacher's host.Host/host.Builder
// Facade pattern carried over directly: a struct bundling the lower
// layers behind a small surface (Run), built by a chained Builder
// that fills in sensible defaults, rather than a constructor with a
// dozen positional parameters.
package overlay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"canopy/internal/addr"
	"canopy/internal/client"
	"canopy/internal/console"
	"canopy/internal/graph"
	"canopy/internal/link"
	"canopy/internal/root"
	"canopy/internal/transport"
	"canopy/internal/wire"
)

const (
	defaultTickInterval    = 2 * time.Second
	defaultHelloInterval   = 4 * time.Second
	defaultFailWindow      = 32 * time.Second
	defaultSweepInterval   = 2 * time.Second
	inboundBufferSize      = 256
	commandBufferSize      = 64
	defaultDialTimeout     = 5 * time.Second
)

// Node is one running overlay participant, root or client.
type Node struct {
	self   addr.Address
	isRoot bool
	log    *zap.Logger

	links    *link.Table
	listener *transport.Listener
	dialer   transport.Dialer

	rootEngine *root.Engine
	clientPeer *client.Peer

	commandReader *console.Reader
	inbound       chan wire.Packet
	commands      chan console.Command

	tickInterval  time.Duration
	sweepInterval time.Duration
}

// Builder progressively configures a Node; see NewBuilder.
type Builder struct {
	self          addr.Address
	isRoot        bool
	rootAddr      addr.Address
	log           *zap.Logger
	helloInterval time.Duration
	failWindow    time.Duration
	tickInterval  time.Duration
	sweepInterval time.Duration
	commandInput  io.Reader
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Self sets this node's own address; required.
func (b *Builder) Self(a addr.Address) *Builder {
	b.self = a
	return b
}

// AsRoot marks this node as the tree root.
func (b *Builder) AsRoot() *Builder {
	b.isRoot = true
	return b
}

// RootAddress sets the address of the root to register with; required
// for a client node, ignored for a root node.
func (b *Builder) RootAddress(a addr.Address) *Builder {
	b.rootAddr = a
	return b
}

// Logger sets the node's logger; Build defaults to zap.NewNop() if
// unset, which makes a bare Builder safe to Build in tests.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.log = l
	return b
}

// HelloInterval overrides the client reunion hello period (default 4s).
func (b *Builder) HelloInterval(d time.Duration) *Builder {
	b.helloInterval = d
	return b
}

// FailWindow overrides the reunion failure window (default 32s),
// used both by the client's reunion loop and the root's sweeper.
func (b *Builder) FailWindow(d time.Duration) *Builder {
	b.failWindow = d
	return b
}

// TickInterval overrides the Main Loop's drain/flush period (default
// 2s).
func (b *Builder) TickInterval(d time.Duration) *Builder {
	b.tickInterval = d
	return b
}

// CommandInput sets the source the command reader scans; Build
// defaults to os.Stdin if unset.
func (b *Builder) CommandInput(r io.Reader) *Builder {
	b.commandInput = r
	return b
}

// Build validates the configuration, binds the TCP listener, and
// returns a ready-to-Run Node.
func (b *Builder) Build() (*Node, error) {
	if b.self.IsZero() {
		return nil, fmt.Errorf("overlay: Self address is required")
	}
	if !b.isRoot && b.rootAddr.IsZero() {
		return nil, fmt.Errorf("overlay: RootAddress is required for a client node")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	helloInterval := orDefault(b.helloInterval, defaultHelloInterval)
	failWindow := orDefault(b.failWindow, defaultFailWindow)
	tickInterval := orDefault(b.tickInterval, defaultTickInterval)
	sweepInterval := orDefault(b.sweepInterval, defaultSweepInterval)
	cmdInput := b.commandInput
	if cmdInput == nil {
		cmdInput = os.Stdin
	}

	links := link.New()
	n := &Node{
		self:          b.self,
		isRoot:        b.isRoot,
		log:           log,
		links:         links,
		dialer:        transport.Dialer{Timeout: defaultDialTimeout},
		commandReader: console.New(cmdInput, log),
		inbound:       make(chan wire.Packet, inboundBufferSize),
		commands:      make(chan console.Command, commandBufferSize),
		tickInterval:  tickInterval,
		sweepInterval: sweepInterval,
	}

	ln, err := transport.Listen(b.self.String(), b.self, log, func(p wire.Packet) {
		n.inbound <- p
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: build: %w", err)
	}
	n.listener = ln

	if b.isRoot {
		n.rootEngine = root.NewEngine(b.self, graph.New(b.self), links, log, failWindow)
	} else {
		n.clientPeer = client.New(b.self, b.rootAddr, links, log, helloInterval, failWindow)
	}

	return n, nil
}

// Self reports the node's own address.
func (n *Node) Self() addr.Address {
	return n.self
}

// IsRoot reports whether this node is the tree root.
func (n *Node) IsRoot() bool {
	return n.isRoot
}

// RootEngine returns the root membership engine, or nil for a client
// node. Exposed for inspection, mirroring the teacher's Host exposing
// its assembled collaborators as fields.
func (n *Node) RootEngine() *root.Engine {
	return n.rootEngine
}

// ClientPeer returns the client peer state machine, or nil for a root
// node.
func (n *Node) ClientPeer() *client.Peer {
	return n.clientPeer
}

// Commands returns the channel the command reader feeds and the main
// loop drains, so a caller (or a test) can inject commands directly
// without going through CommandInput.
func (n *Node) Commands() chan<- console.Command {
	return n.commands
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

// Run starts the acceptor, command reader, main loop, and reunion
// daemon, and blocks until ctx is canceled or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.listener.Serve()
		if err != nil {
			return fmt.Errorf("overlay: listener: %w", err)
		}
		return nil
	})

	// The command reader blocks on reading stdin, which Go offers no
	// portable way to interrupt on ctx cancellation; run it outside the
	// errgroup's wait set so a pending read never blocks shutdown.
	go n.commandReader.Run(n.commands)

	g.Go(func() error {
		return n.mainLoop(ctx)
	})

	g.Go(func() error {
		return n.reunionDaemon(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		return n.listener.Close()
	})

	return g.Wait()
}

// mainLoop implements §4.6: per tick, drain inbound, drain commands,
// then flush outbound queues, in that order so responses generated
// this tick ride the same tick's flush.
func (n *Node) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.drainInbound()
			n.drainCommands()
			n.links.FlushAll(n.dialer)
		}
	}
}

func (n *Node) drainInbound() {
	for {
		select {
		case p := <-n.inbound:
			n.dispatch(p)
		default:
			return
		}
	}
}

func (n *Node) dispatch(p wire.Packet) {
	var err error
	if n.isRoot {
		err = n.rootEngine.HandleFrame(p)
	} else {
		err = n.clientPeer.HandleFrame(p)
	}
	if err != nil {
		n.log.Debug("frame handling declined", zap.Error(err), zap.String("src", p.Src.String()), zap.Uint16("type", p.Type))
	}
}

func (n *Node) drainCommands() {
	for {
		select {
		case cmd, ok := <-n.commands:
			if !ok {
				return
			}
			n.runCommand(cmd)
		default:
			return
		}
	}
}

func (n *Node) runCommand(cmd console.Command) {
	if n.isRoot {
		n.log.Warn("ignoring client command at root", zap.String("command", cmd.Kind.String()))
		return
	}
	switch cmd.Kind {
	case console.Register:
		n.clientPeer.SendRegister()
	case console.Advertise:
		n.clientPeer.SendAdvertise()
	case console.SendMessage:
		n.clientPeer.Broadcast([]byte(cmd.Payload))
	}
}

// reunionDaemon is the second concurrent activity of §5: the
// timeout sweeper on the root, the hello/timeout loop on a client.
func (n *Node) reunionDaemon(ctx context.Context) error {
	interval := n.sweepInterval
	if !n.isRoot {
		interval = n.tickInterval // ReunionTick self-paces off its own clock; tick frequently enough to notice timeouts promptly
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n.isRoot {
				n.rootEngine.Sweep()
			} else {
				n.clientPeer.ReunionTick()
			}
		}
	}
}
