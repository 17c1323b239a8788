// Package transport implements canopy's external networking
// collaborator (spec §6): a plain TCP listener that delivers one
// decoded Packet per accepted connection, and a dialer that
// implements link.Sender by dialing out, writing one frame, and
// waiting for the transport-level ACK.
//
// This reworks the teacher's ListenAndServe/handleConn/handleStream
// accept-loop shape off QUIC and onto stdlib net.Listener/net.Dial:
// a QUIC stream is a self-delimiting message (io.ReadAll returns at
// EOF), but a TCP connection has no built-in message boundary, so
// each side reads exactly HeaderSize bytes to learn the body length
// before reading the body, rather than reading until EOF.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"canopy/internal/addr"
	"canopy/internal/wire"
)

// ack is the literal transport-level acknowledgement written back to
// the sender after a frame is fully read; it is not a protocol
// message and is never passed to wire.Decode.
var ack = []byte("ACK")

// Listener accepts inbound connections on one TCP port and delivers
// each as a decoded Packet to OnPacket.
type Listener struct {
	name     string
	ln       net.Listener
	log      *zap.Logger
	onPacket func(wire.Packet)
}

// Listen binds a TCP listener at self's host:port. name is used only
// for log lines.
func Listen(name string, self addr.Address, log *zap.Logger, onPacket func(wire.Packet)) (*Listener, error) {
	hostPort, err := self.HostPort()
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	ln, err := net.Listen("tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", hostPort, err)
	}
	return &Listener{name: name, ln: ln, log: log, onPacket: onPacket}, nil
}

// Addr reports the listener's bound address, useful when self's port
// was 0 (OS-assigned) in tests.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until Close is called, handling each on
// its own goroutine. It returns nil when the listener is closed.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			l.log.Warn("accept failed", zap.String("listener", l.name), zap.Error(err))
			continue
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		l.log.Debug("reading frame header failed", zap.Error(err))
		return
	}
	length := binary.BigEndian.Uint32(header[4:8])

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		l.log.Debug("reading frame body failed", zap.Error(err))
		return
	}

	frame := append(header, body...)
	pkt, err := wire.Decode(frame)
	if err != nil {
		l.log.Warn("dropping malformed frame", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
		return
	}

	if _, err := conn.Write(ack); err != nil {
		l.log.Debug("writing transport ack failed", zap.Error(err))
	}

	l.onPacket(pkt)
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Dialer implements link.Sender by dialing out to the destination,
// writing one frame, and waiting for the transport-level ACK.
type Dialer struct {
	Timeout time.Duration
}

// Send dials a, writes frame, and reads back the 3-byte ACK. Any
// failure at any stage is reported to the caller, which per §4.2
// removes the link rather than retrying.
func (d Dialer) Send(a addr.Address, frame []byte) error {
	hostPort, err := a.HostPort()
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", hostPort, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write to %s: %w", hostPort, err)
	}

	got := make([]byte, len(ack))
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("transport: reading ack from %s: %w", hostPort, err)
	}
	if string(got) != string(ack) {
		return fmt.Errorf("transport: unexpected ack from %s: %q", hostPort, got)
	}
	return nil
}
