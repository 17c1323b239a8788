// Package console implements the line-oriented external command
// reader (spec §6): Register, Advertise, and SendMessage<newline>text
// lines, each turned into a Command and pushed onto a channel the
// main loop drains once per tick.
//
// Grounded on original_source/src/UserInterface.py's input-loop-into-
// a-buffer shape, reworked from an unbounded Python list polled by a
// second thread into a buffered Go channel, which is the idiomatic
// single-writer/single-reader handoff for this corpus.
package console

import (
	"bufio"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Kind identifies which of the three commands a Command carries.
type Kind int

const (
	Register Kind = iota
	Advertise
	SendMessage
)

func (k Kind) String() string {
	switch k {
	case Register:
		return "Register"
	case Advertise:
		return "Advertise"
	case SendMessage:
		return "SendMessage"
	default:
		return "Unknown"
	}
}

// Command is one parsed line of user input. Payload is only set for
// SendMessage, where it holds the following line's text.
type Command struct {
	Kind    Kind
	Payload string
}

// Reader scans commands from an underlying io.Reader (typically
// os.Stdin) and delivers them to a channel.
type Reader struct {
	scanner *bufio.Scanner
	log     *zap.Logger
}

// New wraps r as a command source.
func New(r io.Reader, log *zap.Logger) *Reader {
	return &Reader{scanner: bufio.NewScanner(r), log: log}
}

// Run reads lines until EOF or a read error, pushing a Command onto
// out for each recognized command. Unrecognized lines are ignored
// (§6: "ignore irregular commands from the user"). Run blocks; the
// caller runs it on its own goroutine and closes out is the caller's
// responsibility once Run returns.
func (r *Reader) Run(out chan<- Command) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		switch line {
		case "Register":
			out <- Command{Kind: Register}
		case "Advertise":
			out <- Command{Kind: Advertise}
		case "SendMessage":
			if !r.scanner.Scan() {
				return
			}
			out <- Command{Kind: SendMessage, Payload: r.scanner.Text()}
		case "":
			// blank line, ignore
		default:
			r.log.Warn("ignoring unrecognized command", zap.String("line", line))
		}
	}
	if err := r.scanner.Err(); err != nil {
		r.log.Warn("command reader stopped", zap.Error(err))
	}
}
