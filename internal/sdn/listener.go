package sdn

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
	"github.com/n0remac/uavmesh/internal/supervise"
)

const recvTimeout = 3 * time.Second

// CommandKind distinguishes a video-start request from a stop request.
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandStop
)

// Command is a decoded SDN control command (spec.md §4.11): "nodeK"
// starts video for the node whose last octet is K+99; "EndK" stops it.
type Command struct {
	Kind      CommandKind
	LastOctet byte
}

// lastOctetBase is the constant the original adds to the index carried
// in an SDN command to get the addressed node's last IP octet (the
// subnet is 192.168.2.1XX, so node index 0 addresses .99, matching
// `sdn_cmd.cpp`'s idx+99).
const lastOctetBase = 99

// ParseCommand decodes one SDN command line. Per spec.md §9's resolved
// open question, "node"/"End" are treated as prefixes (not whole-string
// matches), matching the original's strstr-based intent rather than its
// literal (and almost certainly buggy) comparison.
func ParseCommand(raw []byte) (Command, error) {
	text := strings.TrimRight(string(raw), "\x00")
	text = strings.TrimRight(text, "\r\n")

	switch {
	case strings.HasPrefix(text, "node"):
		idx, err := strconv.Atoi(strings.TrimPrefix(text, "node"))
		if err != nil {
			return Command{}, fmt.Errorf("sdn: bad node index in %q: %w", text, errs.ErrMalformedPacket)
		}
		return Command{Kind: CommandStart, LastOctet: byte(idx + lastOctetBase)}, nil
	case strings.HasPrefix(text, "End"):
		idx, err := strconv.Atoi(strings.TrimPrefix(text, "End"))
		if err != nil {
			return Command{}, fmt.Errorf("sdn: bad End index in %q: %w", text, errs.ErrMalformedPacket)
		}
		return Command{Kind: CommandStop, LastOctet: byte(idx + lastOctetBase)}, nil
	default:
		return Command{}, fmt.Errorf("sdn: unrecognized command %q: %w", text, errs.ErrMalformedPacket)
	}
}

// Listener decodes inbound SDN commands (spec.md §4.11). Decoding is the
// listener's whole job; OnCommand, if set, is how a caller (the video
// controller) hooks into what was decoded — dispatch beyond decoding is
// this node's own addition, not a requirement of the listener itself.
type Listener struct {
	conn      Transport
	log       logrus.FieldLogger
	OnCommand func(Command)
}

// NewListener builds a Listener.
func NewListener(conn Transport, log logrus.FieldLogger) *Listener {
	return &Listener{conn: conn, log: log}
}

// Run processes commands until stop is requested.
func (l *Listener) Run(stop *supervise.Stoppable) error {
	buf := make([]byte, 256)
	for !stop.StopRequested() {
		if err := l.conn.SetReadDeadline(recvTimeout); err != nil {
			return err
		}
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if stop.StopRequested() {
				return nil
			}
			l.log.WithError(err).Warn("sdn: receive error")
			continue
		}
		cmd, perr := ParseCommand(buf[:n])
		if perr != nil {
			l.log.WithError(perr).Warn("sdn: dropping unparseable command")
			continue
		}
		l.log.WithField("kind", cmd.Kind).WithField("lastOctet", cmd.LastOctet).Info("sdn: command received")
		if l.OnCommand != nil {
			l.OnCommand(cmd)
		}
	}
	return nil
}
