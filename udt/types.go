package udt

import (
	"fmt"

	"github.com/arloliu/go-udt/engine"
)

// Family is the address family of a socket.
type Family uint8

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

func (f Family) engine() engine.Family {
	if f == IPv6 {
		return engine.FamilyIPv6
	}

	return engine.FamilyIPv4
}

// Mode is the transfer mode of a socket.
type Mode uint8

const (
	// Stream transfers an ordered byte stream.
	Stream Mode = iota
	// Message preserves message boundaries.
	Message
)

func (m Mode) String() string {
	switch m {
	case Stream:
		return "stream"
	case Message:
		return "message"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) engine() engine.Mode {
	if m == Message {
		return engine.ModeMessage
	}

	return engine.ModeStream
}

// Status is the lifecycle status of a socket. Statuses only ever increase.
type Status int32

const (
	StatusInit Status = iota + 1
	StatusOpened
	StatusListening
	StatusConnecting
	StatusConnected
	StatusBroken
	StatusClosing
	StatusClosed
	StatusNonExist
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusOpened:
		return "OPENED"
	case StatusListening:
		return "LISTENING"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusBroken:
		return "BROKEN"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	case StatusNonExist:
		return "NONEXIST"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

func statusOf(st engine.State) Status {
	switch st {
	case engine.StateInit:
		return StatusInit
	case engine.StateOpened:
		return StatusOpened
	case engine.StateListening:
		return StatusListening
	case engine.StateConnecting:
		return StatusConnecting
	case engine.StateConnected:
		return StatusConnected
	case engine.StateBroken:
		return StatusBroken
	case engine.StateClosing:
		return StatusClosing
	case engine.StateClosed:
		return StatusClosed
	default:
		return StatusNonExist
	}
}

// Stats is a snapshot of socket transfer counters.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	// SendBuffered is the number of bytes waiting in the send buffer.
	SendBuffered int64
	// RecvBuffered is the number of bytes ready to be received.
	RecvBuffered int64
}
