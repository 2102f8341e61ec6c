package engine

import "fmt"

// Handle is an engine's opaque reference to one connection or listening endpoint.
type Handle int32

// InvalidHandle is never returned by a successful Create or Accept.
const InvalidHandle Handle = -1

// Family is the address family of a handle.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Network returns the UDP network name for the family, "udp4" or "udp6".
func (f Family) Network() string {
	if f == FamilyIPv6 {
		return "udp6"
	}

	return "udp4"
}

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Mode is the transfer mode of a handle.
type Mode uint8

const (
	// ModeStream transfers bytes with no preserved boundaries.
	ModeStream Mode = iota
	// ModeMessage preserves each send as one discrete unit on receive.
	ModeMessage
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModeMessage:
		return "message"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// State is the engine side status of a handle. The numbering follows UDTSTATUS.
type State int32

const (
	StateInit State = iota + 1
	StateOpened
	StateListening
	StateConnecting
	StateConnected
	StateBroken
	StateClosing
	StateClosed
	StateNonExist
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpened:
		return "OPENED"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBroken:
		return "BROKEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateNonExist:
		return "NONEXIST"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Event selects the readiness condition Wait parks on.
type Event uint8

const (
	// EventRead: data or a message can be received, or a connection can be accepted.
	EventRead Event = iota
	// EventWrite: the send buffer has room.
	EventWrite
	// EventConnect: a pending connect has resolved, successfully or not.
	EventConnect
	// EventDrain: the send buffer is empty.
	EventDrain
)

func (e Event) String() string {
	switch e {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventConnect:
		return "connect"
	case EventDrain:
		return "drain"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Option identifies an engine owned option. The numbering follows UDTOpt. All values are
// exchanged as int64: booleans are 0 or 1 and durations are nanoseconds.
type Option int

const (
	OptMSS          Option = 0
	OptFlowWindow   Option = 4
	OptSendBuffer   Option = 5
	OptRecvBuffer   Option = 6
	OptLinger       Option = 7
	OptUDPSendBuf   Option = 8
	OptUDPRecvBuf   Option = 9
	OptReuseAddr    Option = 15
	OptMaxBandwidth Option = 16
	OptSendData     Option = 19
	OptRecvData     Option = 20
)

func (o Option) String() string {
	switch o {
	case OptMSS:
		return "UDT_MSS"
	case OptFlowWindow:
		return "UDT_FC"
	case OptSendBuffer:
		return "UDT_SNDBUF"
	case OptRecvBuffer:
		return "UDT_RCVBUF"
	case OptLinger:
		return "UDT_LINGER"
	case OptUDPSendBuf:
		return "UDP_SNDBUF"
	case OptUDPRecvBuf:
		return "UDP_RCVBUF"
	case OptReuseAddr:
		return "UDT_REUSEADDR"
	case OptMaxBandwidth:
		return "UDT_MAXBW"
	case OptSendData:
		return "UDT_SNDDATA"
	case OptRecvData:
		return "UDT_RCVDATA"
	default:
		return fmt.Sprintf("UDT_OPT(%d)", int(o))
	}
}

// PerfStats is a snapshot of per-handle transfer counters.
type PerfStats struct {
	PktSent      uint64
	PktRecv      uint64
	BytesSent    uint64
	BytesRecv    uint64
	SendBuffered int64
	RecvBuffered int64
}
