package engine

import (
	"context"
	"net"
)

// Engine is the transport engine contract consumed by udt.Socket.
//
// Implementations must be safe for concurrent use across different handles. Calls on one
// handle may also race with Close on that handle; such calls must fail with CodeInvalidSock
// rather than hang or panic.
type Engine interface {
	// Create allocates a new handle in StateInit.
	Create(family Family, mode Mode) (Handle, error)

	// Bind binds h to the "host:port" address.
	Bind(h Handle, addr string) error

	// Listen puts a bound handle into StateListening with the given backlog.
	Listen(h Handle, backlog int) error

	// Accept returns a handle for a queued inbound connection, or CodeAsyncRecv when none is
	// queued. The new handle is in StateConnected and inherits the listener's options.
	Accept(h Handle) (Handle, error)

	// Connect starts a connection to addr, or reports the progress of one already started.
	// It returns nil once the handle is connected and CodeAsyncRecv while the handshake is
	// still in flight.
	Connect(h Handle, addr string) error

	// Send queues as many bytes of p as fit in the send buffer and returns the count.
	// It returns CodeAsyncSend when nothing fits.
	Send(h Handle, p []byte) (int, error)

	// Recv copies up to len(p) available bytes into p. It returns CodeAsyncRecv when no
	// byte is available.
	Recv(h Handle, p []byte) (int, error)

	// SendMessage queues p as one message, entirely or not at all.
	SendMessage(h Handle, p []byte) error

	// RecvMessage copies the next whole message into p. It returns CodeLargeMsg, without
	// consuming the message, when p is too small.
	RecvMessage(h Handle, p []byte) (int, error)

	// SetOption stores value for opt and returns the value actually stored, which may be
	// clamped to a valid range.
	SetOption(h Handle, opt Option, value int64) (int64, error)

	// GetOption returns the stored value of opt.
	GetOption(h Handle, opt Option) (int64, error)

	// Close releases h. Pending outbound data is flushed in the background for at most the
	// handle's linger time.
	Close(h Handle) error

	// Status returns the state of h, StateNonExist for unknown handles.
	Status(h Handle) State

	// LocalAddr returns the local address of a bound or connected handle.
	LocalAddr(h Handle) (net.Addr, error)

	// PeerAddr returns the remote address of a connected handle.
	PeerAddr(h Handle) (net.Addr, error)

	// Wait blocks until ev may be satisfied on h, the handle changes state, or ctx is done.
	// A nil return is a hint to retry, not a guarantee that the retry succeeds.
	Wait(ctx context.Context, h Handle, ev Event) error

	// Perf returns transfer counters of h.
	Perf(h Handle) (PerfStats, error)
}
