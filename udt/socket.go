package udt

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-udt/engine"
	"github.com/arloliu/go-udt/logger"
)

const (
	opCreate  = "create"
	opBind    = "bind"
	opListen  = "listen"
	opConnect = "connect"
	opAccept  = "accept"
	opSend    = "send"
	opRecv    = "recv"
	opSendMsg = "sendmsg"
	opRecvMsg = "recvmsg"
	opSetOpt  = "setsockopt"
	opGetOpt  = "getsockopt"
	opClose   = "close"
	opAddr    = "getsockname"
	opPeer    = "getpeername"
	opStats   = "perfmon"
)

var (
	errSocketClosed = errors.New("socket closed")
	errOpTimeout    = errors.New("operation timed out")
)

// handleRef is the cleanup argument releasing a handle whose Socket became unreachable.
type handleRef struct {
	eng    engine.Engine
	handle engine.Handle
}

func releaseHandle(ref handleRef) {
	_ = ref.eng.Close(ref.handle)
}

// Socket is a connection oriented socket over a transport engine.
//
// A Socket exclusively owns one engine handle. Operations on one Socket must be serialized
// by the caller, except Close, which may be called from any goroutine and makes every
// blocked operation on the socket fail with ErrClosed.
type Socket struct {
	eng    engine.Engine
	handle engine.Handle
	family Family
	mode   Mode
	logger logger.Logger

	sendSync    atomic.Bool
	recvSync    atomic.Bool
	sendTimeout atomic.Int64
	recvTimeout atomic.Int64

	status  atomic.Int32
	closed  atomic.Bool
	closing atomic.Bool

	// ctx is canceled by Close; blocking waits derive their lifetime from it
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup runtime.Cleanup

	mu       sync.Mutex
	snapshot map[Option]any
}

// NewSocket creates a socket on eng. The socket starts in StatusInit with blocking send
// and receive.
func NewSocket(eng engine.Engine, opts ...SocketOption) (*Socket, error) {
	if eng == nil {
		return nil, newError(opCreate, KindInvalidValue, "engine is nil")
	}

	cfg := defaultSocketConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	h, err := eng.Create(cfg.family.engine(), cfg.mode.engine())
	if err != nil {
		return nil, translate(opCreate, err)
	}

	s := newSocket(eng, h, cfg)
	s.logger.Debug("socket created", "family", s.family, "mode", s.mode)

	return s, nil
}

func newSocket(eng engine.Engine, h engine.Handle, cfg *socketConfig) *Socket {
	s := &Socket{
		eng:    eng,
		handle: h,
		family: cfg.family,
		mode:   cfg.mode,
		logger: cfg.logger.With("socket", int32(h)),
	}
	s.sendSync.Store(true)
	s.recvSync.Store(true)
	s.status.Store(int32(StatusInit))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cleanup = runtime.AddCleanup(s, releaseHandle, handleRef{eng: eng, handle: h})

	return s
}

// ID returns the engine handle of the socket.
func (s *Socket) ID() int32 { return int32(s.handle) }

// Family returns the address family of the socket.
func (s *Socket) Family() Family { return s.family }

// Mode returns the transfer mode of the socket.
func (s *Socket) Mode() Mode { return s.mode }

// Status returns the current status. The reported status never moves backwards.
func (s *Socket) Status() Status {
	if s.closed.Load() {
		if s.closing.Load() {
			return s.observe(StatusClosing)
		}

		return s.observe(StatusClosed)
	}

	return s.observe(statusOf(s.eng.Status(s.handle)))
}

func (s *Socket) observe(st Status) Status {
	for {
		last := Status(s.status.Load())
		if st <= last {
			return last
		}
		if s.status.CompareAndSwap(int32(last), int32(st)) {
			if st != last {
				s.logger.Debug("socket status changed", "from", last, "to", st)
			}

			return st
		}
	}
}

func (s *Socket) closedError(op string) error {
	return newError(op, KindClosed, errSocketClosed.Error())
}

// Bind binds the socket to a "host:port" address. An empty or wildcard host binds all
// interfaces.
func (s *Socket) Bind(addr string) error {
	if s.closed.Load() {
		return s.closedError(opBind)
	}

	if err := s.eng.Bind(s.handle, addr); err != nil {
		return translate(opBind, err)
	}
	s.Status()
	s.logger.Debug("socket bound", "addr", addr)

	return nil
}

// Listen makes a bound socket accept connections, queueing at most backlog of them.
// A backlog that is not positive selects the default of 10.
func (s *Socket) Listen(backlog int) error {
	if s.closed.Load() {
		return s.closedError(opListen)
	}
	if backlog <= 0 {
		backlog = defaultBacklog
	}

	if err := s.eng.Listen(s.handle, backlog); err != nil {
		return translate(opListen, err)
	}
	s.Status()
	s.logger.Debug("socket listening", "backlog", backlog)

	return nil
}

// Connect connects the socket to a "host:port" address, binding an unbound socket to the
// wildcard address first.
//
// A non-blocking socket (OptSendSync false) starts the handshake and returns ErrWouldBlock;
// call Connect again with the same address until it returns nil.
func (s *Socket) Connect(addr string) error {
	return s.ConnectContext(context.Background(), addr)
}

// ConnectContext is Connect bounded by ctx.
func (s *Socket) ConnectContext(ctx context.Context, addr string) error {
	err := s.run(ctx, opConnect, engine.EventConnect, s.sendSync.Load(), 0, func() error {
		return s.eng.Connect(s.handle, addr)
	})
	s.Status()
	if err != nil {
		return err
	}
	s.logger.Debug("socket connected", "peer", addr)

	return nil
}

// Accept returns a new connected socket for the next inbound connection.
//
// A non-blocking socket (OptRecvSync false) returns ErrWouldBlock when no connection is
// queued. The accepted socket inherits the synchronization and timeout options.
func (s *Socket) Accept() (*Socket, error) {
	return s.AcceptContext(context.Background())
}

// AcceptContext is Accept bounded by ctx.
func (s *Socket) AcceptContext(ctx context.Context) (*Socket, error) {
	var h engine.Handle
	err := s.run(ctx, opAccept, engine.EventRead, s.recvSync.Load(), s.timeout(&s.recvTimeout), func() error {
		var aerr error
		h, aerr = s.eng.Accept(s.handle)

		return aerr
	})
	if err != nil {
		return nil, err
	}

	child := newSocket(s.eng, h, &socketConfig{family: s.family, mode: s.mode, logger: s.logger})
	child.sendSync.Store(s.sendSync.Load())
	child.recvSync.Store(s.recvSync.Load())
	child.sendTimeout.Store(s.sendTimeout.Load())
	child.recvTimeout.Store(s.recvTimeout.Load())
	child.Status()
	child.logger.Debug("socket accepted", "listener", s.ID())

	return child, nil
}

// Send sends bytes on a stream socket and returns the number of bytes consumed.
//
// A blocking socket returns once every byte is consumed. A non-blocking socket consumes
// what fits in the send buffer and returns ErrWouldBlock only when nothing fits.
func (s *Socket) Send(p []byte) (int, error) {
	return s.SendContext(context.Background(), p)
}

// SendContext is Send bounded by ctx.
func (s *Socket) SendContext(ctx context.Context, p []byte) (int, error) {
	if s.mode != Stream {
		return 0, newError(opSend, KindInvalidState, "send on a message socket")
	}
	if s.closed.Load() {
		return 0, s.closedError(opSend)
	}

	if !s.sendSync.Load() {
		n, err := s.eng.Send(s.handle, p)
		return n, s.settle(opSend, err)
	}

	total := 0
	err := s.run(ctx, opSend, engine.EventWrite, true, s.timeout(&s.sendTimeout), func() error {
		for total < len(p) {
			n, serr := s.eng.Send(s.handle, p[total:])
			total += n
			if serr != nil {
				return serr
			}
		}

		return nil
	})

	return total, err
}

// Recv receives available bytes on a stream socket into p and returns the count, which
// may be less than len(p).
//
// A blocking socket waits until at least one byte is available. A non-blocking socket
// returns ErrWouldBlock when none is.
func (s *Socket) Recv(p []byte) (int, error) {
	return s.RecvContext(context.Background(), p)
}

// RecvContext is Recv bounded by ctx.
func (s *Socket) RecvContext(ctx context.Context, p []byte) (int, error) {
	if s.mode != Stream {
		return 0, newError(opRecv, KindInvalidState, "recv on a message socket")
	}

	var n int
	err := s.run(ctx, opRecv, engine.EventRead, s.recvSync.Load(), s.timeout(&s.recvTimeout), func() error {
		var rerr error
		n, rerr = s.eng.Recv(s.handle, p)

		return rerr
	})

	return n, err
}

// SendMessage sends p as one message on a message socket, entirely or not at all.
func (s *Socket) SendMessage(p []byte) error {
	return s.SendMessageContext(context.Background(), p)
}

// SendMessageContext is SendMessage bounded by ctx.
func (s *Socket) SendMessageContext(ctx context.Context, p []byte) error {
	if s.mode != Message {
		return newError(opSendMsg, KindInvalidState, "send message on a stream socket")
	}

	return s.run(ctx, opSendMsg, engine.EventWrite, s.sendSync.Load(), s.timeout(&s.sendTimeout), func() error {
		return s.eng.SendMessage(s.handle, p)
	})
}

// RecvMessage receives the next whole message into p and returns its size.
//
// When p is smaller than the message it fails with ErrMessageTooLarge and the message stays
// queued.
func (s *Socket) RecvMessage(p []byte) (int, error) {
	return s.RecvMessageContext(context.Background(), p)
}

// RecvMessageContext is RecvMessage bounded by ctx.
func (s *Socket) RecvMessageContext(ctx context.Context, p []byte) (int, error) {
	if s.mode != Message {
		return 0, newError(opRecvMsg, KindInvalidState, "receive message on a stream socket")
	}

	var n int
	err := s.run(ctx, opRecvMsg, engine.EventRead, s.recvSync.Load(), s.timeout(&s.recvTimeout), func() error {
		var rerr error
		n, rerr = s.eng.RecvMessage(s.handle, p)

		return rerr
	})

	return n, err
}

func (s *Socket) timeout(v *atomic.Int64) time.Duration {
	return time.Duration(v.Load())
}

// settle translates the result of an engine call and refreshes the observed status.
func (s *Socket) settle(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() && engine.CodeOf(err) == engine.CodeInvalidSock {
		return s.closedError(op)
	}
	s.Status()

	return translate(op, err)
}

// run performs fn once, and for a blocking socket keeps retrying it while the engine
// reports would-block, parking on ev between attempts. The wait ends when the socket is
// closed, ctx is done or timeout expires.
func (s *Socket) run(ctx context.Context, op string, ev engine.Event, blocking bool, timeout time.Duration, fn func() error) error {
	if s.closed.Load() {
		return s.closedError(op)
	}

	err := fn()
	if !blocking || !engine.IsWouldBlock(err) {
		return s.settle(op, err)
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := context.AfterFunc(s.ctx, func() { cancel(errSocketClosed) })
	defer stop()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeoutCause(waitCtx, timeout, errOpTimeout)
		defer cancelTimeout()
	}

	for {
		if werr := s.eng.Wait(waitCtx, s.handle, ev); werr != nil {
			switch {
			case s.closed.Load():
				return s.closedError(op)
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(context.Cause(waitCtx), errOpTimeout):
				return newError(op, KindTimeout, timeout.String()+" elapsed")
			default:
				return s.settle(op, werr)
			}
		}

		if err = fn(); !engine.IsWouldBlock(err) {
			return s.settle(op, err)
		}
	}
}

// LocalAddress returns the local address once the socket is bound. A connected socket
// reports the concrete local interface.
func (s *Socket) LocalAddress() (net.Addr, error) {
	if s.closed.Load() {
		return nil, s.closedError(opAddr)
	}

	addr, err := s.eng.LocalAddr(s.handle)
	if err != nil {
		return nil, s.settle(opAddr, err)
	}

	return addr, nil
}

// PeerAddress returns the remote address of a connected socket.
func (s *Socket) PeerAddress() (net.Addr, error) {
	if s.closed.Load() {
		return nil, s.closedError(opPeer)
	}
	if st := s.Status(); st != StatusConnected {
		return nil, newError(opPeer, KindInvalidState, "socket is "+st.String())
	}

	addr, err := s.eng.PeerAddr(s.handle)
	if err != nil {
		return nil, s.settle(opPeer, err)
	}

	return addr, nil
}

// Stats returns the transfer counters of the socket.
func (s *Socket) Stats() (Stats, error) {
	if s.closed.Load() {
		return Stats{}, s.closedError(opStats)
	}

	perf, err := s.eng.Perf(s.handle)
	if err != nil {
		return Stats{}, s.settle(opStats, err)
	}

	return Stats{
		PacketsSent:     perf.PktSent,
		PacketsReceived: perf.PktRecv,
		BytesSent:       perf.BytesSent,
		BytesReceived:   perf.BytesRecv,
		SendBuffered:    perf.SendBuffered,
		RecvBuffered:    perf.RecvBuffered,
	}, nil
}

// Close closes the socket and releases its engine handle. Every operation blocked on the
// socket fails with ErrClosed.
//
// A connected blocking socket (OptSendSync true) first waits, at most OptLinger, for its
// pending data to be delivered; status reports StatusClosing meanwhile. Otherwise pending
// data is flushed by the engine in the background. Closing twice returns ErrClosed.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return s.closedError(opClose)
	}

	connected := statusOf(s.eng.Status(s.handle)) == StatusConnected
	s.takeSnapshot()
	s.cancel()
	s.cleanup.Stop()

	if connected && s.sendSync.Load() {
		s.linger()
	}

	err := s.eng.Close(s.handle)
	s.observe(StatusClosed)
	s.logger.Debug("socket closed")

	if err != nil && engine.CodeOf(err) != engine.CodeInvalidSock {
		return translate(opClose, err)
	}

	return nil
}

// linger waits until the send buffer drains, the connection breaks or the linger time
// passes.
func (s *Socket) linger() {
	v, err := s.eng.GetOption(s.handle, engine.OptLinger)
	if err != nil || v <= 0 {
		return
	}

	s.closing.Store(true)
	s.observe(StatusClosing)
	defer s.closing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(v))
	defer cancel()

	for ctx.Err() == nil {
		if s.eng.Status(s.handle) != engine.StateConnected {
			return
		}
		pending, err := s.eng.GetOption(s.handle, engine.OptSendData)
		if err != nil || pending == 0 {
			return
		}
		if err := s.eng.Wait(ctx, s.handle, engine.EventDrain); err != nil {
			return
		}
	}
}
