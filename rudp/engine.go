package rudp

import (
	"context"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-udt/engine"
	"github.com/arloliu/go-udt/internal/pool"
	"github.com/arloliu/go-udt/internal/queue"
	"github.com/arloliu/go-udt/internal/task"
)

// Engine is a UDP based engine.Engine. It is safe for concurrent use.
type Engine struct {
	cfg   *Config
	tasks *task.Manager
	socks *xsync.MapOf[engine.Handle, *sock]

	handleSeq atomic.Int32
	shutdown  atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates and starts an engine.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		cfg:   cfg,
		tasks: task.NewManager(context.Background(), cfg.logger),
		socks: xsync.NewMapOf[engine.Handle, *sock](),
	}
	// handle ids start at a random point so that ids from different engines rarely collide
	e.handleSeq.Store(rand.Int32N(1<<29) + 1)

	if _, err := e.tasks.StartInterval("update", e.update, cfg.updateInterval, false); err != nil {
		e.tasks.Stop()
		return nil, pkgerrors.Wrap(err, "start update task")
	}

	return e, nil
}

// Shutdown releases every handle without lingering and stops the engine goroutines.
func (e *Engine) Shutdown() {
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}

	e.socks.Range(func(_ engine.Handle, s *sock) bool {
		s.mu.Lock()
		e.releaseLocked(s)
		s.mu.Unlock()

		return true
	})

	e.tasks.Stop()
	e.tasks.Wait()
}

// Handles returns the number of live handles.
func (e *Engine) Handles() int {
	return e.socks.Size()
}

func (e *Engine) nextHandle() engine.Handle {
	for {
		id := e.handleSeq.Add(1)
		if id > 0 {
			return engine.Handle(id)
		}
		e.handleSeq.CompareAndSwap(id, 1)
	}
}

func (e *Engine) lookup(op string, h engine.Handle) (*sock, error) {
	s, ok := e.socks.Load(h)
	if !ok {
		return nil, engine.NewError(op, engine.CodeInvalidSock, nil)
	}

	return s, nil
}

func (e *Engine) update() bool {
	now := time.Now()

	var done []*sock
	e.socks.Range(func(_ engine.Handle, s *sock) bool {
		if s.tick(now) {
			done = append(done, s)
		}

		return true
	})

	for _, s := range done {
		s.mu.Lock()
		e.releaseLocked(s)
		s.mu.Unlock()
	}

	return true
}

// releaseLocked frees s, notifies a connected peer and drops the endpoint reference.
func (e *Engine) releaseLocked(s *sock) {
	if s.released {
		return
	}

	if s.state == engine.StateConnected || s.state == engine.StateClosing {
		s.sendCtrlLocked(ctrlShutdown, netip.AddrPort{})
		s.sendCtrlLocked(ctrlShutdown, netip.AddrPort{})
	}

	s.released = true
	s.setStateLocked(engine.StateClosed)
	e.socks.Delete(s.id)

	if s.ep != nil {
		if s.conv != 0 {
			s.ep.peers.Delete(peerKey{addr: s.peer, conv: s.conv})
		}
		s.ep.release()
	}
	s.logger.Debug("handle released")
}

// Create implements engine.Engine.
func (e *Engine) Create(family engine.Family, mode engine.Mode) (engine.Handle, error) {
	const op = "create"

	if e.shutdown.Load() {
		return engine.InvalidHandle, engine.NewError(op, engine.CodeInvalidOp, pkgerrors.New("engine is shut down"))
	}
	if family != engine.FamilyIPv4 && family != engine.FamilyIPv6 {
		return engine.InvalidHandle, engine.NewError(op, engine.CodeInvalidParam, nil)
	}
	if mode != engine.ModeStream && mode != engine.ModeMessage {
		return engine.InvalidHandle, engine.NewError(op, engine.CodeInvalidParam, nil)
	}

	s := newSock(e, e.nextHandle(), family, mode, defaultSockOptions())
	e.socks.Store(s.id, s)
	s.logger.Debug("handle created", "family", family, "mode", mode)

	return s.id, nil
}

// Bind implements engine.Engine.
func (e *Engine) Bind(h engine.Handle, addr string) error {
	const op = "bind"

	s, err := e.lookup(op, h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return e.bindLocked(op, s, addr)
}

func (e *Engine) bindLocked(op string, s *sock, addr string) error {
	if s.released {
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}
	if s.state != engine.StateInit {
		return engine.NewError(op, engine.CodeBoundSock, nil)
	}
	if _, err := net.ResolveUDPAddr(s.family.Network(), addr); err != nil {
		return engine.NewError(op, engine.CodeInvalidParam, pkgerrors.Wrapf(err, "resolve %q", addr))
	}

	ep, err := e.openEndpoint(s, addr)
	if err != nil {
		return engine.NewError(op, engine.CodeSockFail, err)
	}
	s.ep = ep
	s.setStateLocked(engine.StateOpened)
	s.logger.Debug("handle bound", "local", ep.conn.LocalAddr().String())

	return nil
}

// Listen implements engine.Engine.
func (e *Engine) Listen(h engine.Handle, backlog int) error {
	const op = "listen"

	s, err := e.lookup(op, h)
	if err != nil {
		return err
	}
	if backlog <= 0 {
		return engine.NewError(op, engine.CodeInvalidParam, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case engine.StateOpened:
		s.backlog = queue.NewSliceQueue[*sock](backlog)
		s.setStateLocked(engine.StateListening)
		s.logger.Debug("handle listening", "backlog", backlog)

		return nil
	case engine.StateListening:
		s.backlog.SetLimit(backlog)
		return nil
	case engine.StateInit:
		return engine.NewError(op, engine.CodeUnboundSock, nil)
	case engine.StateConnecting, engine.StateConnected, engine.StateBroken:
		return engine.NewError(op, engine.CodeConnSock, nil)
	default:
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}
}

// Accept implements engine.Engine.
func (e *Engine) Accept(h engine.Handle) (engine.Handle, error) {
	const op = "accept"

	s, err := e.lookup(op, h)
	if err != nil {
		return engine.InvalidHandle, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case engine.StateListening:
	case engine.StateClosing, engine.StateClosed:
		return engine.InvalidHandle, engine.NewError(op, engine.CodeInvalidSock, nil)
	default:
		return engine.InvalidHandle, engine.NewError(op, engine.CodeNoListen, nil)
	}

	child, ok := s.backlog.Dequeue()
	if !ok {
		return engine.InvalidHandle, engine.NewError(op, engine.CodeAsyncRecv, nil)
	}

	return child.id, nil
}

// Connect implements engine.Engine.
func (e *Engine) Connect(h engine.Handle, addr string) error {
	const op = "connect"

	s, err := e.lookup(op, h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}

	switch s.state {
	case engine.StateConnected, engine.StateConnecting:
		peer, err := resolvePeer(s.family, addr)
		if err != nil || peer != s.peer {
			return engine.NewError(op, engine.CodeConnSock, nil)
		}
		if s.state == engine.StateConnecting {
			return engine.NewError(op, engine.CodeAsyncRecv, nil)
		}

		return nil
	case engine.StateBroken:
		if s.failure == engine.CodeNoServer || s.failure == engine.CodeConnRejected {
			return engine.NewError(op, s.failure, nil)
		}

		return engine.NewError(op, engine.CodeConnLost, nil)
	case engine.StateListening:
		return engine.NewError(op, engine.CodeInvalidOp, nil)
	case engine.StateClosing, engine.StateClosed:
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}

	peer, err := resolvePeer(s.family, addr)
	if err != nil {
		return engine.NewError(op, engine.CodeInvalidParam, err)
	}

	if s.state == engine.StateInit {
		wildcard := "0.0.0.0:0"
		if s.family == engine.FamilyIPv6 {
			wildcard = "[::]:0"
		}
		if err := e.bindLocked(op, s, wildcard); err != nil {
			return err
		}
	}

	conv := rand.Uint32()
	for conv == 0 {
		conv = rand.Uint32()
	}

	now := time.Now()
	s.startTransferLocked(conv, peer, now)
	s.ep.peers.Store(peerKey{addr: peer, conv: conv}, s)

	s.hsDeadline = now.Add(e.cfg.connectTimeout)
	s.hsNext = now.Add(e.cfg.handshakeRetry)
	s.setStateLocked(engine.StateConnecting)
	s.sendCtrlLocked(ctrlHandshakeReq, peer)
	s.logger.Debug("connecting", "peer", peer)

	return engine.NewError(op, engine.CodeAsyncRecv, nil)
}

func resolvePeer(family engine.Family, addr string) (netip.AddrPort, error) {
	ua, err := net.ResolveUDPAddr(family.Network(), addr)
	if err != nil {
		return netip.AddrPort{}, pkgerrors.Wrapf(err, "resolve %q", addr)
	}

	ap := ua.AddrPort()
	if !ap.Addr().IsValid() || ap.Port() == 0 {
		return netip.AddrPort{}, pkgerrors.Errorf("incomplete peer address %q", addr)
	}

	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// transferCheckLocked validates that data may be moved in the current state.
func (s *sock) transferCheckLocked(op string, sending bool) error {
	if s.released {
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}

	switch s.state {
	case engine.StateConnected:
		return nil
	case engine.StateBroken:
		if sending || s.kcp == nil {
			return engine.NewError(op, engine.CodeConnLost, nil)
		}

		return nil
	case engine.StateConnecting:
		if sending {
			return engine.NewError(op, engine.CodeAsyncSend, nil)
		}

		return engine.NewError(op, engine.CodeAsyncRecv, nil)
	case engine.StateClosing, engine.StateClosed:
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	default:
		return engine.NewError(op, engine.CodeNoConn, nil)
	}
}

// takeTokensLocked reserves n bytes of bandwidth and returns how many were granted.
func (s *sock) takeTokensLocked(n int, all bool) int {
	if s.limiter == nil {
		return n
	}

	now := time.Now()
	avail := int(s.limiter.TokensAt(now))
	if avail <= 0 || (all && avail < n) {
		return 0
	}
	n = min(n, avail, s.limiter.Burst())
	if !s.limiter.AllowN(now, n) {
		return 0
	}

	return n
}

// Send implements engine.Engine.
func (e *Engine) Send(h engine.Handle, p []byte) (int, error) {
	const op = "send"

	s, err := e.lookup(op, h)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != engine.ModeStream {
		return 0, engine.NewError(op, engine.CodeDgramIll, nil)
	}
	if err := s.transferCheckLocked(op, true); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	seg := s.opts.segmentSize()
	free := s.sendFreeLocked() * seg
	if free <= 0 {
		return 0, engine.NewError(op, engine.CodeAsyncSend, nil)
	}

	n := s.takeTokensLocked(min(len(p), free), false)
	if n == 0 {
		return 0, engine.NewError(op, engine.CodeAsyncSend, nil)
	}

	chunk := s.chunkLocked()
	for off := 0; off < n; off += chunk {
		end := min(off+chunk, n)
		if ret := s.kcp.Send(p[off:end]); ret < 0 {
			return off, engine.NewError(op, engine.CodeNoBuffer, pkgerrors.Errorf("kcp send returned %d", ret))
		}
	}

	return n, nil
}

// Recv implements engine.Engine.
func (e *Engine) Recv(h engine.Handle, p []byte) (int, error) {
	const op = "recv"

	s, err := e.lookup(op, h)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != engine.ModeStream {
		return 0, engine.NewError(op, engine.CodeDgramIll, nil)
	}
	if err := s.transferCheckLocked(op, false); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.fillRingLocked()
	if s.ring.IsEmpty() {
		if s.state == engine.StateBroken {
			return 0, engine.NewError(op, engine.CodeConnLost, nil)
		}

		return 0, engine.NewError(op, engine.CodeAsyncRecv, nil)
	}

	n, _ := s.ring.Read(p)
	s.fillRingLocked()

	return n, nil
}

// SendMessage implements engine.Engine.
func (e *Engine) SendMessage(h engine.Handle, p []byte) error {
	const op = "sendmsg"

	s, err := e.lookup(op, h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != engine.ModeMessage {
		return engine.NewError(op, engine.CodeStreamIll, nil)
	}
	if err := s.transferCheckLocked(op, true); err != nil {
		return err
	}
	if len(p) == 0 {
		return engine.NewError(op, engine.CodeInvalidParam, nil)
	}
	if len(p) > s.maxMessageLocked() {
		return engine.NewError(op, engine.CodeLargeMsg, nil)
	}

	seg := s.opts.segmentSize()
	if frags := (len(p) + seg - 1) / seg; s.sendFreeLocked() < frags {
		return engine.NewError(op, engine.CodeAsyncSend, nil)
	}
	if s.takeTokensLocked(len(p), true) == 0 {
		return engine.NewError(op, engine.CodeAsyncSend, nil)
	}

	if ret := s.kcp.Send(p); ret < 0 {
		return engine.NewError(op, engine.CodeLargeMsg, pkgerrors.Errorf("kcp send returned %d", ret))
	}

	return nil
}

// RecvMessage implements engine.Engine.
func (e *Engine) RecvMessage(h engine.Handle, p []byte) (int, error) {
	const op = "recvmsg"

	s, err := e.lookup(op, h)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != engine.ModeMessage {
		return 0, engine.NewError(op, engine.CodeStreamIll, nil)
	}
	if err := s.transferCheckLocked(op, false); err != nil {
		return 0, err
	}

	size := s.kcp.PeekSize()
	if size < 0 {
		if s.state == engine.StateBroken {
			return 0, engine.NewError(op, engine.CodeConnLost, nil)
		}

		return 0, engine.NewError(op, engine.CodeAsyncRecv, nil)
	}
	if size > len(p) {
		return 0, engine.NewError(op, engine.CodeLargeMsg, pkgerrors.Errorf("message of %d bytes, buffer of %d", size, len(p)))
	}

	n := s.kcp.Recv(p)
	if n < 0 {
		return 0, engine.NewError(op, engine.CodeAsyncRecv, nil)
	}

	return n, nil
}

// SetOption implements engine.Engine.
func (e *Engine) SetOption(h engine.Handle, opt engine.Option, value int64) (int64, error) {
	const op = "setsockopt"

	s, err := e.lookup(op, h)
	if err != nil {
		return 0, err
	}

	stage, ok := optionStageOf(opt)
	if !ok {
		return 0, engine.NewError(op, engine.CodeInvalidParam, pkgerrors.Errorf("unknown option %d", int(opt)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, engine.NewError(op, engine.CodeInvalidSock, nil)
	}
	if err := checkStage(op, stage, s.state); err != nil {
		return 0, err
	}

	stored, err := s.opts.set(op, opt, value)
	if err != nil {
		return 0, err
	}
	if opt == engine.OptMaxBandwidth && s.kcp != nil {
		s.applyBandwidthLocked()
	}

	return stored, nil
}

// GetOption implements engine.Engine.
func (e *Engine) GetOption(h engine.Handle, opt engine.Option) (int64, error) {
	const op = "getsockopt"

	s, err := e.lookup(op, h)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch opt {
	case engine.OptSendData:
		return s.sendBufferedLocked(), nil
	case engine.OptRecvData:
		return s.recvBufferedLocked(), nil
	}

	v, ok := s.opts.get(opt)
	if !ok {
		return 0, engine.NewError(op, engine.CodeInvalidParam, pkgerrors.Errorf("unknown option %d", int(opt)))
	}

	return v, nil
}

// Close implements engine.Engine.
func (e *Engine) Close(h engine.Handle) error {
	const op = "close"

	s, err := e.lookup(op, h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.released || s.state == engine.StateClosing {
		s.mu.Unlock()
		return engine.NewError(op, engine.CodeInvalidSock, nil)
	}

	var children []*sock
	switch s.state {
	case engine.StateListening:
		children = s.backlog.Drain()
	case engine.StateConnected:
		if s.kcp.WaitSnd() > 0 && s.opts.linger > 0 {
			s.lingerDeadline = time.Now().Add(s.opts.linger)
			s.setStateLocked(engine.StateClosing)
			s.logger.Debug("lingering", "pending", s.kcp.WaitSnd(), "linger", s.opts.linger)
			s.mu.Unlock()

			return nil
		}
	}
	e.releaseLocked(s)
	s.mu.Unlock()

	// connections never accepted die with their listener
	for _, child := range children {
		child.mu.Lock()
		e.releaseLocked(child)
		child.mu.Unlock()
	}

	return nil
}

// Status implements engine.Engine.
func (e *Engine) Status(h engine.Handle) engine.State {
	s, ok := e.socks.Load(h)
	if !ok {
		return engine.StateNonExist
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// LocalAddr implements engine.Engine.
func (e *Engine) LocalAddr(h engine.Handle) (net.Addr, error) {
	const op = "getsockname"

	s, err := e.lookup(op, h)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, engine.NewError(op, engine.CodeInvalidSock, nil)
	}
	if s.ep == nil {
		return nil, engine.NewError(op, engine.CodeUnboundSock, nil)
	}
	if s.local.IsValid() {
		return net.UDPAddrFromAddrPort(s.local), nil
	}

	return net.UDPAddrFromAddrPort(s.ep.localAddr()), nil
}

// PeerAddr implements engine.Engine.
func (e *Engine) PeerAddr(h engine.Handle) (net.Addr, error) {
	const op = "getpeername"

	s, err := e.lookup(op, h)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case engine.StateConnected, engine.StateBroken, engine.StateClosing:
		if s.peer.IsValid() {
			return net.UDPAddrFromAddrPort(s.peer), nil
		}
	}

	return nil, engine.NewError(op, engine.CodeNoConn, nil)
}

// Wait implements engine.Engine.
func (e *Engine) Wait(ctx context.Context, h engine.Handle, ev engine.Event) error {
	s, err := e.lookup("wait", h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.released || s.readyLocked(ev) {
		s.mu.Unlock()
		return nil
	}
	notify := s.notify
	s.mu.Unlock()

	timer := pool.GetTimer(e.cfg.waitPoll)
	defer pool.PutTimer(timer)

	select {
	case <-notify:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Perf implements engine.Engine.
func (e *Engine) Perf(h engine.Handle) (engine.PerfStats, error) {
	s, err := e.lookup("perf", h)
	if err != nil {
		return engine.PerfStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return engine.PerfStats{
		PktSent:      s.stats.pktSent.Load(),
		PktRecv:      s.stats.pktRecv.Load(),
		BytesSent:    s.stats.bytesSent.Load(),
		BytesRecv:    s.stats.bytesRecv.Load(),
		SendBuffered: s.sendBufferedLocked(),
		RecvBuffered: s.recvBufferedLocked(),
	}, nil
}
