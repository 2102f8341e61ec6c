package rudp

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-udt/engine"
	"github.com/arloliu/go-udt/internal/pool"
	"github.com/arloliu/go-udt/logger"
)

// endpoint is one bound UDP socket. It is owned by the handle that bound it and shared by
// the connections a listener accepted; it is closed when the last of them is released.
type endpoint struct {
	eng    *Engine
	conn   *net.UDPConn
	port   uint16
	logger logger.Logger

	mu    sync.Mutex
	owner *sock
	refs  int

	peers  *xsync.MapOf[peerKey, *sock]
	closed atomic.Bool
}

// openEndpoint binds a UDP socket for owner and starts its receive loop.
func (e *Engine) openEndpoint(owner *sock, laddr string) (*endpoint, error) {
	family, opts := owner.family, &owner.opts
	lc := net.ListenConfig{Control: reuseAddrControl(opts.reuseAddr)}

	pc, err := lc.ListenPacket(e.tasks.Context(), family.Network(), laddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "listen %s %s", family.Network(), laddr)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, pkgerrors.Errorf("unexpected packet conn type %T", pc)
	}

	if err := conn.SetReadBuffer(int(opts.udpRecvBuf)); err != nil {
		e.cfg.logger.Debug("set UDP receive buffer failed", "size", opts.udpRecvBuf, "error", err)
	}
	if err := conn.SetWriteBuffer(int(opts.udpSendBuf)); err != nil {
		e.cfg.logger.Debug("set UDP send buffer failed", "size", opts.udpSendBuf, "error", err)
	}

	ep := &endpoint{
		eng:    e,
		conn:   conn,
		port:   conn.LocalAddr().(*net.UDPAddr).AddrPort().Port(),
		logger: e.cfg.logger.With("local", conn.LocalAddr().String()),
		owner:  owner,
		refs:   1,
		peers:  xsync.NewMapOf[peerKey, *sock](),
	}

	if err := e.tasks.Start("recv:"+conn.LocalAddr().String(), ep.receiveTask); err != nil {
		_ = conn.Close()
		return nil, pkgerrors.Wrap(err, "start receive task")
	}

	return ep, nil
}

func (ep *endpoint) localAddr() netip.AddrPort {
	return ep.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (ep *endpoint) retain() {
	ep.mu.Lock()
	ep.refs++
	ep.mu.Unlock()
}

// release drops one reference and closes the UDP socket with the last one.
func (ep *endpoint) release() {
	ep.mu.Lock()
	ep.refs--
	last := ep.refs <= 0
	ep.mu.Unlock()

	if last {
		ep.close()
	}
}

func (ep *endpoint) close() {
	if ep.closed.CompareAndSwap(false, true) {
		ep.logger.Debug("close endpoint")
		_ = ep.conn.Close()
	}
}

func (ep *endpoint) getOwner() *sock {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	return ep.owner
}

// receiveTask reads and dispatches one datagram.
func (ep *endpoint) receiveTask() bool {
	bufPtr := pool.GetPacket()
	defer pool.PutPacket(bufPtr)
	buf := *bufPtr

	n, from, err := ep.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if ep.closed.Load() || errors.Is(err, net.ErrClosed) {
			return false
		}
		ep.logger.Debug("read datagram failed", "error", err)

		return true
	}
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

	conv, ok := packetConv(buf[:n])
	if !ok {
		return true
	}

	if conv == 0 {
		pkt, err := decodeCtrl(buf[:n])
		if err != nil {
			ep.logger.Debug("drop control packet", "from", from, "error", err)
			return true
		}
		ep.handleCtrl(from, &pkt)

		return true
	}

	if s, ok := ep.peers.Load(peerKey{addr: from, conv: conv}); ok {
		s.input(buf[:n])
	}

	return true
}

func (ep *endpoint) handleCtrl(from netip.AddrPort, pkt *ctrlPacket) {
	key := peerKey{addr: from, conv: pkt.conv}

	switch pkt.typ {
	case ctrlHandshakeReq:
		ep.handleHandshake(from, pkt)

	case ctrlHandshakeRsp, ctrlReject:
		s, ok := ep.peers.Load(key)
		if !ok {
			return
		}
		s.mu.Lock()
		if s.state == engine.StateConnecting {
			if pkt.typ == ctrlReject {
				s.logger.Debug("connection rejected", "peer", from)
				s.failLocked(engine.CodeConnRejected)
			} else {
				if pkt.addr.IsValid() {
					s.local = netip.AddrPortFrom(pkt.addr.Addr(), ep.port)
				}
				s.lastRecv = time.Now()
				s.setPeerWindowLocked(pkt.wnd)
				s.setStateLocked(engine.StateConnected)
			}
		}
		s.mu.Unlock()

	case ctrlKeepAlive:
		if s, ok := ep.peers.Load(key); ok {
			s.mu.Lock()
			s.lastRecv = time.Now()
			s.mu.Unlock()
		}

	case ctrlShutdown:
		s, ok := ep.peers.Load(key)
		if !ok {
			return
		}
		s.mu.Lock()
		switch s.state {
		case engine.StateConnected, engine.StateConnecting:
			s.logger.Debug("peer closed the connection", "peer", from)
			s.failLocked(engine.CodeConnLost)
		case engine.StateClosing:
			s.lingerDeadline = time.Time{}
		}
		s.mu.Unlock()

	default:
		ep.logger.Debug("drop unknown control packet", "from", from, "type", pkt.typ)
	}
}

// handleHandshake answers a handshake request on a listening endpoint.
func (ep *endpoint) handleHandshake(from netip.AddrPort, pkt *ctrlPacket) {
	key := peerKey{addr: from, conv: pkt.conv}

	// retransmitted request: the response was lost
	if child, ok := ep.peers.Load(key); ok {
		child.mu.Lock()
		if child.state == engine.StateConnected {
			child.sendCtrlLocked(ctrlHandshakeRsp, from)
		}
		child.mu.Unlock()

		return
	}

	ls := ep.getOwner()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.state != engine.StateListening {
		return
	}

	if pkt.mode != ls.mode {
		ep.logger.Debug("reject handshake with mismatched mode", "from", from, "mode", pkt.mode)
		reject := ctrlPacket{typ: ctrlReject, mode: ls.mode, conv: pkt.conv}
		var buf [ctrlPacketSize]byte
		_, _ = ep.conn.WriteToUDPAddrPort(reject.encode(buf[:]), from)

		return
	}

	// the client retransmits until a slot frees up or its connect times out
	if ls.backlog.IsFull() {
		ep.logger.Debug("backlog full, drop handshake", "from", from)
		return
	}

	child := newSock(ep.eng, ep.eng.nextHandle(), ls.family, ls.mode, ls.opts)
	child.ep = ep
	child.state = engine.StateConnected
	if pkt.addr.IsValid() {
		child.local = netip.AddrPortFrom(pkt.addr.Addr(), ep.port)
	}
	child.startTransferLocked(pkt.conv, from, time.Now())
	child.setPeerWindowLocked(pkt.wnd)
	child.sendCtrlLocked(ctrlHandshakeRsp, from)

	ep.retain()
	ep.eng.socks.Store(child.id, child)
	ep.peers.Store(key, child)
	ls.backlog.Enqueue(child)
	child.logger.Debug("inbound connection queued", "peer", from, "listener", int32(ls.id))

	ls.broadcastLocked()
}
