package rudp

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"github.com/xtaci/kcp-go/v5"
	"golang.org/x/time/rate"

	"github.com/arloliu/go-udt/engine"
	"github.com/arloliu/go-udt/internal/queue"
	"github.com/arloliu/go-udt/logger"
)

type peerKey struct {
	addr netip.AddrPort
	conv uint32
}

type sockStats struct {
	pktSent   atomic.Uint64
	pktRecv   atomic.Uint64
	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64
}

// sock is the engine side of one handle.
//
// All mutable fields are guarded by mu. The KCP output callback runs with mu held.
type sock struct {
	id     engine.Handle
	family engine.Family
	mode   engine.Mode
	eng    *Engine
	logger logger.Logger

	mu       sync.Mutex
	state    engine.State
	opts     sockOptions
	ep       *endpoint
	local    netip.AddrPort // concrete local address learned from the handshake
	peer     netip.AddrPort
	conv     uint32
	peerWnd  int // receive window the peer announced, in packets
	kcp      *kcp.KCP
	ring     *ringbuffer.RingBuffer
	scratch  []byte
	limiter  *rate.Limiter
	failure  engine.Code
	released bool

	backlog *queue.SliceQueue[*sock]

	hsDeadline time.Time
	hsNext     time.Time

	lastRecv       time.Time
	lastSend       time.Time
	lingerDeadline time.Time

	notify chan struct{}
	stats  sockStats
}

func newSock(e *Engine, id engine.Handle, family engine.Family, mode engine.Mode, opts sockOptions) *sock {
	return &sock{
		id:     id,
		family: family,
		mode:   mode,
		eng:    e,
		logger: e.cfg.logger.With("handle", int32(id)),
		state:  engine.StateInit,
		opts:   opts,
		notify: make(chan struct{}),
	}
}

// broadcastLocked wakes every Wait parked on s.
func (s *sock) broadcastLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *sock) setStateLocked(st engine.State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state changed", "from", s.state, "to", st)
	s.state = st
	s.broadcastLocked()
}

func (s *sock) failLocked(code engine.Code) {
	s.failure = code
	s.setStateLocked(engine.StateBroken)
}

// startTransferLocked creates the KCP instance and the receive buffers of a connection.
func (s *sock) startTransferLocked(conv uint32, peer netip.AddrPort, now time.Time) {
	s.conv = conv
	s.peer = peer
	s.lastRecv = now
	s.lastSend = now
	if s.peerWnd == 0 {
		s.peerWnd = minFlowWindow
	}

	k := kcp.NewKCP(conv, func(buf []byte, size int) {
		s.writeLocked(buf[:size])
	})
	if k.SetMtu(int(s.opts.payload())) < 0 {
		s.logger.Warn("kcp rejected the payload size", "payload", s.opts.payload())
	}
	k.NoDelay(1, int(s.eng.cfg.updateInterval/time.Millisecond), 2, 0)
	k.WndSize(s.opts.sendWindow(), s.opts.recvWindow())
	s.kcp = k

	chunk := s.opts.segmentSize() * streamChunk
	if s.mode == engine.ModeStream {
		s.scratch = make([]byte, chunk)
		s.ring = ringbuffer.New(4 * chunk)
	}
	s.applyBandwidthLocked()
}

// setPeerWindowLocked records the receive window from the peer's handshake. A zero window
// keeps the minimum every engine guarantees.
func (s *sock) setPeerWindowLocked(wnd uint16) {
	if wnd == 0 {
		return
	}
	s.peerWnd = max(int(wnd), 2)
	if s.kcp != nil {
		s.applyBandwidthLocked()
	}
}

// maxMessageLocked is the largest message the peer can reassemble.
func (s *sock) maxMessageLocked() int {
	return s.opts.maxMessageFrags(s.peerWnd) * s.opts.segmentSize()
}

// chunkLocked is the size of the KCP messages a stream send is split into.
func (s *sock) chunkLocked() int {
	return min(streamChunk, s.peerWnd-1) * s.opts.segmentSize()
}

func (s *sock) applyBandwidthLocked() {
	if s.opts.maxBW <= 0 {
		s.limiter = nil
		return
	}

	burst := max(int(s.opts.maxBW/10), s.maxMessageLocked(), s.chunkLocked())
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(s.opts.maxBW), burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(s.opts.maxBW))
	s.limiter.SetBurst(burst)
}

// writeLocked sends one datagram to the peer.
func (s *sock) writeLocked(b []byte) {
	if s.ep == nil || !s.peer.IsValid() {
		return
	}
	if _, err := s.ep.conn.WriteToUDPAddrPort(b, s.peer); err != nil {
		s.logger.Debug("write datagram failed", "peer", s.peer, "error", err)
		return
	}
	s.lastSend = time.Now()
	s.stats.pktSent.Add(1)
	s.stats.bytesSent.Add(uint64(len(b)))
}

func (s *sock) sendCtrlLocked(typ ctrlType, addr netip.AddrPort) {
	var buf [ctrlPacketSize]byte
	pkt := ctrlPacket{typ: typ, mode: s.mode, wnd: uint16(s.opts.recvWindow()), conv: s.conv, addr: addr}
	s.writeLocked(pkt.encode(buf[:]))
}

// input feeds one KCP datagram received from the peer.
func (s *sock) input(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kcp == nil || s.released {
		return
	}

	s.lastRecv = time.Now()
	s.stats.pktRecv.Add(1)
	s.stats.bytesRecv.Add(uint64(len(data)))

	// data from the accepted side proves the handshake response was sent, even if it was lost
	if s.state == engine.StateConnecting {
		s.setStateLocked(engine.StateConnected)
	}

	if ret := s.kcp.Input(data, true, s.eng.cfg.ackNoDelay); ret < 0 {
		s.logger.Debug("drop malformed segment", "ret", ret)
		return
	}
	s.broadcastLocked()
}

// sendFreeLocked returns the free send buffer space in segments.
func (s *sock) sendFreeLocked() int {
	return int(s.opts.sendBufPkts) - s.kcp.WaitSnd()
}

func (s *sock) sendBufferedLocked() int64 {
	if s.kcp == nil {
		return 0
	}

	return int64(s.kcp.WaitSnd() * s.opts.segmentSize())
}

func (s *sock) recvBufferedLocked() int64 {
	var n int64
	if s.ring != nil {
		n += int64(s.ring.Length())
	}
	if s.kcp != nil {
		if size := s.kcp.PeekSize(); size > 0 {
			n += int64(size)
		}
	}

	return n
}

// fillRingLocked moves reassembled stream data from KCP into the ring buffer.
func (s *sock) fillRingLocked() {
	for {
		size := s.kcp.PeekSize()
		if size <= 0 {
			return
		}
		if size > s.ring.Free() {
			// a peer with a larger MSS sends chunks bigger than the ring
			if !s.ring.IsEmpty() {
				return
			}
			s.ring = ringbuffer.New(size)
		}
		if size > len(s.scratch) {
			s.scratch = make([]byte, size)
		}
		n := s.kcp.Recv(s.scratch[:size])
		if n <= 0 {
			return
		}
		_, _ = s.ring.Write(s.scratch[:n])
	}
}

// readyLocked reports whether ev may be satisfied, or the handle reached a state in which
// a retried operation returns immediately.
func (s *sock) readyLocked(ev engine.Event) bool {
	switch s.state {
	case engine.StateBroken, engine.StateClosing, engine.StateClosed, engine.StateNonExist,
		engine.StateInit, engine.StateOpened:
		return true
	case engine.StateConnecting:
		return false
	case engine.StateListening:
		return ev != engine.EventRead || !s.backlog.IsEmpty()
	}

	switch ev {
	case engine.EventRead:
		return (s.ring != nil && !s.ring.IsEmpty()) || s.kcp.PeekSize() > 0
	case engine.EventWrite:
		if s.sendFreeLocked() <= 0 {
			return false
		}

		return s.limiter == nil || s.limiter.Tokens() >= 1
	case engine.EventDrain:
		return s.kcp.WaitSnd() == 0
	default:
		return true
	}
}

// tick advances timers of s. It returns true when s must be released.
func (s *sock) tick(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.eng.cfg

	switch s.state {
	case engine.StateConnecting:
		if now.After(s.hsDeadline) {
			s.logger.Debug("connect timed out", "peer", s.peer)
			s.failLocked(engine.CodeNoServer)

			return false
		}
		if !now.Before(s.hsNext) {
			s.sendCtrlLocked(ctrlHandshakeReq, s.peer)
			s.hsNext = now.Add(cfg.handshakeRetry)
		}

		return false

	case engine.StateConnected, engine.StateClosing:
		waiting := s.kcp.WaitSnd()
		s.kcp.Update()
		if s.kcp.WaitSnd() < waiting {
			s.broadcastLocked()
		}

		if now.Sub(s.lastRecv) > cfg.idleTimeout {
			s.logger.Debug("peer idle timeout", "peer", s.peer)
			if s.state == engine.StateClosing {
				return true
			}
			s.failLocked(engine.CodeConnLost)

			return false
		}

		if s.state == engine.StateClosing {
			return s.kcp.WaitSnd() == 0 || now.After(s.lingerDeadline)
		}

		if now.Sub(s.lastSend) > cfg.keepAliveInterval {
			s.sendCtrlLocked(ctrlKeepAlive, netip.AddrPort{})
		}
	}

	return false
}
