package rudp

import (
	"math"
	"time"

	"github.com/arloliu/go-udt/engine"
)

const (
	// udpIPHeader is the IP and UDP header size subtracted from the MSS to get the payload size.
	udpIPHeader = 28
	// kcpOverhead is the KCP segment header size.
	kcpOverhead = 24

	// minMSS leaves KCP the 50 byte MTU it requires.
	minMSS         = udpIPHeader + 50
	minBufferPkts  = 32
	minFlowWindow  = 32
	maxKCPWindow   = math.MaxUint16
	maxMessageFrag = 127
	streamChunk    = 32
)

// sockOptions holds the engine owned options of one handle. Buffer sizes are stored in
// packets and reported in bytes, so changing the MSS rescales them.
type sockOptions struct {
	mss         int64
	flowWindow  int64
	sendBufPkts int64
	recvBufPkts int64
	linger      time.Duration
	udpSendBuf  int64
	udpRecvBuf  int64
	reuseAddr   bool
	maxBW       int64
}

func defaultSockOptions() sockOptions {
	return sockOptions{
		mss:         1500,
		flowWindow:  25600,
		sendBufPkts: 8192,
		recvBufPkts: 8192,
		linger:      180 * time.Second,
		udpSendBuf:  65536,
		udpRecvBuf:  12288000,
		reuseAddr:   true,
		maxBW:       -1,
	}
}

// payload is the UDP payload size per packet.
func (o *sockOptions) payload() int64 {
	return o.mss - udpIPHeader
}

// segmentSize is the user data size carried by one KCP segment.
func (o *sockOptions) segmentSize() int {
	return int(o.payload() - kcpOverhead)
}

// maxMessageFrags is the most fragments of one KCP message a peer whose receive window
// is peerWnd packets can reassemble, bounded by the local send buffer.
func (o *sockOptions) maxMessageFrags(peerWnd int) int {
	return int(min(int64(maxMessageFrag), o.sendBufPkts, int64(peerWnd-1)))
}

func (o *sockOptions) sendWindow() int {
	return int(min(o.sendBufPkts, maxKCPWindow))
}

func (o *sockOptions) recvWindow() int {
	return int(min(o.recvBufPkts, o.flowWindow, maxKCPWindow))
}

// optionStage describes where in the lifecycle an option may still be set.
type optionStage int

const (
	stageAny optionStage = iota
	stagePreBind
	stagePreConnect
	stageReadOnly
)

func optionStageOf(opt engine.Option) (optionStage, bool) {
	switch opt {
	case engine.OptMSS, engine.OptSendBuffer, engine.OptRecvBuffer,
		engine.OptUDPSendBuf, engine.OptUDPRecvBuf, engine.OptReuseAddr:
		return stagePreBind, true
	case engine.OptFlowWindow:
		return stagePreConnect, true
	case engine.OptLinger, engine.OptMaxBandwidth:
		return stageAny, true
	case engine.OptSendData, engine.OptRecvData:
		return stageReadOnly, true
	default:
		return 0, false
	}
}

// checkStage validates that opt may be set in state st.
func checkStage(op string, stage optionStage, st engine.State) error {
	switch stage {
	case stageReadOnly:
		return engine.NewError(op, engine.CodeInvalidOp, nil)
	case stagePreBind:
		if st != engine.StateInit {
			return engine.NewError(op, engine.CodeBoundSock, nil)
		}
	case stagePreConnect:
		switch st {
		case engine.StateConnecting, engine.StateConnected, engine.StateBroken:
			return engine.NewError(op, engine.CodeConnSock, nil)
		}
	}

	return nil
}

// set stores value for opt and returns the stored value. The stage check is done by the caller.
func (o *sockOptions) set(op string, opt engine.Option, value int64) (int64, error) {
	badParam := engine.NewError(op, engine.CodeInvalidParam, nil)

	switch opt {
	case engine.OptMSS:
		if value < minMSS {
			return 0, badParam
		}
		o.mss = value
	case engine.OptFlowWindow:
		if value < 1 {
			return 0, badParam
		}
		o.flowWindow = max(value, minFlowWindow)
	case engine.OptSendBuffer:
		if value <= 0 {
			return 0, badParam
		}
		o.sendBufPkts = max(value/o.payload(), minBufferPkts)
	case engine.OptRecvBuffer:
		if value <= 0 {
			return 0, badParam
		}
		o.recvBufPkts = min(max(value/o.payload(), minBufferPkts), max(o.flowWindow, minBufferPkts))
	case engine.OptLinger:
		if value < 0 {
			return 0, badParam
		}
		o.linger = time.Duration(value)
	case engine.OptUDPSendBuf:
		if value <= 0 {
			return 0, badParam
		}
		o.udpSendBuf = value
	case engine.OptUDPRecvBuf:
		if value <= 0 {
			return 0, badParam
		}
		o.udpRecvBuf = value
	case engine.OptReuseAddr:
		o.reuseAddr = value != 0
	case engine.OptMaxBandwidth:
		if value == 0 || value < -1 {
			return 0, badParam
		}
		o.maxBW = value
	default:
		return 0, badParam
	}

	v, _ := o.get(opt)

	return v, nil
}

func (o *sockOptions) get(opt engine.Option) (int64, bool) {
	switch opt {
	case engine.OptMSS:
		return o.mss, true
	case engine.OptFlowWindow:
		return o.flowWindow, true
	case engine.OptSendBuffer:
		return o.sendBufPkts * o.payload(), true
	case engine.OptRecvBuffer:
		return o.recvBufPkts * o.payload(), true
	case engine.OptLinger:
		return int64(o.linger), true
	case engine.OptUDPSendBuf:
		return o.udpSendBuf, true
	case engine.OptUDPRecvBuf:
		return o.udpRecvBuf, true
	case engine.OptReuseAddr:
		if o.reuseAddr {
			return 1, true
		}

		return 0, true
	case engine.OptMaxBandwidth:
		return o.maxBW, true
	default:
		return 0, false
	}
}
