package rudp

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/arloliu/go-udt/engine"
)

type ctrlType uint8

const (
	ctrlHandshakeReq ctrlType = iota + 1
	ctrlHandshakeRsp
	ctrlReject
	ctrlKeepAlive
	ctrlShutdown
)

func (t ctrlType) String() string {
	switch t {
	case ctrlHandshakeReq:
		return "handshake.req"
	case ctrlHandshakeRsp:
		return "handshake.rsp"
	case ctrlReject:
		return "reject"
	case ctrlKeepAlive:
		return "keep-alive"
	case ctrlShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

const ctrlPacketSize = 30

var errShortPacket = errors.New("control packet too short")

// ctrlPacket is a decoded control packet.
//
// addr is the address the sender dialed (handshake request) or the address the sender
// observed for the receiver (handshake response). wnd is the sender's receive window in
// packets; zero means unknown.
type ctrlPacket struct {
	typ  ctrlType
	mode engine.Mode
	wnd  uint16
	conv uint32
	addr netip.AddrPort
}

func (p *ctrlPacket) encode(buf []byte) []byte {
	buf = buf[:ctrlPacketSize]
	clear(buf)
	buf[4] = byte(p.typ)
	buf[5] = byte(p.mode)
	binary.BigEndian.PutUint16(buf[6:8], p.wnd)
	binary.LittleEndian.PutUint32(buf[8:12], p.conv)
	if p.addr.IsValid() {
		ip16 := p.addr.Addr().As16()
		copy(buf[12:28], ip16[:])
		binary.BigEndian.PutUint16(buf[28:30], p.addr.Port())
	}

	return buf
}

func decodeCtrl(buf []byte) (ctrlPacket, error) {
	if len(buf) < ctrlPacketSize {
		return ctrlPacket{}, errShortPacket
	}

	var ip16 [16]byte
	copy(ip16[:], buf[12:28])

	pkt := ctrlPacket{
		typ:  ctrlType(buf[4]),
		mode: engine.Mode(buf[5]),
		wnd:  binary.BigEndian.Uint16(buf[6:8]),
		conv: binary.LittleEndian.Uint32(buf[8:12]),
	}
	addr := netip.AddrFrom16(ip16).Unmap()
	if !addr.IsUnspecified() || binary.BigEndian.Uint16(buf[28:30]) != 0 {
		pkt.addr = netip.AddrPortFrom(addr, binary.BigEndian.Uint16(buf[28:30]))
	}

	return pkt, nil
}

// packetConv returns the conversation id of a datagram; zero marks a control packet.
func packetConv(buf []byte) (uint32, bool) {
	if len(buf) < 4 {
		return 0, false
	}

	return binary.LittleEndian.Uint32(buf[:4]), true
}
