package pool

import "sync"

// PacketSize is the size of buffers handed out by GetPacket. It covers the largest UDP
// payload over IPv4.
const PacketSize = 65536

var packetPool = sync.Pool{
	New: func() any {
		buf := make([]byte, PacketSize)
		return &buf
	},
}

// GetPacket returns a PacketSize byte buffer from the pool.
func GetPacket() *[]byte {
	buf, _ := packetPool.Get().(*[]byte)
	return buf
}

// PutPacket returns buf to the pool. Buffers of the wrong size are dropped.
func PutPacket(buf *[]byte) {
	if buf == nil || cap(*buf) != PacketSize {
		return
	}
	*buf = (*buf)[:PacketSize]
	packetPool.Put(buf)
}
