// Package rudp implements engine.Engine on top of UDP.
//
// Reliable ordered delivery, retransmission, windowing and congestion control are delegated
// to a KCP protocol instance per connection (github.com/xtaci/kcp-go/v5). This package adds
// what KCP leaves out:
//   - UDP endpoints shared by a listener and the connections it accepted, demultiplexed
//     by peer address and conversation id;
//   - a connection handshake carrying the transfer mode and each side's view of the
//     other's address;
//   - keep-alive and peer idle detection, and an explicit shutdown notification;
//   - stream reassembly in a ring buffer for stream mode, and whole message handoff with
//     too-large detection for message mode;
//   - non-blocking primitives with readiness notification (Engine.Wait).
//
// Wire format: every datagram starts with a 4-byte little endian conversation id. Non-zero
// ids carry KCP segments. A zero id marks a control packet:
//
//	[0:4]   zero
//	[4]     packet type (handshake request/response, reject, keep-alive, shutdown)
//	[5]     transfer mode
//	[6:8]   reserved
//	[8:12]  conversation id
//	[12:28] address, 16-byte form
//	[28:30] port, big endian
//
// Usage:
//
//	eng, err := rudp.New(rudp.WithLogger(l))
//	// ... handle error ...
//	defer eng.Shutdown()
//
//	sock, err := udt.NewSocket(eng)
package rudp
