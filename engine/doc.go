// Package engine defines the contract between a UDT socket and the transport engine that
// performs reliable delivery over datagrams.
//
// An engine owns the protocol machinery (handshake, retransmission, flow and congestion
// control, datagram I/O) and exposes it through opaque handles. Every primitive is
// non-blocking: when an operation cannot complete immediately the engine reports an error
// whose Code is one of the asynchronous codes (CodeAsyncSend, CodeAsyncRecv), and the
// caller may park on Wait until the handle is worth retrying.
//
// Handle lifecycle:
//
//	Create -> Bind -> Listen -> Accept (new handle)
//	Create -> [Bind] -> Connect
//	any -> Close
//
// Engine errors carry UDT compatible numeric codes (see Code). They are meant to be
// translated by the socket layer and never shown to applications directly.
package engine
