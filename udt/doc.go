// Package udt provides a socket over a reliable, congestion controlled transport that runs
// on top of UDP.
//
// A Socket follows the familiar connect/bind/listen/accept/send/recv life cycle:
//
//	INIT --Bind--> OPENED --Listen--> LISTENING --Accept--> (new CONNECTED socket)
//	INIT/OPENED --Connect--> [CONNECTING] --> CONNECTED --failure--> BROKEN
//	any --Close--> [CLOSING] --> CLOSED
//
// The transport itself is an engine.Engine, for example the one in package rudp. A Socket
// validates each operation against its status, delegates to the engine and translates
// engine failures into the error kinds of this package.
//
// # Blocking
//
// Connect and Send block unless OptSendSync is false; Accept and Recv block unless
// OptRecvSync is false. Blocking operations wait on the engine's readiness notification
// and never report ErrWouldBlock; OptSendTimeout and OptRecvTimeout bound them with
// ErrTimeout, and the Context variants bound them with a context. Non-blocking operations
// make exactly one attempt and report ErrWouldBlock when it could not complete.
//
// # Modes
//
// Stream sockets use Send and Recv and may split or merge writes. Message sockets use
// SendMessage and RecvMessage, which never split or merge messages; a receive buffer
// smaller than the next message fails with ErrMessageTooLarge and leaves it queued.
//
// # Example
//
//	eng, _ := rudp.New()
//	defer eng.Shutdown()
//
//	ln, _ := udt.NewSocket(eng)
//	_ = ln.Bind("0.0.0.0:7013")
//	_ = ln.Listen(10)
//
//	conn, _ := ln.Accept()
//	buf := make([]byte, 1500)
//	n, _ := conn.Recv(buf)
package udt
