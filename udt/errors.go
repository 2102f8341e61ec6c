package udt

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-udt/engine"
)

// Kind is the failure category of a socket error.
type Kind uint8

const (
	// KindInvalidState: the operation is not valid for the current status or mode.
	KindInvalidState Kind = iota + 1
	// KindInvalidOption: unknown option, or an accessor of the wrong kind.
	KindInvalidOption
	// KindInvalidValue: the value was rejected or is out of range.
	KindInvalidValue
	// KindWouldBlock: a non-blocking operation could not complete immediately.
	KindWouldBlock
	// KindConnectionBroken: the engine detected a peer or protocol failure.
	KindConnectionBroken
	// KindMessageTooLarge: the message does not fit the buffer.
	KindMessageTooLarge
	// KindClosed: the socket was closed.
	KindClosed
	// KindTimeout: a send or receive timeout expired.
	KindTimeout
	// KindConnectionFailed: the connection could not be set up.
	KindConnectionFailed
	// KindAddress: the address could not be resolved or bound.
	KindAddress
	// KindResource: any other engine failure.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid state"
	case KindInvalidOption:
		return "invalid option"
	case KindInvalidValue:
		return "invalid value"
	case KindWouldBlock:
		return "would block"
	case KindConnectionBroken:
		return "connection broken"
	case KindMessageTooLarge:
		return "message too large"
	case KindClosed:
		return "socket closed"
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection failed"
	case KindAddress:
		return "address error"
	case KindResource:
		return "resource error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is the error type returned by Socket operations.
type Error struct {
	Op   string
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Msg == "":
		return "udt: " + e.Kind.String()
	case e.Msg == "":
		return fmt.Sprintf("udt: %s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("udt: %s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("udt: %s: %s: %s", e.Op, e.Kind, e.Msg)
	}
}

// Is reports whether target is an *Error of the same kind, so errors.Is matches the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Temporary reports whether the operation may succeed when retried.
func (e *Error) Temporary() bool {
	return e.Kind == KindWouldBlock
}

// Timeout reports whether the error is a timeout.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// Sentinel errors, one per kind. Match them with errors.Is.
var (
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrInvalidOption    = &Error{Kind: KindInvalidOption}
	ErrInvalidValue     = &Error{Kind: KindInvalidValue}
	ErrWouldBlock       = &Error{Kind: KindWouldBlock}
	ErrConnectionBroken = &Error{Kind: KindConnectionBroken}
	ErrMessageTooLarge  = &Error{Kind: KindMessageTooLarge}
	ErrClosed           = &Error{Kind: KindClosed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed}
	ErrAddress          = &Error{Kind: KindAddress}
	ErrResource         = &Error{Kind: KindResource}
)

func newError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// KindOf returns the kind of err, or zero when err is not a socket error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// kindOfCode maps an engine code to its failure category.
func kindOfCode(code engine.Code) Kind {
	switch code {
	case engine.CodeAsyncFail, engine.CodeAsyncSend, engine.CodeAsyncRecv:
		return KindWouldBlock
	case engine.CodeConnSetup, engine.CodeNoServer, engine.CodeConnRejected:
		return KindConnectionFailed
	case engine.CodeConnFail, engine.CodeConnLost, engine.CodePeerError:
		return KindConnectionBroken
	case engine.CodeNoConn, engine.CodeBoundSock, engine.CodeConnSock, engine.CodeUnboundSock,
		engine.CodeNoListen, engine.CodeStreamIll, engine.CodeDgramIll, engine.CodeDupListen,
		engine.CodeInvalidOp:
		return KindInvalidState
	case engine.CodeInvalidParam:
		return KindInvalidValue
	case engine.CodeInvalidSock:
		return KindClosed
	case engine.CodeLargeMsg:
		return KindMessageTooLarge
	case engine.CodeTimeout:
		return KindTimeout
	case engine.CodeSockFail:
		return KindAddress
	default:
		return KindResource
	}
}

// translate converts an engine failure into a socket error. The engine error is rendered
// into the message and not wrapped, so engine codes never reach the caller.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var sockErr *Error
	if errors.As(err, &sockErr) {
		return sockErr
	}

	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		return newError(op, KindResource, err.Error())
	}

	kind := kindOfCode(engErr.Code)
	// a malformed address is reported as an address failure, not a bad option value
	if kind == KindInvalidValue && (op == opBind || op == opConnect) {
		kind = KindAddress
	}

	msg := engErr.Code.String()
	if engErr.Err != nil {
		msg += ": " + engErr.Err.Error()
	}

	return newError(op, kind, msg)
}
