package engine

import (
	"errors"
	"fmt"
)

// Code is an engine error code. The values follow CUDTException (major*1000 + minor).
type Code int

const (
	CodeSuccess      Code = 0
	CodeConnSetup    Code = 1000
	CodeNoServer     Code = 1001
	CodeConnRejected Code = 1002
	CodeSockFail     Code = 1003
	CodeConnFail     Code = 2000
	CodeConnLost     Code = 2001
	CodeNoConn       Code = 2002
	CodeResource     Code = 3000
	CodeNoBuffer     Code = 3002
	CodeInvalidOp    Code = 5000
	CodeBoundSock    Code = 5001
	CodeConnSock     Code = 5002
	CodeInvalidParam Code = 5003
	CodeInvalidSock  Code = 5004
	CodeUnboundSock  Code = 5005
	CodeNoListen     Code = 5006
	CodeStreamIll    Code = 5009
	CodeDgramIll     Code = 5010
	CodeDupListen    Code = 5011
	CodeLargeMsg     Code = 5012
	CodeAsyncFail    Code = 6000
	CodeAsyncSend    Code = 6001
	CodeAsyncRecv    Code = 6002
	CodeTimeout      Code = 6003
	CodePeerError    Code = 7000
	CodeUnknown      Code = -1
)

var codeText = map[Code]string{
	CodeSuccess:      "success",
	CodeConnSetup:    "connection setup failure",
	CodeNoServer:     "server does not respond",
	CodeConnRejected: "connection request rejected",
	CodeSockFail:     "unable to create or configure UDP socket",
	CodeConnFail:     "connection failure",
	CodeConnLost:     "connection was broken",
	CodeNoConn:       "connection does not exist",
	CodeResource:     "system resource failure",
	CodeNoBuffer:     "unable to allocate buffers",
	CodeInvalidOp:    "operation not supported",
	CodeBoundSock:    "cannot do this operation on a bound socket",
	CodeConnSock:     "cannot do this operation on a connected socket",
	CodeInvalidParam: "bad parameters",
	CodeInvalidSock:  "invalid socket id",
	CodeUnboundSock:  "cannot do this operation on an unbound socket",
	CodeNoListen:     "socket is not in listening state",
	CodeStreamIll:    "this operation is not supported in SOCK_STREAM mode",
	CodeDgramIll:     "this operation is not supported in SOCK_DGRAM mode",
	CodeDupListen:    "another socket is already listening on the same port",
	CodeLargeMsg:     "message is too large",
	CodeAsyncFail:    "non-blocking call failure",
	CodeAsyncSend:    "no buffer available for sending",
	CodeAsyncRecv:    "no data available for reading",
	CodeTimeout:      "operation timed out",
	CodePeerError:    "the peer side has signalled an error",
	CodeUnknown:      "unknown error",
}

func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}

	return fmt.Sprintf("code %d", int(c))
}

// IsAsync returns true for the would-block family of codes.
func (c Code) IsAsync() bool {
	return c == CodeAsyncFail || c == CodeAsyncSend || c == CodeAsyncRecv
}

// Error is the error type returned by engine primitives.
type Error struct {
	Op   string
	Code Code
	Err  error
}

// NewError creates an engine error for op with the given code and optional cause.
func NewError(op string, code Code, cause error) *Error {
	return &Error{Op: op, Code: code, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Code, int(e.Code), e.Err)
	}

	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, int(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the engine code from err. A nil error yields CodeSuccess and any error
// that is not an *Error yields CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}

	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Code
	}

	return CodeUnknown
}

// IsWouldBlock reports whether err is a would-block condition.
func IsWouldBlock(err error) bool {
	return CodeOf(err).IsAsync()
}
