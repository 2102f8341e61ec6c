package engine

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	require := require.New(t)

	require.Equal(CodeSuccess, CodeOf(nil))
	require.Equal(CodeUnknown, CodeOf(io.EOF))
	require.Equal(CodeAsyncRecv, CodeOf(NewError("recv", CodeAsyncRecv, nil)))

	wrapped := fmt.Errorf("outer: %w", NewError("send", CodeAsyncSend, nil))
	require.Equal(CodeAsyncSend, CodeOf(wrapped))
	require.True(IsWouldBlock(wrapped))
	require.False(IsWouldBlock(NewError("recv", CodeConnLost, nil)))
	require.False(IsWouldBlock(nil))
}

func TestError(t *testing.T) {
	require := require.New(t)

	err := NewError("bind", CodeSockFail, io.ErrUnexpectedEOF)
	require.Equal("bind: unable to create or configure UDP socket (1003): unexpected EOF", err.Error())
	require.True(errors.Is(err, io.ErrUnexpectedEOF))

	err = NewError("connect", CodeNoServer, nil)
	require.Equal("connect: server does not respond (1001)", err.Error())

	require.Equal("code 4242", Code(4242).String())
}

func TestStrings(t *testing.T) {
	require := require.New(t)

	require.Equal("CONNECTED", StateConnected.String())
	require.Equal("NONEXIST", StateNonExist.String())
	require.Equal("STATE(42)", State(42).String())
	require.Equal("udp4", FamilyIPv4.Network())
	require.Equal("udp6", FamilyIPv6.Network())
	require.Equal("message", ModeMessage.String())
	require.Equal("UDP_SNDBUF", OptUDPSendBuf.String())
	require.Equal("drain", EventDrain.String())
}
