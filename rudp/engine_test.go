package rudp

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-udt/engine"
	"github.com/arloliu/go-udt/logger"
)

const testTimeout = 5 * time.Second

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	return e
}

// retry repeats fn until it stops reporting would-block, parking on ev between attempts.
func retry(t *testing.T, e *Engine, h engine.Handle, ev engine.Event, fn func() error) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	for {
		err := fn()
		if !engine.IsWouldBlock(err) {
			return err
		}
		if werr := e.Wait(ctx, h, ev); werr != nil {
			return werr
		}
	}
}

func listen(t *testing.T, e *Engine, mode engine.Mode) (engine.Handle, string) {
	t.Helper()

	h, err := e.Create(engine.FamilyIPv4, mode)
	require.NoError(t, err)
	require.NoError(t, e.Bind(h, "127.0.0.1:0"))
	require.NoError(t, e.Listen(h, 4))

	addr, err := e.LocalAddr(h)
	require.NoError(t, err)

	return h, addr.String()
}

func connectPair(t *testing.T, e *Engine, mode engine.Mode) (client engine.Handle, server engine.Handle) {
	t.Helper()
	require := require.New(t)

	ls, addr := listen(t, e, mode)

	client, err := e.Create(engine.FamilyIPv4, mode)
	require.NoError(err)

	err = e.Connect(client, addr)
	require.Equal(engine.CodeAsyncRecv, engine.CodeOf(err))

	err = retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr) })
	require.NoError(err)
	require.Equal(engine.StateConnected, e.Status(client))

	err = retry(t, e, ls, engine.EventRead, func() error {
		var aerr error
		server, aerr = e.Accept(ls)
		return aerr
	})
	require.NoError(err)
	require.Equal(engine.StateConnected, e.Status(server))

	return client, server
}

func TestEngine_Handshake(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	ls, addr := listen(t, e, engine.ModeStream)
	require.Equal(engine.StateListening, e.Status(ls))

	client, err := e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.NoError(err)
	require.Equal(engine.StateInit, e.Status(client))

	err = e.Connect(client, addr)
	require.Equal(engine.CodeAsyncRecv, engine.CodeOf(err))
	require.Equal(engine.StateConnecting, e.Status(client))

	require.NoError(retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr) }))

	// connecting again to the same peer is a no-op, to another one is refused
	require.NoError(e.Connect(client, addr))
	err = e.Connect(client, "127.0.0.1:1")
	require.Equal(engine.CodeConnSock, engine.CodeOf(err))

	var server engine.Handle
	require.NoError(retry(t, e, ls, engine.EventRead, func() error {
		var aerr error
		server, aerr = e.Accept(ls)
		return aerr
	}))
	require.NotEqual(ls, server)

	_, err = e.Accept(ls)
	require.Equal(engine.CodeAsyncRecv, engine.CodeOf(err))

	serverLocal, err := e.LocalAddr(server)
	require.NoError(err)
	require.Equal(addr, serverLocal.String())

	clientLocal, err := e.LocalAddr(client)
	require.NoError(err)
	serverPeer, err := e.PeerAddr(server)
	require.NoError(err)
	require.Equal(clientLocal.String(), serverPeer.String())

	clientPeer, err := e.PeerAddr(client)
	require.NoError(err)
	require.Equal(addr, clientPeer.String())
}

func TestEngine_StreamTransfer(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeStream)

	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	done := make(chan error, 1)
	go func() {
		sent := 0
		done <- retry(t, e, client, engine.EventWrite, func() error {
			for sent < len(payload) {
				n, err := e.Send(client, payload[sent:])
				sent += n
				if err != nil {
					return err
				}
			}
			return nil
		})
	}()

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 7000)
	err := retry(t, e, server, engine.EventRead, func() error {
		for len(received) < len(payload) {
			n, err := e.Recv(server, buf)
			received = append(received, buf[:n]...)
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(err)
	require.NoError(<-done)
	require.True(bytes.Equal(payload, received))

	perf, err := e.Perf(client)
	require.NoError(err)
	require.Greater(perf.BytesSent, uint64(len(payload)))
	require.Positive(perf.PktRecv)
}

func TestEngine_MessageBoundaries(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeMessage)

	msgs := [][]byte{
		[]byte("a"),
		bytes.Repeat([]byte("b"), 3000),
		[]byte("hello"),
		bytes.Repeat([]byte("c"), 20000),
	}
	for _, msg := range msgs {
		require.NoError(retry(t, e, client, engine.EventWrite, func() error { return e.SendMessage(client, msg) }))
	}

	buf := make([]byte, 65536)
	for _, want := range msgs {
		var n int
		err := retry(t, e, server, engine.EventRead, func() error {
			var rerr error
			n, rerr = e.RecvMessage(server, buf)
			return rerr
		})
		require.NoError(err)
		require.Equal(want, buf[:n])
	}
}

func TestEngine_RecvMessageTooLarge(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeMessage)

	msg := bytes.Repeat([]byte("x"), 100)
	require.NoError(e.SendMessage(client, msg))

	small := make([]byte, 10)
	err := retry(t, e, server, engine.EventRead, func() error {
		_, rerr := e.RecvMessage(server, small)
		return rerr
	})
	require.Equal(engine.CodeLargeMsg, engine.CodeOf(err))

	// the message is still queued
	n, err := e.RecvMessage(server, make([]byte, 100))
	require.NoError(err)
	require.Equal(100, n)

	err = e.SendMessage(client, make([]byte, 10*1024*1024))
	require.Equal(engine.CodeLargeMsg, engine.CodeOf(err))
}

// listenWith is listen with options set on the listener after Listen.
func listenWith(t *testing.T, e *Engine, mode engine.Mode, opts map[engine.Option]int64) (engine.Handle, string) {
	t.Helper()

	ls, addr := listen(t, e, mode)
	for opt, val := range opts {
		_, err := e.SetOption(ls, opt, val)
		require.NoError(t, err, opt.String())
	}

	return ls, addr
}

func acceptPair(t *testing.T, e *Engine, ls engine.Handle, addr string, mode engine.Mode) (client engine.Handle, server engine.Handle) {
	t.Helper()
	require := require.New(t)

	client, err := e.Create(engine.FamilyIPv4, mode)
	require.NoError(err)
	require.NoError(retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr) }))
	require.NoError(retry(t, e, ls, engine.EventRead, func() error {
		var aerr error
		server, aerr = e.Accept(ls)
		return aerr
	}))

	return client, server
}

func TestEngine_MessageLimitFollowsPeerWindow(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	ls, addr := listenWith(t, e, engine.ModeMessage, map[engine.Option]int64{engine.OptFlowWindow: minFlowWindow})
	client, server := acceptPair(t, e, ls, addr, engine.ModeMessage)

	seg := 1500 - udpIPHeader - kcpOverhead
	limit := (minFlowWindow - 1) * seg

	// larger than the server can reassemble
	err := e.SendMessage(client, make([]byte, 60*1024))
	require.Equal(engine.CodeLargeMsg, engine.CodeOf(err))
	err = e.SendMessage(client, make([]byte, limit+1))
	require.Equal(engine.CodeLargeMsg, engine.CodeOf(err))

	msgs := [][]byte{bytes.Repeat([]byte("w"), limit), []byte("after")}
	for _, msg := range msgs {
		require.NoError(retry(t, e, client, engine.EventWrite, func() error { return e.SendMessage(client, msg) }))
	}

	buf := make([]byte, 65536)
	for _, want := range msgs {
		var n int
		require.NoError(retry(t, e, server, engine.EventRead, func() error {
			var rerr error
			n, rerr = e.RecvMessage(server, buf)
			return rerr
		}))
		require.Equal(want, buf[:n])
	}

	// the client kept the default window, so the server may send large messages
	big := bytes.Repeat([]byte("z"), 60*1024)
	require.NoError(retry(t, e, server, engine.EventWrite, func() error { return e.SendMessage(server, big) }))
	var n int
	require.NoError(retry(t, e, client, engine.EventRead, func() error {
		var rerr error
		n, rerr = e.RecvMessage(client, buf)
		return rerr
	}))
	require.Equal(big, buf[:n])
}

func TestEngine_StreamWithSmallPeerWindow(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	ls, addr := listenWith(t, e, engine.ModeStream, map[engine.Option]int64{engine.OptFlowWindow: minFlowWindow})
	client, server := acceptPair(t, e, ls, addr, engine.ModeStream)

	payload := make([]byte, 128*1024)
	for i := range payload {
		payload[i] = byte(i % 253)
	}

	done := make(chan error, 1)
	go func() {
		sent := 0
		done <- retry(t, e, client, engine.EventWrite, func() error {
			for sent < len(payload) {
				n, err := e.Send(client, payload[sent:])
				sent += n
				if err != nil {
					return err
				}
			}
			return nil
		})
	}()

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	require.NoError(retry(t, e, server, engine.EventRead, func() error {
		for len(received) < len(payload) {
			n, err := e.Recv(server, buf)
			received = append(received, buf[:n]...)
			if err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(<-done)
	require.True(bytes.Equal(payload, received))
}

func TestEngine_SmallestMSS(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	ls, err := e.Create(engine.FamilyIPv4, engine.ModeMessage)
	require.NoError(err)
	_, err = e.SetOption(ls, engine.OptMSS, minMSS)
	require.NoError(err)
	require.NoError(e.Bind(ls, "127.0.0.1:0"))
	require.NoError(e.Listen(ls, 1))
	addr, err := e.LocalAddr(ls)
	require.NoError(err)

	client, err := e.Create(engine.FamilyIPv4, engine.ModeMessage)
	require.NoError(err)
	_, err = e.SetOption(client, engine.OptMSS, minMSS)
	require.NoError(err)
	require.NoError(retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr.String()) }))

	var server engine.Handle
	require.NoError(retry(t, e, ls, engine.EventRead, func() error {
		var aerr error
		server, aerr = e.Accept(ls)
		return aerr
	}))

	before, err := e.Perf(client)
	require.NoError(err)

	msg := bytes.Repeat([]byte("m"), 1000)
	require.NoError(retry(t, e, client, engine.EventWrite, func() error { return e.SendMessage(client, msg) }))

	buf := make([]byte, 2000)
	var n int
	require.NoError(retry(t, e, server, engine.EventRead, func() error {
		var rerr error
		n, rerr = e.RecvMessage(server, buf)
		return rerr
	}))
	require.Equal(msg, buf[:n])

	// every datagram carries at most 26 bytes of the message
	after, err := e.Perf(client)
	require.NoError(err)
	seg := minMSS - udpIPHeader - kcpOverhead
	require.GreaterOrEqual(after.PktSent-before.PktSent, uint64((len(msg)+seg-1)/seg))
}

func TestEngine_ModeChecks(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, _ := connectPair(t, e, engine.ModeMessage)

	_, err := e.Send(client, []byte("x"))
	require.Equal(engine.CodeDgramIll, engine.CodeOf(err))
	_, err = e.Recv(client, make([]byte, 1))
	require.Equal(engine.CodeDgramIll, engine.CodeOf(err))

	stream, _ := connectPair(t, e, engine.ModeStream)
	err = e.SendMessage(stream, []byte("x"))
	require.Equal(engine.CodeStreamIll, engine.CodeOf(err))
	_, err = e.RecvMessage(stream, make([]byte, 1))
	require.Equal(engine.CodeStreamIll, engine.CodeOf(err))
}

func TestEngine_PeerShutdown(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeStream)

	n, err := e.Send(client, []byte("bye"))
	require.NoError(err)
	require.Equal(3, n)
	require.NoError(e.Close(client))
	require.Contains([]engine.State{engine.StateClosing, engine.StateNonExist}, e.Status(client))

	buf := make([]byte, 16)
	err = retry(t, e, server, engine.EventRead, func() error {
		var rerr error
		n, rerr = e.Recv(server, buf)
		return rerr
	})
	require.NoError(err)
	require.Equal("bye", string(buf[:n]))

	err = retry(t, e, server, engine.EventRead, func() error {
		_, rerr := e.Recv(server, buf)
		return rerr
	})
	require.Equal(engine.CodeConnLost, engine.CodeOf(err))
	require.Equal(engine.StateBroken, e.Status(server))

	_, err = e.Send(server, []byte("x"))
	require.Equal(engine.CodeConnLost, engine.CodeOf(err))
}

func TestEngine_ConnectRejected(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	_, addr := listen(t, e, engine.ModeMessage)

	client, err := e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.NoError(err)

	err = retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr) })
	require.Equal(engine.CodeConnRejected, engine.CodeOf(err))
	require.Equal(engine.StateBroken, e.Status(client))
}

func TestEngine_ConnectTimeout(t *testing.T) {
	require := require.New(t)
	rec := logger.NewRecorder(logger.DebugLevel)
	e := newTestEngine(t, WithConnectTimeout(200*time.Millisecond), WithLogger(rec))

	// a plain UDP socket that never answers
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(err)
	defer silent.Close()

	client, err := e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.NoError(err)

	start := time.Now()
	err = retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, silent.LocalAddr().String()) })
	require.Equal(engine.CodeNoServer, engine.CodeOf(err))
	require.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
	require.Equal(engine.StateBroken, e.Status(client))
	require.True(rec.Has("connect timed out"))
}

func TestEngine_StateErrors(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	h, err := e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.NoError(err)

	require.Equal(engine.CodeUnboundSock, engine.CodeOf(e.Listen(h, 1)))
	_, err = e.Accept(h)
	require.Equal(engine.CodeNoListen, engine.CodeOf(err))
	_, err = e.Send(h, []byte("x"))
	require.Equal(engine.CodeNoConn, engine.CodeOf(err))
	_, err = e.LocalAddr(h)
	require.Equal(engine.CodeUnboundSock, engine.CodeOf(err))
	_, err = e.PeerAddr(h)
	require.Equal(engine.CodeNoConn, engine.CodeOf(err))

	require.Equal(engine.CodeInvalidParam, engine.CodeOf(e.Bind(h, "not an address")))
	require.NoError(e.Bind(h, "127.0.0.1:0"))
	require.Equal(engine.CodeBoundSock, engine.CodeOf(e.Bind(h, "127.0.0.1:0")))
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(e.Listen(h, 0)))
	require.NoError(e.Listen(h, 1))
	require.Equal(engine.CodeInvalidOp, engine.CodeOf(e.Connect(h, "127.0.0.1:9")))

	require.NoError(e.Close(h))
	require.Equal(engine.StateNonExist, e.Status(h))
	require.Equal(engine.CodeInvalidSock, engine.CodeOf(e.Close(h)))
	_, err = e.GetOption(h, engine.OptMSS)
	require.Equal(engine.CodeInvalidSock, engine.CodeOf(err))
	require.Equal(engine.CodeInvalidSock, engine.CodeOf(e.Wait(context.Background(), h, engine.EventRead)))

	_, err = e.Create(engine.Family(9), engine.ModeStream)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))
}

func TestEngine_Options(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	h, err := e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.NoError(err)

	defaults := map[engine.Option]int64{
		engine.OptMSS:          1500,
		engine.OptFlowWindow:   25600,
		engine.OptSendBuffer:   12058624,
		engine.OptRecvBuffer:   12058624,
		engine.OptUDPSendBuf:   65536,
		engine.OptUDPRecvBuf:   12288000,
		engine.OptReuseAddr:    1,
		engine.OptMaxBandwidth: -1,
		engine.OptLinger:       int64(180 * time.Second),
		engine.OptSendData:     0,
		engine.OptRecvData:     0,
	}
	for opt, want := range defaults {
		got, err := e.GetOption(h, opt)
		require.NoError(err, opt.String())
		require.Equal(want, got, opt.String())
	}

	stored, err := e.SetOption(h, engine.OptUDPSendBuf, 1024001)
	require.NoError(err)
	require.Equal(int64(1024001), stored)

	// buffers are whole packets, at least 32
	stored, err = e.SetOption(h, engine.OptSendBuffer, 1000)
	require.NoError(err)
	require.Equal(int64(32*1472), stored)

	stored, err = e.SetOption(h, engine.OptSendBuffer, 1472*100+5)
	require.NoError(err)
	require.Equal(int64(1472*100), stored)

	// the receive buffer never exceeds the flow window
	_, err = e.SetOption(h, engine.OptFlowWindow, 64)
	require.NoError(err)
	stored, err = e.SetOption(h, engine.OptRecvBuffer, 1472*1000)
	require.NoError(err)
	require.Equal(int64(1472*64), stored)

	stored, err = e.SetOption(h, engine.OptFlowWindow, 5)
	require.NoError(err)
	require.Equal(int64(32), stored)

	_, err = e.SetOption(h, engine.OptMSS, 75)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))
	// KCP needs a 50 byte MTU
	_, err = e.SetOption(h, engine.OptMSS, udpIPHeader+49)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))
	_, err = e.SetOption(h, engine.OptMaxBandwidth, 0)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))
	_, err = e.SetOption(h, engine.OptLinger, -1)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))
	_, err = e.SetOption(h, engine.OptSendData, 1)
	require.Equal(engine.CodeInvalidOp, engine.CodeOf(err))
	_, err = e.SetOption(h, engine.Option(99), 1)
	require.Equal(engine.CodeInvalidParam, engine.CodeOf(err))

	// changing the MSS rescales the packet based buffers
	_, err = e.SetOption(h, engine.OptMSS, 1028)
	require.NoError(err)
	stored, err = e.GetOption(h, engine.OptSendBuffer)
	require.NoError(err)
	require.Equal(int64(100*1000), stored)

	require.NoError(e.Bind(h, "127.0.0.1:0"))
	_, err = e.SetOption(h, engine.OptMSS, 1500)
	require.Equal(engine.CodeBoundSock, engine.CodeOf(err))
	_, err = e.SetOption(h, engine.OptFlowWindow, 1000)
	require.NoError(err)

	stored, err = e.SetOption(h, engine.OptLinger, int64(time.Second))
	require.NoError(err)
	require.Equal(int64(time.Second), stored)
}

func TestEngine_AcceptedInheritsOptions(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)

	ls, err := e.Create(engine.FamilyIPv4, engine.ModeMessage)
	require.NoError(err)
	_, err = e.SetOption(ls, engine.OptSendBuffer, 1472*64)
	require.NoError(err)
	require.NoError(e.Bind(ls, "127.0.0.1:0"))
	require.NoError(e.Listen(ls, 1))
	addr, err := e.LocalAddr(ls)
	require.NoError(err)

	client, err := e.Create(engine.FamilyIPv4, engine.ModeMessage)
	require.NoError(err)
	require.NoError(retry(t, e, client, engine.EventConnect, func() error { return e.Connect(client, addr.String()) }))

	var server engine.Handle
	require.NoError(retry(t, e, ls, engine.EventRead, func() error {
		var aerr error
		server, aerr = e.Accept(ls)
		return aerr
	}))

	got, err := e.GetOption(server, engine.OptSendBuffer)
	require.NoError(err)
	require.Equal(int64(1472*64), got)
}

func TestEngine_MaxBandwidth(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeStream)

	_, err := e.SetOption(client, engine.OptMaxBandwidth, 200*1024)
	require.NoError(err)

	payload := make([]byte, 300*1024)
	start := time.Now()
	go func() {
		buf := make([]byte, 64*1024)
		_ = retry(t, e, server, engine.EventRead, func() error {
			for {
				if _, err := e.Recv(server, buf); err != nil {
					return err
				}
			}
		})
	}()

	sent := 0
	err = retry(t, e, client, engine.EventWrite, func() error {
		for sent < len(payload) {
			n, serr := e.Send(client, payload[sent:])
			sent += n
			if serr != nil {
				return serr
			}
		}
		return nil
	})
	require.NoError(err)
	// the first burst is free, the rest is paced at 200KiB/s
	require.Greater(time.Since(start), 300*time.Millisecond)
}

func TestEngine_LingerFlushesOnClose(t *testing.T) {
	require := require.New(t)
	e := newTestEngine(t)
	client, server := connectPair(t, e, engine.ModeStream)

	payload := bytes.Repeat([]byte("z"), 100*1024)
	sent := 0
	require.NoError(retry(t, e, client, engine.EventWrite, func() error {
		for sent < len(payload) {
			n, err := e.Send(client, payload[sent:])
			sent += n
			if err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(e.Close(client))

	received := 0
	buf := make([]byte, 32*1024)
	err := retry(t, e, server, engine.EventRead, func() error {
		for {
			n, rerr := e.Recv(server, buf)
			received += n
			if rerr != nil {
				return rerr
			}
		}
	})
	require.Equal(engine.CodeConnLost, engine.CodeOf(err))
	require.Equal(len(payload), received)
}

func TestEngine_ShutdownReleasesHandles(t *testing.T) {
	require := require.New(t)

	e, err := New()
	require.NoError(err)

	_, _ = connectPair(t, e, engine.ModeStream)
	require.Positive(e.Handles())

	e.Shutdown()
	require.Zero(e.Handles())

	_, err = e.Create(engine.FamilyIPv4, engine.ModeStream)
	require.Equal(engine.CodeInvalidOp, engine.CodeOf(err))
}
