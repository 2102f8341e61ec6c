package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-udt/rudp"
	"github.com/arloliu/go-udt/udt"
)

type fakeSource struct {
	id    int32
	stats udt.Stats
	err   error
}

func (f *fakeSource) ID() int32                 { return f.id }
func (f *fakeSource) Stats() (udt.Stats, error) { return f.stats, f.err }

type fakeEngine struct{ n int }

func (f fakeEngine) Handles() int { return f.n }

func TestCollector(t *testing.T) {
	require := require.New(t)

	c := NewCollector("udt", WithEngine(fakeEngine{n: 3}))
	c.Add(&fakeSource{id: 7, stats: udt.Stats{
		PacketsSent:     10,
		PacketsReceived: 4,
		BytesSent:       1000,
		BytesReceived:   200,
		SendBuffered:    1448,
		RecvBuffered:    5,
	}})

	expected := `
# HELP udt_engine_handles Live engine handles.
# TYPE udt_engine_handles gauge
udt_engine_handles 3
# HELP udt_socket_bytes_received_total Bytes received by the socket, including protocol overhead.
# TYPE udt_socket_bytes_received_total counter
udt_socket_bytes_received_total{socket="7"} 200
# HELP udt_socket_bytes_sent_total Bytes sent by the socket, including protocol overhead.
# TYPE udt_socket_bytes_sent_total counter
udt_socket_bytes_sent_total{socket="7"} 1000
# HELP udt_socket_packets_received_total Packets received by the socket.
# TYPE udt_socket_packets_received_total counter
udt_socket_packets_received_total{socket="7"} 4
# HELP udt_socket_packets_sent_total Packets sent by the socket.
# TYPE udt_socket_packets_sent_total counter
udt_socket_packets_sent_total{socket="7"} 10
# HELP udt_socket_recv_buffered_bytes Bytes ready to be received.
# TYPE udt_socket_recv_buffered_bytes gauge
udt_socket_recv_buffered_bytes{socket="7"} 5
# HELP udt_socket_send_buffered_bytes Bytes waiting in the send buffer.
# TYPE udt_socket_send_buffered_bytes gauge
udt_socket_send_buffered_bytes{socket="7"} 1448
`
	require.NoError(testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollector_DropsClosedSockets(t *testing.T) {
	require := require.New(t)

	c := NewCollector("udt")
	c.Add(&fakeSource{id: 1, err: udt.ErrClosed})
	c.Add(&fakeSource{id: 2})
	require.Equal(2, c.Len())

	require.Equal(6, testutil.CollectAndCount(c))
	require.Equal(1, c.Len())

	c.Remove(&fakeSource{id: 2})
	require.Zero(c.Len())
}

func TestCollector_Sockets(t *testing.T) {
	require := require.New(t)

	eng, err := rudp.New()
	require.NoError(err)
	defer eng.Shutdown()

	ln, err := udt.NewSocket(eng)
	require.NoError(err)
	defer ln.Close()
	require.NoError(ln.Bind("127.0.0.1:0"))
	require.NoError(ln.Listen(1))
	addr, err := ln.LocalAddress()
	require.NoError(err)

	client, err := udt.NewSocket(eng)
	require.NoError(err)
	defer client.Close()
	require.NoError(client.Connect(addr.String()))

	_, err = client.Send([]byte("metrics"))
	require.NoError(err)

	c := NewCollector("udt", WithEngine(eng))
	c.Add(client)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(reg.Register(c))

	families, err := reg.Gather()
	require.NoError(err)
	require.Len(families, 7)

	for _, mf := range families {
		if mf.GetName() == "udt_socket_bytes_sent_total" {
			require.Positive(mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
