// Package metrics exports socket statistics as Prometheus metrics.
//
// Usage:
//
//	c := metrics.NewCollector("udt", metrics.WithEngine(eng))
//	prometheus.MustRegister(c)
//
//	conn, _ := ln.Accept()
//	c.Add(conn)
//	defer c.Remove(conn)
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-udt/udt"
)

// Source is a socket whose statistics are collected, usually a *udt.Socket.
type Source interface {
	ID() int32
	Stats() (udt.Stats, error)
}

// HandleCounter reports the number of live engine handles, usually a *rudp.Engine.
type HandleCounter interface {
	Handles() int
}

// Option configures a Collector.
type Option func(*Collector)

// WithEngine adds a gauge of the live handles of eng.
func WithEngine(eng HandleCounter) Option {
	return func(c *Collector) { c.engine = eng }
}

// Collector implements prometheus.Collector over a set of sockets. Sockets that report
// ErrClosed are dropped from the set on the next collection.
type Collector struct {
	sockets *xsync.MapOf[int32, Source]
	engine  HandleCounter

	packetsSent   *prometheus.Desc
	packetsRecv   *prometheus.Desc
	bytesSent     *prometheus.Desc
	bytesRecv     *prometheus.Desc
	sendBuffered  *prometheus.Desc
	recvBuffered  *prometheus.Desc
	engineHandles *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string, opts ...Option) *Collector {
	labels := []string{"socket"}
	c := &Collector{
		sockets: xsync.NewMapOf[int32, Source](),
		packetsSent: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "packets_sent_total"),
			"Packets sent by the socket.", labels, nil),
		packetsRecv: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "packets_received_total"),
			"Packets received by the socket.", labels, nil),
		bytesSent: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "bytes_sent_total"),
			"Bytes sent by the socket, including protocol overhead.", labels, nil),
		bytesRecv: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "bytes_received_total"),
			"Bytes received by the socket, including protocol overhead.", labels, nil),
		sendBuffered: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "send_buffered_bytes"),
			"Bytes waiting in the send buffer.", labels, nil),
		recvBuffered: prometheus.NewDesc(prometheus.BuildFQName(namespace, "socket", "recv_buffered_bytes"),
			"Bytes ready to be received.", labels, nil),
		engineHandles: prometheus.NewDesc(prometheus.BuildFQName(namespace, "engine", "handles"),
			"Live engine handles.", nil, nil),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Add starts collecting s.
func (c *Collector) Add(s Source) {
	c.sockets.Store(s.ID(), s)
}

// Remove stops collecting s.
func (c *Collector) Remove(s Source) {
	c.sockets.Delete(s.ID())
}

// Len returns the number of collected sockets.
func (c *Collector) Len() int {
	return c.sockets.Size()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSent
	ch <- c.packetsRecv
	ch <- c.bytesSent
	ch <- c.bytesRecv
	ch <- c.sendBuffered
	ch <- c.recvBuffered
	if c.engine != nil {
		ch <- c.engineHandles
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		ch <- prometheus.MustNewConstMetric(c.engineHandles, prometheus.GaugeValue, float64(c.engine.Handles()))
	}

	c.sockets.Range(func(id int32, s Source) bool {
		stats, err := s.Stats()
		if err != nil {
			if errors.Is(err, udt.ErrClosed) {
				c.sockets.Delete(id)
			}

			return true
		}

		label := strconv.FormatInt(int64(id), 10)
		ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(stats.PacketsSent), label)
		ch <- prometheus.MustNewConstMetric(c.packetsRecv, prometheus.CounterValue, float64(stats.PacketsReceived), label)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(stats.BytesSent), label)
		ch <- prometheus.MustNewConstMetric(c.bytesRecv, prometheus.CounterValue, float64(stats.BytesReceived), label)
		ch <- prometheus.MustNewConstMetric(c.sendBuffered, prometheus.GaugeValue, float64(stats.SendBuffered), label)
		ch <- prometheus.MustNewConstMetric(c.recvBuffered, prometheus.GaugeValue, float64(stats.RecvBuffered), label)

		return true
	})
}
