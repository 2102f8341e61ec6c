package udt

import (
	"github.com/arloliu/go-udt/logger"
)

// defaultBacklog is used by Listen when the backlog is not positive.
const defaultBacklog = 10

type socketConfig struct {
	family Family
	mode   Mode
	logger logger.Logger
}

func defaultSocketConfig() *socketConfig {
	return &socketConfig{
		family: IPv4,
		mode:   Stream,
		logger: logger.GetLogger(),
	}
}

// SocketOption configures a socket at construction.
type SocketOption interface {
	apply(*socketConfig) error
}

type socketOptFunc struct {
	name      string
	applyFunc func(*socketConfig) error
}

func (o *socketOptFunc) apply(cfg *socketConfig) error { return o.applyFunc(cfg) }

func newSocketOptFunc(name string, f func(*socketConfig) error) *socketOptFunc {
	return &socketOptFunc{name: name, applyFunc: f}
}

// WithFamily sets the address family, IPv4 or IPv6.
//
// The default value is IPv4.
func WithFamily(family Family) SocketOption {
	return newSocketOptFunc("WithFamily", func(cfg *socketConfig) error {
		if family != IPv4 && family != IPv6 {
			return newError("new socket", KindInvalidValue, "unknown family "+family.String())
		}
		cfg.family = family

		return nil
	})
}

// WithMode sets the transfer mode, Stream or Message.
//
// The default value is Stream.
func WithMode(mode Mode) SocketOption {
	return newSocketOptFunc("WithMode", func(cfg *socketConfig) error {
		if mode != Stream && mode != Message {
			return newError("new socket", KindInvalidValue, "unknown mode "+mode.String())
		}
		cfg.mode = mode

		return nil
	})
}

// WithLogger sets the logger of the socket. Sockets accepted from it inherit the logger.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) SocketOption {
	return newSocketOptFunc("WithLogger", func(cfg *socketConfig) error {
		if l == nil {
			return newError("new socket", KindInvalidValue, "logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
