package rudp

import (
	"errors"
	"time"

	"github.com/arloliu/go-udt/logger"
)

// ErrConfigNil indicates that a nil Config was provided.
var ErrConfigNil = errors.New("engine config is nil")

// Config holds the engine wide parameters. Per-handle parameters are engine options, see
// engine.Option.
type Config struct {
	// updateInterval drives the KCP clock, handshake retransmission, keep-alives and linger.
	// Defaults to 10ms.
	updateInterval time.Duration

	// connectTimeout bounds the handshake of Connect. Defaults to 3 seconds.
	connectTimeout time.Duration

	// handshakeRetry is the handshake request retransmission interval. Defaults to 250ms.
	handshakeRetry time.Duration

	// keepAliveInterval is the send silence after which a keep-alive is sent. Defaults to 1 second.
	keepAliveInterval time.Duration

	// idleTimeout is the peer silence after which a connection is broken. Defaults to 10 seconds.
	idleTimeout time.Duration

	// ackNoDelay acknowledges every received segment immediately. Defaults to true.
	ackNoDelay bool

	// waitPoll bounds a single Wait call so that conditions not tied to a notification, such as
	// bandwidth tokens refilling, are re-checked. Defaults to 50ms.
	waitPoll time.Duration

	logger logger.Logger
}

func defaultConfig() *Config {
	return &Config{
		updateInterval:    10 * time.Millisecond,
		connectTimeout:    3 * time.Second,
		handshakeRetry:    250 * time.Millisecond,
		keepAliveInterval: 1 * time.Second,
		idleTimeout:       10 * time.Second,
		ackNoDelay:        true,
		waitPoll:          50 * time.Millisecond,
		logger:            logger.GetLogger(),
	}
}

// Option represents a functional option for configuring an Engine.
type Option interface {
	apply(*Config) error
}

type optFunc struct {
	name      string
	applyFunc func(*Config) error
}

func (o *optFunc) apply(cfg *Config) error { return o.applyFunc(cfg) }

func newOptFunc(name string, f func(*Config) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithUpdateInterval sets the internal clock interval, between 1ms and 100ms.
//
// The default value is 10ms.
func WithUpdateInterval(val time.Duration) Option {
	return newOptFunc("WithUpdateInterval", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < time.Millisecond || val > 100*time.Millisecond {
			return errors.New("update interval out of range [1ms, 100ms]")
		}
		cfg.updateInterval = val

		return nil
	})
}

// WithConnectTimeout sets the handshake timeout of Connect, between 100ms and 60 seconds.
//
// The default value is 3 seconds.
func WithConnectTimeout(val time.Duration) Option {
	return newOptFunc("WithConnectTimeout", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if val < 100*time.Millisecond || val > 60*time.Second {
			return errors.New("connect timeout out of range [100ms, 60s]")
		}
		cfg.connectTimeout = val

		return nil
	})
}

// WithKeepAlive sets the keep-alive interval and the peer idle timeout.
// The idle timeout must be at least twice the interval.
//
// The default values are 1 second and 10 seconds.
func WithKeepAlive(interval time.Duration, idleTimeout time.Duration) Option {
	return newOptFunc("WithKeepAlive", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if interval < 10*time.Millisecond {
			return errors.New("keep-alive interval must be at least 10ms")
		}
		if idleTimeout < 2*interval {
			return errors.New("idle timeout must be at least twice the keep-alive interval")
		}
		cfg.keepAliveInterval = interval
		cfg.idleTimeout = idleTimeout

		return nil
	})
}

// WithAckNoDelay enables or disables immediate acknowledgement of received segments.
//
// The default value is true.
func WithAckNoDelay(val bool) Option {
	return newOptFunc("WithAckNoDelay", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		cfg.ackNoDelay = val

		return nil
	})
}

// WithLogger sets the logger of the engine.
//
// The default logger is the global logger instance.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(cfg *Config) error {
		if cfg == nil {
			return ErrConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
