package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-udt/logger"
)

func TestConfigOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		require := require.New(t)
		cfg := defaultConfig()
		require.Equal(10*time.Millisecond, cfg.updateInterval)
		require.Equal(3*time.Second, cfg.connectTimeout)
		require.Equal(250*time.Millisecond, cfg.handshakeRetry)
		require.Equal(time.Second, cfg.keepAliveInterval)
		require.Equal(10*time.Second, cfg.idleTimeout)
		require.True(cfg.ackNoDelay)
	})

	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		cfg := defaultConfig()
		l := logger.GetLogger().With("test", true)

		for _, opt := range []Option{
			WithUpdateInterval(5 * time.Millisecond),
			WithConnectTimeout(time.Second),
			WithKeepAlive(100*time.Millisecond, time.Second),
			WithAckNoDelay(false),
			WithLogger(l),
		} {
			require.NoError(opt.apply(cfg))
		}
		require.Equal(5*time.Millisecond, cfg.updateInterval)
		require.Equal(time.Second, cfg.connectTimeout)
		require.Equal(100*time.Millisecond, cfg.keepAliveInterval)
		require.Equal(time.Second, cfg.idleTimeout)
		require.False(cfg.ackNoDelay)
		require.Equal(l, cfg.logger)
	})

	t.Run("invalid", func(t *testing.T) {
		cfg := defaultConfig()
		for name, opt := range map[string]Option{
			"interval too small": WithUpdateInterval(time.Microsecond),
			"interval too large": WithUpdateInterval(time.Second),
			"connect timeout":    WithConnectTimeout(time.Millisecond),
			"keep-alive":         WithKeepAlive(time.Millisecond, time.Second),
			"idle timeout":       WithKeepAlive(time.Second, time.Second),
			"nil logger":         WithLogger(nil),
		} {
			require.Error(t, opt.apply(cfg), name)
		}
		require.ErrorIs(t, WithAckNoDelay(true).apply(nil), ErrConfigNil)
	})

	t.Run("New rejects invalid options", func(t *testing.T) {
		_, err := New(WithConnectTimeout(0))
		require.Error(t, err)
	})
}
