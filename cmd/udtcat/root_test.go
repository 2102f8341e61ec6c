package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-udt/logger"
)

func TestMain(m *testing.M) {
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	os.Exit(m.Run())
}

func TestListenConnect(t *testing.T) {
	for _, mode := range []string{"stream", "message"} {
		t.Run(mode, func(t *testing.T) {
			require := require.New(t)

			addr := "127.0.0.1:7041"
			extra := []string{}
			if mode == "message" {
				addr = "127.0.0.1:7042"
				extra = append(extra, "--message")
			}

			payload := make([]byte, 200*1024)
			_, err := rand.Read(payload)
			require.NoError(err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			var out bytes.Buffer
			listenCmd := newRootCmd(nil, &out)
			listenCmd.SetArgs(append([]string{"listen", addr}, extra...))
			listenCmd.SetErr(io.Discard)

			listenDone := make(chan error, 1)
			go func() { listenDone <- listenCmd.ExecuteContext(ctx) }()

			time.Sleep(100 * time.Millisecond)

			connectCmd := newRootCmd(bytes.NewReader(payload), io.Discard)
			connectCmd.SetArgs(append([]string{"connect", addr, "--sndbuf", "1MiB"}, extra...))
			connectCmd.SetErr(io.Discard)
			require.NoError(connectCmd.ExecuteContext(ctx))

			select {
			case err := <-listenDone:
				require.NoError(err)
			case <-ctx.Done():
				t.Fatal("listen did not finish")
			}
			require.Equal(payload, out.Bytes())
		})
	}
}

func TestListenCancelled(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd(nil, io.Discard)
	cmd.SetArgs([]string{"listen", "127.0.0.1:0"})
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen ignored cancellation")
	}
}

func TestArgs(t *testing.T) {
	cmd := newRootCmd(nil, io.Discard)
	cmd.SetArgs([]string{"connect"})
	cmd.SetErr(io.Discard)
	cmd.SetOut(io.Discard)
	require.Error(t, cmd.Execute())
}
