package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-udt/logger"
	"github.com/arloliu/go-udt/rudp"
	"github.com/arloliu/go-udt/udt"
)

const copyChunk = 32 << 10

type rootFlags struct {
	message  bool
	ipv6     bool
	sndbuf   string
	rcvbuf   string
	config   string
	logLevel string
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.message, "message", false, "preserve message boundaries")
	fs.BoolVar(&f.ipv6, "ipv6", false, "use the IPv6 address family")
	fs.StringVar(&f.sndbuf, "sndbuf", "", "send buffer size, e.g. 8MiB")
	fs.StringVar(&f.rcvbuf, "rcvbuf", "", "receive buffer size, e.g. 8MiB")
	fs.StringVarP(&f.config, "config", "c", "", "YAML file of socket options")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

// socketOptions collects the options from the config file and the size flags. The flags
// override the file.
func (f *rootFlags) socketOptions() (map[udt.Option]any, error) {
	opts := map[udt.Option]any{}
	if f.config != "" {
		loaded, err := loadOptionFile(f.config)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	for _, size := range []struct {
		opt udt.Option
		val string
	}{
		{udt.OptSendBuffer, f.sndbuf},
		{udt.OptRecvBuffer, f.rcvbuf},
	} {
		if size.val == "" {
			continue
		}

		n, err := units.RAMInBytes(size.val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", size.opt, err)
		}
		opts[size.opt] = n
	}

	return opts, nil
}

type app struct {
	flags rootFlags
	in    io.Reader
	out   io.Writer
	log   logger.Logger
	eng   *rudp.Engine
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:          "udtcat",
		Short:        "Pipe standard input and output over a UDT connection",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = logger.NewSlogWithWriter(cmd.ErrOrStderr(), logger.ParseLevel(a.flags.logLevel), false)
			logger.SetDefault(a.log)

			eng, err := rudp.New(rudp.WithLogger(a.log))
			if err != nil {
				return err
			}
			a.eng = eng

			return nil
		},
	}
	a.flags.register(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "listen <addr>",
			Short: "Accept one connection and copy it to standard output",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				defer a.eng.Shutdown()
				return a.listen(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "connect <addr>",
			Short: "Connect and copy standard input to the connection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				defer a.eng.Shutdown()
				return a.connect(cmd.Context(), args[0])
			},
		},
	)

	return root
}

func (a *app) newSocket() (*udt.Socket, error) {
	family, mode := udt.IPv4, udt.Stream
	if a.flags.ipv6 {
		family = udt.IPv6
	}
	if a.flags.message {
		mode = udt.Message
	}

	opts, err := a.flags.socketOptions()
	if err != nil {
		return nil, err
	}

	sock, err := udt.NewSocket(a.eng, udt.WithFamily(family), udt.WithMode(mode), udt.WithLogger(a.log))
	if err != nil {
		return nil, err
	}

	if err := applyOptions(sock, opts); err != nil {
		_ = sock.Close()
		return nil, err
	}

	return sock, nil
}

// applyOptions sets opts in udt.Options order, so the MSS is set before the buffers it
// scales and the flow window before the receive buffer it bounds.
func applyOptions(sock *udt.Socket, opts map[udt.Option]any) error {
	for _, opt := range udt.Options() {
		val, ok := opts[opt]
		if !ok {
			continue
		}
		if err := sock.SetOption(opt, val); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) listen(ctx context.Context, addr string) error {
	ln, err := a.newSocket()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := ln.Bind(addr); err != nil {
		return err
	}
	if err := ln.Listen(1); err != nil {
		return err
	}

	local, _ := ln.LocalAddress()
	a.log.Info("listening", "addr", local)

	conn, err := ln.AcceptContext(ctx)
	if err != nil {
		return err
	}
	_ = ln.Close()

	peer, _ := conn.PeerAddress()
	a.log.Info("accepted", "peer", peer)

	return pipe(ctx, conn, nil, a.out)
}

func (a *app) connect(ctx context.Context, addr string) error {
	conn, err := a.newSocket()
	if err != nil {
		return err
	}

	if err := conn.ConnectContext(ctx, addr); err != nil {
		_ = conn.Close()
		return err
	}

	local, _ := conn.LocalAddress()
	a.log.Info("connected", "local", local, "peer", addr)

	return pipe(ctx, conn, a.in, nil)
}

// pipe copies in to conn and conn to out until both directions finish, then closes conn.
// Cancelling ctx closes conn and unblocks both pumps.
func pipe(ctx context.Context, conn *udt.Socket, in io.Reader, out io.Writer) error {
	var g errgroup.Group
	// The wrappers hide ReaderFrom and WriterTo so every Write and Read moves at most one
	// buffer, which keeps message mode writes below the largest message.
	if in != nil {
		g.Go(func() error {
			_, err := io.CopyBuffer(conn, struct{ io.Reader }{in}, make([]byte, copyChunk))
			return err
		})
	}
	if out != nil {
		g.Go(func() error {
			_, err := io.CopyBuffer(struct{ io.Writer }{out}, conn, make([]byte, 2*copyChunk))
			return err
		})
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err := g.Wait()

	if !stop() {
		// closed by cancellation
		return nil
	}

	closeErr := conn.Close()
	if err != nil {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, udt.ErrClosed) {
		return closeErr
	}

	return nil
}
