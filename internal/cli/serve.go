package cli

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/equilibrium/internal/rpc"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the subject registry over gRPC",
		Long: `Serve the registry over gRPC until interrupted. The listen address comes
from --listen, EQUILIBRIUM_LISTEN or the config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	addr := sess.cfg.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	gs := rpc.NewGRPCServer(rpc.NewServer(sess.reg, sess.logger))
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()
	sess.logger.Info("serving", "addr", lis.Addr().String(), "service", rpc.ServiceName, "db", sess.cfg.DB)

	select {
	case <-ctx.Done():
		sess.logger.Info("shutting down")
		gs.GracefulStop()
		return nil
	case err := <-errc:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return WrapExitError(ExitCommandError, "server stopped", err)
		}
		return nil
	}
}
