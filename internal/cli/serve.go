package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/reportgrid/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report layout HTTP API",
		Long: `Serve the report layout HTTP API and change stream.

Routes:
  GET    /api/clients
  GET    /api/clients/{client}/report-layout
  PUT    /api/clients/{client}/report-layout/title
  POST   /api/clients/{client}/report-layout/items
  PATCH  /api/clients/{client}/report-layout/items/{item}
  DELETE /api/clients/{client}/report-layout/items/{item}
  POST   /api/clients/{client}/report-layout/reorder
  GET    /api/clients/{client}/report-layout/stream   (websocket)

Changes are saved after the configured debounce. On SIGINT or SIGTERM the
server stops accepting requests and saves pending changes before exiting.

Exit codes:
  0 - Server stopped cleanly
  2 - Command error (address in use, store unreadable, etc.)

Examples:
  reportgrid serve --db ./reports.db
  reportgrid serve --config ./reportgrid.yaml --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}

	srv := server.New(s.engine, s.loader,
		server.WithLogger(s.logger),
		server.WithLoadTimeout(cfg.Persist.SaveTimeout),
	)
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		srv.Close()
		_ = s.close(context.Background())
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", addr), err)
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Streams hold their connections open; end them before Shutdown
		// waits for handlers.
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	serveErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := s.close(flushCtx)
	s.logger.Info("server stopped", zap.Error(errors.Join(serveErr, closeErr)))

	if serveErr != nil {
		return WrapExitError(ExitCommandError, "server failed", serveErr)
	}
	return closeErr
}
