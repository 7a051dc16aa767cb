package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/claimtype/internal/api"
	"github.com/banshee-data/claimtype/internal/config"
	"github.com/banshee-data/claimtype/internal/grpcapi"
	"github.com/banshee-data/claimtype/internal/render"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen, grpcListen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web form, the JSON API and optionally gRPC",
		Long: "serve loads the model once and serves predictions until interrupted. When the\n" +
			"model cannot be loaded every surface reports the load error instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overlay := config.Empty()
			setString(&overlay.Listen, listen)
			setString(&overlay.GRPCListen, grpcListen)
			cfg, err := g.resolve(overlay)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default "+config.DefaultListen+")")
	cmd.Flags().StringVar(&grpcListen, "grpc-listen", "", "gRPC listen address; empty disables gRPC")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.Close(closeCtx)
	}()

	opts := []api.Option{api.WithChartOptions(render.ChartOptions{AssetsHost: cfg.GetChartAssetsHost()})}
	if rt.history != nil {
		opts = append(opts, api.WithHistory(rt.db, rt.history, cfg.GetHistoryLimit()))
	}
	srv := api.NewServer(rt.pred, rt.loadErr, opts...)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if addr := cfg.GetGRPCListen(); addr != "" {
		gs := grpcapi.NewServer(rt.pred, rt.loadErr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gs.ListenAndServe(ctx, addr); err != nil {
				errCh <- err
			}
			log.Printf("gRPC server routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err, ok := <-serveErr:
			if ok {
				errCh <- err
			}
			return
		case <-ctx.Done():
		}
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	// A listener failure stops the other server too.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	var runErr error
	select {
	case runErr = <-errCh:
		log.Printf("server failed: %v", runErr)
		cancel()
		<-done
	case <-done:
		select {
		case runErr = <-errCh:
		default:
		}
	}
	log.Printf("Graceful shutdown complete")
	return runErr
}
