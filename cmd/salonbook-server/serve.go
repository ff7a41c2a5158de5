package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"salonbook/backend/internal/auth"
	"salonbook/backend/internal/config"
	"salonbook/backend/internal/service/waitlist"
	grpcTransport "salonbook/backend/internal/transport/grpc"
)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC scheduling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg, log)
		},
	}
}

func runServer(cfg config.Config, log *slog.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("store", cfg.StoreDriver),
		slog.String("timezone", cfg.Timezone.String()),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcTransport.RequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
		grpcTransport.AuthInterceptor(auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer), log),
	))
	grpcTransport.Register(grpcServer, grpcTransport.NewServer(grpcTransport.Services{
		Availability: a.availability,
		Bookings:     a.bookings,
		Series:       a.series,
		Waitlist:     a.waitlist,
	}, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	// The dispatcher outlives the gRPC server so that notifications queued
	// by in-flight requests are drained after GracefulStop.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- a.dispatcher.Run(dispatchCtx) }()
	defer func() {
		stopDispatch()
		if err := <-dispatchDone; err != nil {
			log.Warn("notification dispatcher stopped with error", slog.Any("err", err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runSweeper(gctx, log, a.waitlist, cfg.WaitlistSweepInterval, cfg.WaitlistMatchTimeout)
		return nil
	})
	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
		return nil
	})

	return g.Wait()
}

// runSweeper expires stale waitlist entries and retries matching on a fixed
// interval until ctx ends.
func runSweeper(ctx context.Context, log *slog.Logger, m *waitlist.Matcher, interval, timeout time.Duration) {
	if interval <= 0 {
		log.Info("waitlist sweeper disabled")
		return
	}
	log = log.With(slog.String("component", "waitlist_sweeper"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sweepCtx, cancel := context.WithTimeout(ctx, timeout)
		report, err := m.Sweep(sweepCtx)
		cancel()
		if err != nil {
			log.Warn("waitlist sweep failed", slog.Any("err", err))
			continue
		}
		if report.Expired+report.Matched+report.Failed > 0 {
			log.Info("waitlist swept",
				slog.Int("expired", report.Expired),
				slog.Int("matched", report.Matched),
				slog.Int("unmatched", report.Unmatched),
				slog.Int("failed", report.Failed),
			)
		}
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}
