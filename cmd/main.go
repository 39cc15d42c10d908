package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "call-transcript-relay/internal/api/grpc"
	"call-transcript-relay/internal/app"
	"call-transcript-relay/internal/config"
	relayhttp "call-transcript-relay/internal/http"
	"call-transcript-relay/internal/observability"
	"call-transcript-relay/internal/observability/logging"
	"call-transcript-relay/internal/observability/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Call transcript relay exited with error")
	}
}

func run(cfg *config.Configuration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg)
	if err := application.Start(ctx); err != nil {
		return err
	}

	// Streams are long-lived; per-write deadlines are set by the transports.
	// Cancelling the base context ends every open stream on shutdown.
	streamsCtx, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()
	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           relayhttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamsCtx },
	}
	obsServer := observability.NewServer(":"+cfg.Service.MetricsPort, application.Ready)

	var grpcServer *grpcapi.Server
	var grpcListener net.Listener
	if cfg.Service.GRPCEnabled {
		lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
		if err != nil {
			return err
		}
		grpcListener = lis
		grpcServer = grpcapi.New(metrics.DefaultMetrics)
	}

	// The fanout outlives the servers so events emitted during shutdown
	// still reach the brokers.
	eventsCtx, stopEvents := context.WithCancel(context.Background())
	eventsDone := make(chan error, 1)
	go func() { eventsDone <- application.Events.Run(eventsCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("Call transcript relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(obsServer.ListenAndServe)
	if grpcServer != nil {
		g.Go(func() error { return grpcServer.Serve(grpcListener) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		application.Shutdown()
		if grpcServer != nil {
			grpcServer.Shutdown()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		closeStreams()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown timed out")
			_ = httpServer.Close()
		}
		return obsServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	stopEvents()
	if evErr := <-eventsDone; evErr != nil {
		log.Error().Err(evErr).Msg("Event fanout stopped with error")
	}

	if err != nil {
		return err
	}
	log.Info().Msg("Call transcript relay stopped")
	return nil
}
