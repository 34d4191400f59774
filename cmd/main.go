package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wikistream/pkg/api"
	"wikistream/pkg/batch"
	"wikistream/pkg/config"
	"wikistream/pkg/consumer"
	"wikistream/pkg/ingest"
	"wikistream/pkg/logging"
	"wikistream/pkg/normalizer"
	"wikistream/pkg/runner"
	"wikistream/pkg/stats"
)

func main() {
	envFile := flag.String("env", ".env", "override path to environment variables file")
	timeout := flag.Int("timeout", 0, "run time budget in seconds (defaults to RUN_TIMEOUT, then 600)")
	flag.Parse()

	// Configuration errors end the process before any network activity
	cfg, err := config.Load(*envFile)
	if err != nil {
		exitErr(fmt.Sprintf("configuration error: %v", err))
	}
	if *timeout > 0 {
		cfg.RunTimeoutSeconds = *timeout
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		exitErr(fmt.Sprintf("configuration error: %v", err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("startup failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streamConsumer, err := consumer.NewWikimediaConsumer(cfg.StreamURL,
		consumer.WithUserAgent(cfg.UserAgent),
		consumer.WithConnectTimeout(cfg.ConnectTimeout()),
		consumer.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("initializing consumer: %w", err)
	}

	recorder := stats.NewInMemory()
	pipeline := runner.New(runner.Params{
		Source: streamConsumer,
		Sender: ingest.Client{
			Endpoint: cfg.IngestURL,
			Token:    cfg.Token,
			Timeout:  cfg.SendTimeout(),
		},
		Normalizer:  normalizer.New(logger),
		Accumulator: batch.NewAccumulator(cfg.BatchSize),
		Stats:       recorder,
		Logger:      logger,
		Timeout:     cfg.RunTimeout(),
		SendTimeout: cfg.SendTimeout(),
	})

	logger.Info("starting run",
		zap.String("stream", cfg.StreamURL),
		zap.Duration("timeout", cfg.RunTimeout()),
		zap.Int("batch_size", cfg.BatchSize),
	)

	var server *http.Server
	if cfg.APIEnabled() {
		service := api.NewService(recorder, func() string { return pipeline.State().String() }, cfg.API.TokenHash, logger)
		server = api.NewServer(cfg.API.Port, api.NewRouter(service))
		if cfg.API.TokenHash == "" {
			logger.Warn("API_TOKEN_HASH not set, /stats is unauthenticated")
		}
	}

	summary := execute(ctx, pipeline, server, logger)

	logger.Info("run complete",
		zap.String("reason", string(summary.StopReason)),
		zap.NamedError("stream_error", summary.Err),
		zap.Int("messages", summary.Messages),
		zap.Int("records", summary.Records),
		zap.Int("batches", summary.Batches),
		zap.Int("failed_batches", summary.FailedBatches),
		zap.Int("records_sent", summary.RecordsSent),
		zap.Int("records_lost", summary.RecordsLost),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return nil
}

// execute runs the pipeline to completion. The status server, when set, lives
// as long as the run; if it cannot serve, the run carries on without it.
func execute(ctx context.Context, pipeline *runner.Runner, server *http.Server, logger *zap.Logger) runner.Summary {
	var g errgroup.Group
	runDone := make(chan struct{})
	var summary runner.Summary

	g.Go(func() error {
		defer close(runDone)
		summary = pipeline.Run(ctx)
		return nil
	})

	if server != nil {
		g.Go(func() error {
			logger.Info("status API starting", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API failed", zap.Error(err))
			}
			return nil
		})
		g.Go(func() error {
			<-runDone
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("status API shutdown: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Warn("stopping status API", zap.Error(err))
	}
	return summary
}

func exitErr(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}
