package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/linky-feed-ingester/internal/api"
	"github.com/septivank/linky-feed-ingester/internal/config"
	"github.com/septivank/linky-feed-ingester/internal/mq"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/septivank/linky-feed-ingester/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideAPIHandler creates the dashboard API handler
func ProvideAPIHandler(repo *repository.Repository, runner *service.IngestionRunner, logger *zap.Logger) *api.Handler {
	return api.NewHandler(repo, runner, logger)
}

// ProvideScheduler creates the recent-mode scheduler
func ProvideScheduler(runner *service.IngestionRunner, cfg *config.Config, logger *zap.Logger) *service.Scheduler {
	return service.NewScheduler(runner, cfg.Ingest.ScheduleInterval, logger)
}

func registerHTTPServer(lc fx.Lifecycle, handler *api.Handler, cfg *config.Config, logger *zap.Logger) {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServicePort),
		Handler: handler.HTTPHandler(cfg.HTTP.AllowedOrigins),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", server.Addr))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

func registerScheduler(lc fx.Lifecycle, scheduler *service.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			scheduler.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

func registerTriggerConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	runner *service.IngestionRunner,
	cfg *config.Config,
	logger *zap.Logger,
) error {
	if conn == nil {
		return nil
	}

	// cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.TriggerQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.TriggerExchange,
		RoutingKey:    cfg.RabbitMQ.TriggerRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler: func(ctx context.Context, msg mq.TriggerMessage) error {
			result, err := runner.Run(ctx, msg.Mode, service.TriggerInteractive)
			logger.Info("trigger handled",
				zap.String("request_id", msg.RequestID),
				zap.String("run_id", result.RunID),
				zap.String("state", string(result.State)),
			)
			return err
		},
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("trigger consumer stopped")
			return nil
		},
	})
	return nil
}
