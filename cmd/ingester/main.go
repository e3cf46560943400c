package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata" // zone database for minimal images

	"github.com/joho/godotenv"
	"github.com/septivank/linky-feed-ingester/internal/backup"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"github.com/septivank/linky-feed-ingester/internal/feed"
	"github.com/septivank/linky-feed-ingester/internal/repository"
	"github.com/septivank/linky-feed-ingester/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

func main() {
	loadEnv()
	os.Exit(run(os.Args[1:]))
}

// loadEnv loads the first .env found in the working directory or its parents
func loadEnv() {
	envPaths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Fprintf(os.Stderr, "Loaded environment from: %s\n", absPath)
			return
		}
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  ingester update         ingest points from the last few minutes
  ingester historical     ingest the full feed history
  ingester migrate        apply database migrations
  ingester backup         back up stored samples to the backup bucket
  ingester backups        list backups, newest first
  ingester restore <key> [--replace]
                          restore a backup; --replace drops samples missing from it
  ingester serve          run the HTTP API, scheduler and trigger consumer`)
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	switch args[0] {
	case "update":
		return runIngestion(feed.ModeRecent)
	case "historical":
		return runIngestion(feed.ModeFullHistory)
	case "migrate":
		return runMigrate()
	case "backup":
		return runBackup()
	case "backups":
		return runListBackups()
	case "restore":
		if len(args) < 2 || len(args) > 3 {
			usage()
			return 1
		}
		replace := len(args) == 3 && args[2] == "--replace"
		if len(args) == 3 && !replace {
			usage()
			return 1
		}
		return runRestore(args[1], replace)
	case "serve":
		return runServe()
	}

	usage()
	return 1
}

func providers() fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			fxLogger := &fxevent.ZapLogger{Logger: logger}
			fxLogger.UseLogLevel(zap.DebugLevel)
			return fxLogger
		}),
		fx.Provide(
			loadConfig,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideFeedClient,
			ProvideMQConnection,
			ProvideNotifier,
			ProvideStoreOpener,
			ProvideRunner,
			ProvideBackupStore,
		),
	)
}

// oneShot starts an app populating targets, calls fn, then stops the app
func oneShot(fn func(ctx context.Context, logger *zap.Logger) error, targets ...any) int {
	var logger *zap.Logger
	app := fx.New(providers(), fx.Populate(append(targets, &logger)...))
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return 1
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		logger.Error("failed to start application", zap.Error(err))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fn(ctx, logger)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if stopErr := app.Stop(stopCtx); stopErr != nil {
		logger.Warn("error stopping application", zap.Error(stopErr))
	}
	_ = logger.Sync()

	if err != nil {
		return 1
	}
	return 0
}

func runIngestion(mode feed.Mode) int {
	var runner *service.IngestionRunner
	return oneShot(func(ctx context.Context, logger *zap.Logger) error {
		// the runner logs the failure itself
		_, err := runner.Run(ctx, mode, service.TriggerScheduled)
		return err
	}, &runner)
}

func runMigrate() int {
	var pool *db.Pool
	return oneShot(func(ctx context.Context, logger *zap.Logger) error {
		if err := db.Migrate(ctx, logger, pool); err != nil {
			logger.Error("ERROR: migration failed", zap.Error(err))
			return err
		}
		return nil
	}, &pool)
}

func runBackup() int {
	var (
		store *backup.Store
		repo  *repository.Repository
	)
	return oneShot(func(ctx context.Context, logger *zap.Logger) error {
		key, count, err := store.Backup(ctx, repo)
		if err != nil {
			logger.Error("ERROR: backup failed", zap.Error(err))
			return err
		}
		fmt.Printf("%s\t%d\n", key, count)
		return nil
	}, &store, &repo)
}

func runListBackups() int {
	var store *backup.Store
	return oneShot(func(ctx context.Context, logger *zap.Logger) error {
		backups, err := store.List(ctx)
		if err != nil {
			logger.Error("ERROR: listing backups failed", zap.Error(err))
			return err
		}
		for _, b := range backups {
			fmt.Printf("%s\t%d\t%s\n", b.Key, b.Size, b.ModTime.UTC().Format(time.RFC3339))
		}
		return nil
	}, &store)
}

func runRestore(key string, replace bool) int {
	var (
		store *backup.Store
		repo  *repository.Repository
	)
	return oneShot(func(ctx context.Context, logger *zap.Logger) error {
		var (
			restored int
			err      error
		)
		if replace {
			restored, err = store.Replace(ctx, key, repo)
		} else {
			restored, err = store.Restore(ctx, key, repo)
		}
		if err != nil {
			logger.Error("ERROR: restore failed", zap.Error(err), zap.String("key", key), zap.Int("restored", restored))
			return err
		}
		return nil
	}, &store, &repo)
}

func runServe() int {
	app := fx.New(
		providers(),
		fx.Provide(ProvideAPIHandler, ProvideScheduler),
		fx.Invoke(registerHTTPServer, registerScheduler, registerTriggerConsumer),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			fmt.Fprintln(os.Stderr, "APPLICATION START TIMEOUT: a dependency (database or RabbitMQ) is not reachable")
		}
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		return 1
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping app:", err)
		return 1
	}
	return 0
}
