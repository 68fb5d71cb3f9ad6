package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/shareloft/shareloft/api"
	"github.com/shareloft/shareloft/internal/cache"
	"github.com/shareloft/shareloft/internal/config"
	"github.com/shareloft/shareloft/internal/cron"
	"github.com/shareloft/shareloft/internal/dlq"
	"github.com/shareloft/shareloft/internal/logging"
	"github.com/shareloft/shareloft/internal/objectstore"
	"github.com/shareloft/shareloft/internal/pipeline"
	"github.com/shareloft/shareloft/internal/recordstore"
	"github.com/shareloft/shareloft/pkg/services"
)

func NewRun() *cobra.Command {
	var cfg config.Config
	loader := config.NewLoader()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start Shareloft Server",
		Run: func(cmd *cobra.Command, args []string) {
			runApplication(cmd.Context(), &cfg)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.Initialize(cmd); err != nil {
				return err
			}
			if err := loader.Load(&cfg); err != nil {
				return err
			}
			return cfg.Validate()
		},
	}
	config.AddCommonFlags(cmd.Flags(), &cfg)
	return cmd
}

func runApplication(ctx context.Context, conf *config.Config) {
	lvl, err := zapcore.ParseLevel(conf.Log.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	logging.SetConfig(&logging.Config{
		Level:    lvl,
		FilePath: conf.Log.File,
	})

	lg := logging.DefaultLogger().Sugar()
	defer lg.Sync()

	store, err := recordstore.Open(conf.Store.Path, lg.Desugar(),
		recordstore.WithSweepInterval(conf.Store.SweepInterval))
	if err != nil {
		lg.Fatalw("failed to open record store", "err", err)
	}
	defer store.Close()

	objects, err := objectstore.NewS3(ctx, objectstore.Config{
		Endpoint:  conf.S3.Endpoint,
		Region:    conf.S3.Region,
		Bucket:    conf.S3.Bucket,
		Insecure:  conf.S3.Insecure,
		PathStyle: conf.S3.PathStyle,
	})
	if err != nil {
		lg.Fatalw("failed to create object store client", "err", err)
	}

	cacher := cache.NewCache(ctx, &conf.Cache)

	var publisher dlq.Publisher
	if conf.Cache.RedisAddr != "" {
		publisher = dlq.NewRedis(redis.NewClient(&redis.Options{
			Addr:     conf.Cache.RedisAddr,
			Password: conf.Cache.RedisPass,
		}))
	} else {
		publisher = dlq.NewLogger(lg.Desugar())
	}

	stream := store.Stream("deletion-pipeline",
		recordstore.WithBatchSize(conf.Pipeline.BatchSize),
		recordstore.WithPollInterval(conf.Pipeline.PollInterval))
	deleter := pipeline.NewDeleter(stream, objects, publisher, lg.Desugar(), pipeline.Config{
		MaxRetries:   conf.Pipeline.MaxRetries,
		RetryBackoff: conf.Pipeline.RetryBackoff,
	})
	deleter.Start(ctx)

	if conf.Cron.Enable {
		jobs := cron.New(store, objects, conf, lg.Desugar())
		if err := jobs.Start(ctx); err != nil {
			lg.Fatalw("failed to start background jobs", "err", err)
		}
		defer jobs.Stop()
	}

	apiSrv := services.NewApiService(store, objects, cacher, conf, lg.Desugar())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Server.Port),
		Handler:           api.NewRouter(apiSrv, conf, lg.Desugar()),
		ReadTimeout:       conf.Server.ReadTimeout,
		WriteTimeout:      conf.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		lg.Infof("Server started at http://localhost:%d", conf.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Errorw("failed to start server", "err", err)
		}
	}()

	<-ctx.Done()

	lg.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("server shutdown failed", "err", err)
	}

	deleter.Wait()

	lg.Info("Server stopped")
}
