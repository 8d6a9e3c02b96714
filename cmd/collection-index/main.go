package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"

	"mediavault/cmd/collection-index/internal/biz"
	"mediavault/cmd/collection-index/internal/conf"
	"mediavault/cmd/collection-index/internal/data"
	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/cmd/collection-index/internal/events"
	"mediavault/cmd/collection-index/internal/server"
	"mediavault/pkg/database"
	"mediavault/pkg/health"
	"mediavault/pkg/logger"
	"mediavault/pkg/observability"
)

var configFile = flag.String("config", "", "配置文件路径")

func main() {
	flag.Parse()

	cfg, err := conf.Load(*configFile)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	klogger, syncLogs := logger.New(&cfg.Observability.Log)
	defer syncLogs()

	appLogger := log.With(klogger,
		"service", cfg.Observability.ServiceName,
		"version", cfg.Observability.ServiceVersion,
	)
	helper := log.NewHelper(appLogger)

	// rootCtx 取消后，消费者、刷新器与进行中的重建协作退出
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Observability.Tracing.Enabled {
		shutdownTracing, err := observability.InitTracing(rootCtx, &cfg.Observability.Tracing)
		if err != nil {
			helper.Warnf("tracing init failed, continuing without tracing: %v", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					helper.Warnf("tracing shutdown failed: %v", err)
				}
			}()
		}
	}

	db, err := database.NewDB(&database.Config{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		helper.Fatalf("failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	source := data.NewCollectionSource(db, appLogger)

	redisClient, closeRedis, err := data.NewRedisClient(&cfg.Redis, appLogger)
	if err != nil {
		helper.Fatalf("failed to connect to redis: %v", err)
	}
	defer closeRedis()

	store := data.NewRedisIndexStore(redisClient, data.RedisIndexOptions{
		ThumbnailTTL: cfg.Index.ThumbnailTTL,
	}, appLogger)

	// 对象存储不可用时降级：导航与分页照常，缩略图回源404
	var thumbSource domain.ThumbnailSource
	if cfg.Minio.Enabled {
		minioSource, err := data.NewMinioThumbnailSource(&data.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		}, appLogger)
		if err != nil {
			helper.Warnf("thumbnail source unavailable, serving cache only: %v", err)
		} else {
			thumbSource = data.NewResilientThumbnailSource(minioSource, cfg.Breaker, appLogger)
		}
	}

	dash := biz.NewDashboardCache(store, cfg.Index.DashboardWindow, appLogger)
	writer := biz.NewIndexWriter(store, dash, appLogger)
	reader := biz.NewIndexReader(store, appLogger)
	thumbs := biz.NewThumbnailCache(store, thumbSource, appLogger)
	verifier := biz.NewVerifier(source, store, writer, thumbs, appLogger)
	orch := biz.NewOrchestrator(source, store, writer, verifier, thumbs, dash, appLogger)

	checks := health.NewRegistry()
	checks.Register(health.NewDatabaseChecker("postgres", db))
	checks.Register(health.NewRedisChecker("redis", redisClient))

	httpServer := server.NewHTTPServer(&server.HTTPConfig{
		Addr:           cfg.Server.HTTPAddr,
		Mode:           cfg.Server.Mode,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, reader, thumbs, dash, orch, verifier, checks, appLogger)

	var consumer *events.Consumer
	if cfg.Kafka.Enabled {
		initialOffset := sarama.OffsetNewest
		if cfg.Kafka.InitialOffset == "oldest" {
			initialOffset = sarama.OffsetOldest
		}
		consumer, err = events.NewConsumer(&events.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			GroupID:       cfg.Kafka.GroupID,
			Topic:         cfg.Kafka.Topic,
			InitialOffset: initialOffset,
		}, source, writer, appLogger)
		if err != nil {
			helper.Fatalf("failed to create event consumer: %v", err)
		}
		consumer.Start(rootCtx)
	}

	if cfg.Index.DashboardRefreshInterval > 0 {
		refresher := biz.NewDashboardRefresher(dash, cfg.Index.DashboardRefreshInterval, appLogger)
		go refresher.Run(rootCtx)
	}

	// 启动重建补齐停机期间漏掉的变更
	if mode := cfg.Index.RebuildOnStart; mode != "" && mode != "off" {
		parsed, err := domain.ParseRebuildMode(mode)
		if err != nil {
			helper.Warnf("invalid rebuild_on_start %q, skipping startup rebuild", mode)
		} else {
			go func() {
				if _, err := orch.Rebuild(rootCtx, biz.RebuildOptions{
					Mode:           parsed,
					BatchSize:      cfg.Index.RebuildBatchSize,
					WarmThumbnails: cfg.Index.WarmThumbnails,
				}); err != nil {
					helper.Errorf("startup rebuild failed: %v", err)
				}
			}()
		}
	}

	go func() {
		if err := httpServer.Start(rootCtx); err != nil {
			helper.Fatalf("HTTP server failed: %v", err)
		}
	}()

	helper.Infof("collection index service started, listening on %s", cfg.Server.HTTPAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	helper.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		helper.Errorf("HTTP server shutdown failed: %v", err)
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			helper.Errorf("event consumer close failed: %v", err)
		}
	}

	helper.Info("server exited")
}
