package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skin-sync/internal/middleware/logger"
	"skin-sync/internal/skin_sync/api"
	"skin-sync/internal/skin_sync/auth"
	"skin-sync/internal/skin_sync/browser"
	"skin-sync/internal/skin_sync/client"
	"skin-sync/internal/skin_sync/config"
	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/discovery"
	"skin-sync/internal/skin_sync/helper"
	"skin-sync/internal/skin_sync/processor"
	"skin-sync/internal/skin_sync/repository"
	"skin-sync/internal/skin_sync/scheduler"
	"skin-sync/internal/skin_sync/scraper"
	"skin-sync/pkg/metrics"
)

func main() {
	path := flag.String("config", envOr("SKIN_CONFIG", "config/config.yaml"), "path to YAML config")
	flag.Parse()

	_, statErr := os.Stat(*path)
	cfg, err := config.Load(*path, statErr != nil)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if statErr != nil {
		log.Warn("Config file not found, using defaults and environment", zap.String("path", *path))
	}
	log.Info("Starting skin sync service...", zap.String("version", api.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zones := daterange.LoadZones(cfg.Time.Source, cfg.Time.Display)

	// 1) 存储
	var (
		records repository.RecordStore
		states  repository.SyncStateStore
	)
	switch cfg.Storage.Driver {
	case "memory":
		records = repository.NewMemoryRecords()
		states = repository.NewMemorySyncStates()
		log.Warn("Using in-memory storage, data is lost on exit")
	default:
		stores := helper.MustMongo(ctx, cfg.Mongo)
		defer func() { _ = stores.Close(context.Background()) }()
		records = repository.NewMongoRecords(stores.Records)
		states = repository.NewMongoSyncStates(stores.SyncStates)
		log.Info("MongoDB connected", zap.String("db", stores.DB.Name()))
	}

	// 2) 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// 3) 抓取
	transport := client.NewResty(log, cfg.Fetch.RequestTimeout)
	runner := &scraper.Runner{
		Log: log,
		Open: func(ctx context.Context) (scraper.Browser, error) {
			s, err := browser.Open(ctx, cfg.Browser, log)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Transport:   transport,
		Exchange:    auth.NewTokenExchange(log, transport.HTTP(), ""),
		Cache:       tokenCache(ctx, cfg.Redis, log),
		Sink:        processor.NewSink(log, records, m),
		Keys:        discovery.DefaultKeys,
		Opts:        cfg.Fetch.Options(),
		Target:      cfg.Target,
		Metrics:     m,
		ChunkRanges: cfg.Sync.ChunkRanges,
	}

	// 4) 同步队列 + 定时增量
	coord := scheduler.NewCoordinator(log, states, runner, m)
	if cfg.Sync.PollInterval > 0 {
		coord.PollInterval = cfg.Sync.PollInterval
	}
	go coord.Run(ctx)

	if cfg.Sync.CronEnabled {
		trigger := scheduler.NewCronTrigger(ctx, log, coord, zones.Source,
			func(ctx context.Context) (string, error) { return repository.LatestSourceTime(ctx, records) },
			zones.Now,
		)
		if _, err := trigger.Add(cfg.Sync.Cron); err != nil {
			log.Fatal("Invalid cron spec", zap.String("cron", cfg.Sync.Cron), zap.Error(err))
		}
		trigger.Start()
		defer trigger.Stop()
	}

	// 5) HTTP API
	srv := &api.Server{
		Log:         log,
		Records:     records,
		States:      states,
		Coord:       coord,
		Scraper:     runner,
		Zones:       zones,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ChunkRanges: cfg.Sync.ChunkRanges,
		BaseCtx:     ctx,
	}
	r := srv.Router()
	_ = r.SetTrustedProxies(nil)

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Info("Skin sync service is running", zap.String("address", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", zap.Error(err))
	}
}

// tokenCache 配了 redis 就跨进程共享 token，连不上退回内存
func tokenCache(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) auth.TokenCache {
	if cfg.Addr == "" {
		return auth.NewMemoryTokenCache()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, token cached in memory", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rdb.Close()
		return auth.NewMemoryTokenCache()
	}
	log.Info("Redis token cache enabled", zap.String("addr", cfg.Addr))
	return auth.NewRedisTokenCache(rdb, cfg.TokenKey)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
