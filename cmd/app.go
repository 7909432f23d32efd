package cmd

import (
	"context"
	"fmt"
	"os"

	"waveloft/cache"
	"waveloft/core/artwork"
	"waveloft/core/audio"
	"waveloft/core/enrich"
	"waveloft/core/events"
	"waveloft/core/ingest"
	"waveloft/core/review"
	"waveloft/core/uploads"
	"waveloft/db"
	"waveloft/logger"
	"waveloft/repository"
	"waveloft/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app 持有各命令共用的连接与服务
type app struct {
	store   *storage.MinioStore
	gdb     *gorm.DB
	rdb     *redis.Client
	tracks  repository.TrackRepository
	presign *cache.PresignCache
	bus     *cache.EventBus
}

// openApp 连接 MySQL、Redis 和 MinIO
func openApp(ctx context.Context) (*app, error) {
	store, err := storage.NewMinioStore(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}

	rdb, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		_ = db.CloseGormDB()
		return nil, err
	}
	logger.Info("connected to Redis", logger.String("addr", cfg.RedisAddr()))

	return &app{
		store:   store,
		gdb:     gdb,
		rdb:     rdb,
		tracks:  repository.NewGormTrackRepository(gdb, cfg.Keys.PendingAudio),
		presign: cache.NewPresignCache(rdb, store),
		bus:     cache.NewEventBus(rdb, cfg.EventsChannel),
	}, nil
}

func (a *app) Close() {
	if err := db.CloseRedis(); err != nil {
		logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
	}
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
	}
}

func (a *app) orchestrator() *ingest.Orchestrator {
	art := artwork.NewPublisher(a.store, cfg.Keys.AlbumArtPrefix, cfg.Keys.DefaultAlbumArt)
	return ingest.NewOrchestrator(a.store, art, a.tracks, cfg, ingest.WithEvents(a.bus))
}

func (a *app) scheduler() *review.Scheduler {
	return review.NewScheduler(a.tracks, a.presign, cfg, review.WithEvents(a.bus))
}

func (a *app) uploads() *uploads.Service {
	return uploads.NewService(a.store, cfg)
}

// dispatcher routes lossless uploads to the transcoder and metadata
// documents to the enricher.
func (a *app) dispatcher(withClaims bool) *events.Router {
	opts := []audio.TranscoderOption{audio.WithEvents(a.bus)}
	if withClaims {
		opts = append(opts, audio.WithClaimer(cache.NewClaimStore(a.rdb, workerName())))
	}
	transcoder := audio.NewTranscoder(a.store, a.tracks, audio.NewFFmpegProcessor(cfg.FFmpegPath), cfg, opts...)
	enricher := enrich.NewEnricher(a.store, a.tracks, cfg, enrich.WithEvents(a.bus))

	return events.NewRouter(
		events.Route{Name: "transcode", Match: transcoder.Matches, Handler: transcoder},
		events.Route{Name: "enrich", Match: enricher.Matches, Handler: enricher},
	)
}

func workerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
