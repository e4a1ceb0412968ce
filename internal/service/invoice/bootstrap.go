package invoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/internal/agent"
	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/session"
	"github.com/feichai0017/remi2ai/internal/sheets"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/internal/utils/validator"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/progress"
	"github.com/feichai0017/remi2ai/pkg/queue"
	"github.com/feichai0017/remi2ai/pkg/storage"
)

// Runtime holds the long-lived components shared by the server and the worker.
type Runtime struct {
	Service  *InvoiceService
	Sessions *session.Manager
	Staging  *staging.Manager
	Progress *progress.Hub
	Queue    *queue.AsynqQueue
	Redis    *redis.Client

	logger   logger.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// GetService wires the invoice service from environment configuration.
func GetService(ctx context.Context, log logger.Logger) (*Runtime, error) {
	appCfg := config.GetAppConfig()
	redisCfg := config.GetRedisConfig()
	googleCfg := config.GetGoogleConfig()

	// 初始化 Redis
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化存储
	store, err := storage.NewStorage(ctx, storage.StorageType(appCfg.StorageType), log.Named("storage"))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// 初始化队列
	q, err := queue.NewAsynqQueue(&queue.QueueConfig{
		RedisAddr:      redisCfg.Addr,
		RedisPassword:  redisCfg.Password,
		RedisDB:        redisCfg.DB,
		KeyPrefix:      redisCfg.KeyPrefix,
		ProcessTimeout: appCfg.ProcessTimeout,
		StatusTTL:      appCfg.RetentionPeriod,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	tmpl, err := sheets.LoadTemplate(googleCfg.TemplateFile)
	if err != nil {
		_ = client.Close()
		_ = q.Close()
		return nil, fmt.Errorf("failed to load sheet template: %w", err)
	}

	hub := progress.NewHub(client, redisCfg.KeyPrefix, appCfg.RetentionPeriod)
	sessions := session.NewManager(session.NewRedisTokenStore(client, redisCfg.KeyPrefix), log.Named("session"))
	stagingMgr := staging.NewManager(staging.Options{
		MaxFiles: appCfg.MaxFiles,
		Validator: validator.NewImageValidator(&validator.ValidatorConfig{
			MaxFileSize:  appCfg.MaxFileSize,
			AllowedTypes: validator.DefaultConfig().AllowedTypes,
		}),
		Previewer: staging.NewThumbnailPreviewer(appCfg.PreviewSize),
		Logger:    log.Named("staging"),
	})

	factory := agent.NewFactory(gemini.NewGenaiStreamer(), config.GetGeminiConfig(), appCfg.Preprocess, log.Named("agent"))
	sheetsClient := sheets.NewClient(sheets.Options{
		SheetsEndpoint: googleCfg.SheetsEndpoint,
		DriveEndpoint:  googleCfg.DriveEndpoint,
	}, log.Named("sheets"))

	svc := NewService(Deps{
		Requests:    factory,
		Generator:   factory.Generator(),
		Sheets:      sheetsClient,
		Credentials: sessions,
		Staging:     stagingMgr,
		Queue:       q,
		Storage:     store,
		Progress:    hub,
	}, &ServiceConfig{
		SheetsRange:     googleCfg.SheetsRange,
		TemplateID:      googleCfg.TemplateID,
		TitlePrefix:     googleCfg.SheetTitlePrefix,
		Batch:           tmpl.Requests(),
		QueuePriority:   2,
		RetentionPeriod: appCfg.RetentionPeriod,
	}, log.Named("invoice"))

	rt := &Runtime{
		Service:  svc,
		Sessions: sessions,
		Staging:  stagingMgr,
		Progress: hub,
		Queue:    q,
		Redis:    client,
		logger:   log.Named("janitor"),
		stop:     make(chan struct{}),
	}
	go rt.sweepIdle(appCfg.SessionIdleTTL)
	return rt, nil
}

// sweepIdle evicts in-memory session and staging state of idle browsers.
func (r *Runtime) sweepIdle(idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(max(idle/4, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			sessions := r.Sessions.Sweep(idle)
			lists := r.Staging.Sweep(idle)
			if sessions > 0 || lists > 0 {
				r.logger.Info("Evicted idle sessions",
					logger.Int("sessions", sessions),
					logger.Int("stagingLists", lists),
				)
			}
		}
	}
}

func (r *Runtime) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.Sessions.Close()
	return errors.Join(r.Queue.Close(), r.Redis.Close())
}
