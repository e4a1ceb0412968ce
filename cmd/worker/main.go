package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/internal/service/invoice"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/queue"
	"github.com/feichai0017/remi2ai/pkg/worker"
)

func main() {
	appCfg := config.GetAppConfig()
	redisCfg := config.GetRedisConfig()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithEncoding(appCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 创建发票服务
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	rt, err := invoice.GetService(initCtx, log)
	initCancel()
	if err != nil {
		log.Error("Failed to create invoice service", logger.Error(err))
		os.Exit(1)
	}
	defer rt.Close()

	// 创建 worker 配置
	workerCfg := &worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   appCfg.WorkerConc,
		Queues:        appCfg.WorkerQueues,
	}

	// 创建 worker
	invoiceWorker, err := worker.NewInvoiceWorker(workerCfg, rt.Service, log.Named("worker"))
	if err != nil {
		log.Error("Failed to create invoice worker", logger.Error(err))
		os.Exit(1)
	}

	// 定期清理过期任务
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}, nil)
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(queue.TaskTypeCleanup, nil), asynq.Queue("low")); err != nil {
		log.Error("Failed to register cleanup", logger.Error(err))
		os.Exit(1)
	}

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动 worker
	if err := invoiceWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		log.Error("Failed to start scheduler", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	scheduler.Shutdown()
	invoiceWorker.Stop()
	log.Info("Worker stopped")
}
