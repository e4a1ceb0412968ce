package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/service/invoice"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/queue"
)

type InvoiceWorker struct {
	*BaseWorker
	invoices invoice.InvoiceProcessor
}

func NewInvoiceWorker(cfg *Config, invoices invoice.InvoiceProcessor, log logger.Logger) (*InvoiceWorker, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	w := &InvoiceWorker{
		BaseWorker: newBaseWorker(cfg, log),
		invoices:   invoices,
	}

	// 注册任务处理器
	w.registerHandlers(w.mux)
	return w, nil
}

func (w *InvoiceWorker) registerHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskTypeInvoiceExtract, w.handleInvoiceExtract)
	mux.HandleFunc(queue.TaskTypeCleanup, w.handleCleanup)
}

func (w *InvoiceWorker) handleInvoiceExtract(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.Int("payloadSize", len(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w: %w", err, asynq.SkipRetry)
	}

	w.logger.Info("Processing invoice task",
		logger.String("taskId", task.ID),
		logger.String("sessionId", task.SessionID),
		logger.Int("files", len(task.Files)),
	)

	if task.ID == "" || task.SessionID == "" || len(task.Files) == 0 {
		w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}

	w.writeResult(t, map[string]any{"status": "running", "progress": 0})

	if err := w.invoices.HandleInvoice(ctx, &task); err != nil {
		w.writeResult(t, map[string]any{
			"status": "failed",
			"code":   string(apperr.KindOf(err)),
			"error":  err.Error(),
		})
		// 业务错误不重试
		if _, ok := apperr.As(err); ok {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.writeResult(t, map[string]any{"status": "completed", "progress": 100})
	return nil
}

func (w *InvoiceWorker) handleCleanup(ctx context.Context, t *asynq.Task) error {
	if err := w.invoices.CleanupTasks(ctx); err != nil {
		w.logger.Error("Cleanup failed", logger.Error(err))
		return err
	}
	return nil
}

func (w *InvoiceWorker) writeResult(t *asynq.Task, v map[string]any) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		w.logger.Error("Failed to write task result", logger.Error(err))
	}
}
