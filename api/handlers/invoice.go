package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/api/middleware"
	"github.com/feichai0017/remi2ai/internal/service/invoice"
	"github.com/feichai0017/remi2ai/pkg/converters"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/progress"
)

// EventSource streams the progress of a queued task.
type EventSource interface {
	Subscribe(ctx context.Context, taskID string) (<-chan progress.Event, error)
}

type InvoiceHandler struct {
	service invoice.InvoiceProcessor
	events  EventSource
	logger  logger.Logger
}

func NewInvoiceHandler(service invoice.InvoiceProcessor, events EventSource, log logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		service: service,
		events:  events,
		logger:  log,
	}
}

// Process runs the staged files synchronously. With ?stream=1 the response
// is an event stream of stage and snapshot events ending in done or error.
func (h *InvoiceHandler) Process(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	if c.Query("stream") != "1" {
		result, err := h.service.Submit(c.Request.Context(), sessionID, nil)
		if err != nil {
			handleError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	type outcome struct {
		result *converters.ProcessedInvoice
		err    error
	}
	events := make(chan progress.Event)
	done := make(chan outcome, 1)
	go func() {
		result, err := h.service.Submit(c.Request.Context(), sessionID, events)
		done <- outcome{result: result, err: err}
	}()

	c.Stream(func(w io.Writer) bool {
		if ev, ok := <-events; ok {
			c.SSEvent(string(ev.Type), ev)
			return true
		}
		out := <-done
		if out.err != nil {
			h.logger.Warn("Streamed submission failed",
				logger.String("sessionId", sessionID),
				logger.Error(out.err),
			)
			c.SSEvent(string(progress.EventError), errorBody(out.err))
			return false
		}
		c.SSEvent(string(progress.EventDone), out.result)
		return false
	})
}

// Submit 提交异步处理任务
func (h *InvoiceHandler) Submit(c *gin.Context) {
	task, err := h.service.Enqueue(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// GetStatus 获取处理状态
func (h *InvoiceHandler) GetStatus(c *gin.Context) {
	task, err := h.service.GetStatus(c.Request.Context(), middleware.SessionID(c), c.Param("taskId"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Events streams a queued task's progress, starting with its latest event.
func (h *InvoiceHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("taskId")
	if _, err := h.service.GetStatus(ctx, middleware.SessionID(c), taskID); err != nil {
		handleError(c, h.logger, err)
		return
	}

	ch, err := h.events.Subscribe(ctx, taskID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev)
		return !ev.Final()
	})
}

// DownloadResult 下载处理结果
func (h *InvoiceHandler) DownloadResult(c *gin.Context) {
	taskID := c.Param("taskId")
	result, err := h.service.GetResult(c.Request.Context(), middleware.SessionID(c), taskID)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}

	filename := fmt.Sprintf("result_%s.json", taskID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.JSON(http.StatusOK, result)
}

// CancelTask 取消处理任务
func (h *InvoiceHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.service.CancelTask(c.Request.Context(), middleware.SessionID(c), taskID); err != nil {
		handleError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}
