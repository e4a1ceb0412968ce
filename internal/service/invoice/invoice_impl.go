package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/sheets/v4"

	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/pkg/converters"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/progress"
	"github.com/feichai0017/remi2ai/pkg/queue"
	"github.com/feichai0017/remi2ai/pkg/storage"
)

// Pipeline stages reported in progress events.
const (
	StageGenerating   = "generating"
	StageProjecting   = "projecting"
	StageProvisioning = "provisioning"
	StageWriting      = "writing"
)

const sheetTitleLayout = "02/Jan 15:04"

type ServiceConfig struct {
	SheetsRange     string
	TemplateID      string
	TitlePrefix     string
	Batch           []*sheets.Request
	QueuePriority   int
	RetentionPeriod time.Duration
	Location        *time.Location
}

type Deps struct {
	Requests    RequestBuilder
	Generator   Generator
	Sheets      SheetWriter
	Credentials CredentialSource
	Staging     *staging.Manager
	Queue       queue.Queue
	Storage     storage.Storage
	Progress    progress.Publisher
}

type InvoiceService struct {
	Deps
	config *ServiceConfig
	logger logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

func NewService(deps Deps, cfg *ServiceConfig, log logger.Logger) *InvoiceService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.SheetsRange == "" {
		cfg.SheetsRange = "Sheet1!B2"
	}
	if cfg.TitlePrefix == "" {
		cfg.TitlePrefix = "remi2AI"
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &InvoiceService{
		Deps:     deps,
		config:   cfg,
		logger:   log,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// Run executes one submission: generate, project, create the sheet, write rows.
// Stage and snapshot events go to events, which is closed on return.
func (s *InvoiceService) Run(ctx context.Context, sessionID string, files []models.FileSource, events chan<- progress.Event) (*converters.ProcessedInvoice, error) {
	if events != nil {
		defer close(events)
	}
	emit := func(ev progress.Event) {
		if events == nil {
			return
		}
		ev.At = s.now()
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	log := logger.FromContext(ctx, s.logger)

	token, err := s.Credentials.Credential(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	emit(progress.Event{Type: progress.EventStage, Stage: StageGenerating})
	text, last, err := s.generate(ctx, files, emit)
	if err != nil {
		return nil, err
	}

	emit(progress.Event{Type: progress.EventStage, Stage: StageProjecting})
	schema, err := s.Requests.Schema()
	if err != nil {
		return nil, err
	}
	if missing := converters.MissingProperties(schema); len(missing) > 0 {
		log.Warn("Schema ordering names properties the item schema does not declare",
			logger.Strings("properties", missing),
		)
	}
	conv, err := converters.NewJSONConverter(schema)
	if err != nil {
		return nil, err
	}
	table, err := conv.Convert(text)
	if err != nil {
		log.Error("Failed to project model output", logger.Error(err))
		return nil, err
	}
	if len(table.Rows) == 0 {
		return nil, apperr.New(apperr.KindNoDataToWrite, "title", table.Title)
	}

	emit(progress.Event{Type: progress.EventStage, Stage: StageProvisioning})
	title := s.sheetTitle(table.Title)
	var target *models.SpreadsheetTarget
	if s.config.TemplateID != "" {
		target, err = s.Sheets.CopyTemplate(ctx, token, s.config.TemplateID, title)
	} else {
		target, err = s.Sheets.Provision(ctx, token, title, s.config.Batch)
	}
	if err != nil {
		return nil, err
	}
	target.Range = s.config.SheetsRange

	emit(progress.Event{Type: progress.EventStage, Stage: StageWriting})
	if _, err := s.Sheets.Write(ctx, token, target.ID, table.Rows, target.Range); err != nil {
		// the sheet exists; hand its location to the user
		if e, ok := apperr.As(err); ok {
			e.Params["spreadsheetId"] = target.ID
			e.Params["spreadsheetUrl"] = target.URL
			return nil, e
		}
		return nil, apperr.Wrap(apperr.KindWriteFailed, err,
			"spreadsheetId", target.ID,
			"spreadsheetUrl", target.URL,
		)
	}

	log.Info("Invoice written",
		logger.String("spreadsheetId", target.ID),
		logger.Int("rows", len(table.Rows)),
	)

	return &converters.ProcessedInvoice{
		Title:          table.Title,
		Columns:        conv.Columns(),
		Rows:           table.Rows,
		JSON:           text,
		Thoughts:       last.Thought(),
		SpreadsheetID:  target.ID,
		SpreadsheetURL: target.URL,
		ProcessedAt:    s.now(),
	}, nil
}

// generate relays snapshots as events and returns the final text with the last snapshot.
func (s *InvoiceService) generate(ctx context.Context, files []models.FileSource, emit func(progress.Event)) (string, gemini.Snapshot, error) {
	updates := make(chan gemini.Snapshot)
	done := make(chan gemini.Snapshot)

	go func() {
		var last gemini.Snapshot
		for snap := range updates {
			last = snap
			emit(progress.Event{
				Type:     progress.EventSnapshot,
				Thoughts: snap.Thoughts,
				Outputs:  snap.Outputs,
			})
		}
		done <- last
	}()

	text, err := s.Generator.Generate(ctx, s.Requests.Request(files), updates)
	last := <-done
	return text, last, err
}

func (s *InvoiceService) sheetTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = s.config.TitlePrefix
	}
	return title + " " + s.now().In(s.config.Location).Format(sheetTitleLayout)
}

func (s *InvoiceService) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[sessionID] {
		return false
	}
	s.inflight[sessionID] = true
	return true
}

func (s *InvoiceService) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sessionID)
}

// Submit runs the staged files of a session synchronously and clears staging on success.
func (s *InvoiceService) Submit(ctx context.Context, sessionID string, events chan<- progress.Event) (*converters.ProcessedInvoice, error) {
	if !s.acquire(sessionID) {
		if events != nil {
			close(events)
		}
		return nil, apperr.New(apperr.KindSubmissionInProgress)
	}
	defer s.release(sessionID)

	list := s.Staging.Get(sessionID)
	files := list.Files()
	ctx = logger.WithSessionID(ctx, sessionID)

	s.logger.Info("Starting submission",
		logger.String("sessionId", sessionID),
		logger.Int("files", len(files)),
	)

	result, err := s.Run(ctx, sessionID, staging.Sources(files), events)
	if err != nil {
		s.logger.Warn("Submission failed",
			logger.String("sessionId", sessionID),
			logger.String("kind", string(apperr.KindOf(err))),
			logger.Error(err),
		)
		return nil, err
	}

	list.Clear()
	s.Staging.Drop(sessionID)
	return result, nil
}

// Enqueue copies the staged files to object storage and queues them for the worker.
func (s *InvoiceService) Enqueue(ctx context.Context, sessionID string) (*models.ProcessingTask, error) {
	if s.Queue == nil || s.Storage == nil {
		return nil, apperr.New(apperr.KindClientNotReady, "message", "background processing is not configured")
	}
	if _, err := s.Credentials.Credential(ctx, sessionID); err != nil {
		return nil, err
	}

	list := s.Staging.Get(sessionID)
	files := list.Files()
	if len(files) == 0 {
		return nil, apperr.New(apperr.KindNoFiles)
	}

	taskID := uuid.New().String()
	now := s.now()
	refs := make([]queue.FileRef, 0, len(files))
	for i, f := range files {
		key := fmt.Sprintf("%s%s/%d-%s", storage.TaskFilesPrefix, taskID, i, f.Name)
		if _, err := s.Storage.Store(ctx, bytes.NewReader(f.Content), key, int64(len(f.Content)), f.MIMEType); err != nil {
			s.removeFiles(ctx, refs)
			return nil, apperr.Wrap(apperr.KindStorageFailed, err, "fileName", f.Name)
		}
		refs = append(refs, queue.FileRef{Key: key, Name: f.Name, MIMEType: f.MIMEType, Size: f.Size})
	}

	task := &models.ProcessingTask{
		ID:        taskID,
		SessionID: sessionID,
		Status:    models.StatusPending,
		Type:      queue.TaskTypeInvoiceExtract,
		Priority:  s.config.QueuePriority,
		Metadata: map[string]string{
			"files": fmt.Sprintf("%d", len(files)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.Queue.Enqueue(ctx, &queue.Task{
		ID:        taskID,
		Type:      task.Type,
		Priority:  task.Priority,
		SessionID: sessionID,
		Files:     refs,
		Metadata:  task.Metadata,
		CreatedAt: now,
	}); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		s.removeFiles(ctx, refs)
		return nil, apperr.Wrap(apperr.KindStorageFailed, err)
	}

	list.Clear()
	s.Staging.Drop(sessionID)
	s.logger.Info("Invoice task created",
		logger.String("taskId", taskID),
		logger.String("sessionId", sessionID),
		logger.Int("files", len(refs)),
	)
	return task, nil
}

// HandleInvoice 处理队列中的发票任务
func (s *InvoiceService) HandleInvoice(ctx context.Context, task *queue.Task) error {
	if task == nil || task.ID == "" || task.SessionID == "" {
		return fmt.Errorf("invalid task: missing required data")
	}
	ctx = logger.WithTaskID(logger.WithSessionID(ctx, task.SessionID), task.ID)
	log := logger.FromContext(ctx, s.logger)
	defer s.removeFiles(context.WithoutCancel(ctx), task.Files)

	if current, err := s.Queue.GetTaskStatus(ctx, task.ID); err == nil && current.Status == string(models.StatusCancelled) {
		log.Info("Skipping cancelled invoice task")
		return nil
	}

	log.Info("Processing invoice task", logger.Int("files", len(task.Files)))
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    string(models.StatusRunning),
		Progress:  0.1,
		StartedAt: task.CreatedAt,
	})

	events := make(chan progress.Event)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for ev := range events {
			ev.TaskID = task.ID
			s.publish(ctx, ev)
		}
	}()

	result, err := s.Run(ctx, task.SessionID, s.storedSources(task.Files), events)
	<-relayed

	if err != nil {
		s.fail(ctx, task, err)
		return err
	}

	result.TaskID = task.ID
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if _, err := s.Storage.Store(ctx, bytes.NewReader(data), resultKey(task.ID), int64(len(data)), "application/json"); err != nil {
		wrapped := apperr.Wrap(apperr.KindStorageFailed, err, "spreadsheetUrl", result.SpreadsheetURL)
		s.fail(ctx, task, wrapped)
		return wrapped
	}

	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:         task.ID,
		SessionID:      task.SessionID,
		Status:         string(models.StatusCompleted),
		Progress:       1.0,
		SpreadsheetURL: result.SpreadsheetURL,
		StartedAt:      task.CreatedAt,
		FinishedAt:     s.now(),
	})
	s.publish(ctx, progress.Event{Type: progress.EventDone, TaskID: task.ID, Result: data})

	log.Info("Invoice task completed",
		logger.String("spreadsheetId", result.SpreadsheetID),
		logger.Int("rows", len(result.Rows)),
	)
	return nil
}

func (s *InvoiceService) fail(ctx context.Context, task *queue.Task, err error) {
	status := &queue.TaskStatus{
		TaskID:     task.ID,
		SessionID:  task.SessionID,
		Status:     string(models.StatusFailed),
		ErrorCode:  string(apperr.KindOf(err)),
		Error:      err.Error(),
		StartedAt:  task.CreatedAt,
		FinishedAt: s.now(),
	}
	ev := progress.Event{
		Type:   progress.EventError,
		TaskID: task.ID,
		Code:   status.ErrorCode,
		Key:    apperr.KindOf(err).MessageKey(),
		Error:  err.Error(),
	}
	if e, ok := apperr.As(err); ok {
		status.Error = e.Message()
		ev.Error = e.Message()
		if url, ok := e.Params["spreadsheetUrl"].(string); ok {
			status.SpreadsheetURL = url
		}
	}

	s.saveStatus(ctx, status)
	s.publish(ctx, ev)
	logger.FromContext(ctx, s.logger).Error("Invoice task failed",
		logger.String("kind", status.ErrorCode),
		logger.Error(err),
	)
}

func (s *InvoiceService) storedSources(refs []queue.FileRef) []models.FileSource {
	out := make([]models.FileSource, 0, len(refs))
	for _, ref := range refs {
		key := ref.Key
		out = append(out, models.FileSource{
			Name:     ref.Name,
			MIMEType: ref.MIMEType,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return s.Storage.Get(ctx, key)
			},
		})
	}
	return out
}

func (s *InvoiceService) removeFiles(ctx context.Context, refs []queue.FileRef) {
	for _, ref := range refs {
		if err := s.Storage.Delete(ctx, ref.Key); err != nil {
			s.logger.Warn("Failed to delete task file",
				logger.String("key", ref.Key),
				logger.Error(err),
			)
		}
	}
}

func (s *InvoiceService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if err := s.Queue.SaveFinalStatus(ctx, status); err != nil {
		s.logger.Error("Failed to save task status",
			logger.String("taskId", status.TaskID),
			logger.Error(err),
		)
	}
}

func (s *InvoiceService) publish(ctx context.Context, ev progress.Event) {
	if s.Progress == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := s.Progress.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish progress",
			logger.String("taskId", ev.TaskID),
			logger.Error(err),
		)
	}
}

// GetStatus 获取处理状态
func (s *InvoiceService) GetStatus(ctx context.Context, sessionID, taskID string) (*models.ProcessingTask, error) {
	if s.Queue == nil {
		return nil, apperr.New(apperr.KindTaskNotFound, "taskId", taskID)
	}
	status, err := s.Queue.GetTaskStatus(ctx, taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		return nil, apperr.New(apperr.KindTaskNotFound, "taskId", taskID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailed, err)
	}
	if status.SessionID != "" && status.SessionID != sessionID {
		return nil, apperr.New(apperr.KindTaskNotFound, "taskId", taskID)
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case "running", "active":
		taskStatus = models.StatusRunning
	case "completed":
		taskStatus = models.StatusCompleted
	case "failed":
		taskStatus = models.StatusFailed
	case "cancelled":
		taskStatus = models.StatusCancelled
	default:
		taskStatus = models.StatusPending
	}

	return &models.ProcessingTask{
		ID:             status.TaskID,
		SessionID:      status.SessionID,
		Status:         taskStatus,
		Type:           queue.TaskTypeInvoiceExtract,
		Progress:       status.Progress,
		Error:          status.Error,
		ErrorCode:      status.ErrorCode,
		SpreadsheetURL: status.SpreadsheetURL,
		Metadata:       make(map[string]string),
		CreatedAt:      status.StartedAt,
		UpdatedAt:      status.FinishedAt,
	}, nil
}

// GetResult 获取处理结果
func (s *InvoiceService) GetResult(ctx context.Context, sessionID, taskID string) (*converters.ProcessedInvoice, error) {
	status, err := s.GetStatus(ctx, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	if status.Status != models.StatusCompleted {
		return nil, apperr.New(apperr.KindTaskNotReady, "taskId", taskID, "status", string(status.Status))
	}

	reader, err := s.Storage.Get(ctx, resultKey(taskID))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailed, err)
	}
	defer reader.Close()

	var result converters.ProcessedInvoice
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailed, err)
	}
	return &result, nil
}

// CancelTask 取消任务
// Only pending tasks can be cancelled; a running task is never aborted.
func (s *InvoiceService) CancelTask(ctx context.Context, sessionID, taskID string) error {
	status, err := s.GetStatus(ctx, sessionID, taskID)
	if err != nil {
		return err
	}
	if status.Status != models.StatusPending {
		return apperr.New(apperr.KindTaskNotReady, "taskId", taskID, "status", string(status.Status))
	}

	if err := s.Queue.CancelTask(ctx, taskID); err != nil {
		if errors.Is(err, queue.ErrTaskNotCancellable) {
			// picked up by a worker in the meantime
			return apperr.New(apperr.KindTaskNotReady, "taskId", taskID, "status", string(models.StatusRunning))
		}
		return apperr.Wrap(apperr.KindStorageFailed, err)
	}
	s.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     taskID,
		SessionID:  status.SessionID,
		Status:     string(models.StatusCancelled),
		StartedAt:  status.CreatedAt,
		FinishedAt: s.now(),
	})

	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupTasks 清理过期任务
func (s *InvoiceService) CleanupTasks(ctx context.Context) error {
	if s.Storage == nil {
		return nil
	}
	threshold := s.now().Add(-s.config.RetentionPeriod)

	if err := s.Storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}

	s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
	return nil
}

func resultKey(taskID string) string {
	return storage.ResultsPrefix + taskID + ".json"
}
