// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TaskType 定义任务类型
const (
	TaskTypeInvoiceExtract = "invoice:extract"
	TaskTypeCleanup        = "invoice:cleanup"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskNotCancellable = errors.New("task is no longer waiting in a queue")
)

var queueNames = []string{"critical", "default", "low"}

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// FileRef points at a staged image copied to object storage.
type FileRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Task 定义任务结构
type Task struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	SessionID string            `json:"sessionId"`
	Files     []FileRef         `json:"files"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID         string    `json:"taskId"`
	SessionID      string    `json:"sessionId,omitempty"`
	Status         string    `json:"status"`
	Progress       float64   `json:"progress"`
	Error          string    `json:"error,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	SpreadsheetURL string    `json:"spreadsheetUrl,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
}

// QueueConfig 定义队列配置
type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	KeyPrefix      string
	MaxRetries     int
	ProcessTimeout time.Duration
	StatusTTL      time.Duration
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       *QueueConfig
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *QueueConfig) (*AsynqQueue, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		cfg: cfg,
	}, nil
}

func (q *AsynqQueue) statusKey(taskID string) string {
	return fmt.Sprintf("%s:task_status:%s", q.cfg.KeyPrefix, taskID)
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	// 设置任务选项
	opts := []asynq.Option{
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.ProcessTimeout),
		asynq.TaskID(task.ID),
		asynq.Retention(q.cfg.StatusTTL),
	}

	// 根据优先选择队列
	switch task.Priority {
	case 1:
		opts = append(opts, asynq.Queue("critical"))
	case 2:
		opts = append(opts, asynq.Queue("default"))
	default:
		opts = append(opts, asynq.Queue("low"))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID

	return q.SaveFinalStatus(ctx, &TaskStatus{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    "pending",
		StartedAt: task.CreatedAt,
	})
}

// GetTaskStatus 获取任务状态
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := q.redis.Get(ctx, q.statusKey(taskID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	if err == nil {
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	// 如果 Redis 中没有，从所有队列中查找
	for _, name := range queueNames {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
	}
	return nil, ErrTaskNotFound
}

// CancelTask 取消任务
// Only tasks still waiting in a queue can be removed; active tasks run to completion.
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	var lastErr error
	for _, name := range queueNames {
		err := q.inspector.DeleteTask(name, taskID)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %w", ErrTaskNotCancellable, lastErr)
}

// SaveFinalStatus 保存任务状态
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, q.statusKey(status.TaskID), data, q.cfg.StatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// DeleteStatus removes the stored status record.
func (q *AsynqQueue) DeleteStatus(ctx context.Context, taskID string) error {
	return q.redis.Del(ctx, q.statusKey(taskID)).Err()
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		status.Status = "pending"
	case asynq.TaskStateActive:
		status.Status = "running"
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = "completed"
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
	default:
		status.Status = "failed"
		status.Error = info.LastErr
	}

	return status
}
