package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := NewAsynqQueue(&QueueConfig{RedisAddr: mr.Addr(), KeyPrefix: "remi2ai"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	ctx := context.Background()

	status := &TaskStatus{
		TaskID:         "task-1",
		SessionID:      "s1",
		Status:         "failed",
		Error:          "The caller does not have permission",
		ErrorCode:      "write_failed",
		SpreadsheetURL: "https://docs.google.com/spreadsheets/d/x/edit",
		StartedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, q.SaveFinalStatus(ctx, status))
	assert.True(t, mr.Exists("remi2ai:task_status:task-1"))
	assert.Equal(t, 24*time.Hour, mr.TTL("remi2ai:task_status:task-1"))

	got, err := q.GetTaskStatus(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, status, got)

	require.NoError(t, q.DeleteStatus(ctx, "task-1"))
	assert.False(t, mr.Exists("remi2ai:task_status:task-1"))
}

func TestNewAsynqQueueRequiresAddr(t *testing.T) {
	_, err := NewAsynqQueue(&QueueConfig{})
	assert.Error(t, err)
}

func TestConvertAsynqStatus(t *testing.T) {
	done := time.Now()
	cases := []struct {
		state  asynq.TaskState
		status string
	}{
		{asynq.TaskStatePending, "pending"},
		{asynq.TaskStateScheduled, "pending"},
		{asynq.TaskStateActive, "running"},
		{asynq.TaskStateCompleted, "completed"},
		{asynq.TaskStateArchived, "failed"},
	}
	for _, tc := range cases {
		got := convertAsynqStatus(&asynq.TaskInfo{ID: "t", State: tc.state, CompletedAt: done, LastErr: "boom"})
		assert.Equal(t, tc.status, got.Status, tc.state.String())
	}
}
