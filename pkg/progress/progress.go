// Package progress relays per-task pipeline events between the worker and the API over Redis.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventStage    EventType = "stage"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one message on a task's progress channel.
type Event struct {
	Type     EventType       `json:"type"`
	TaskID   string          `json:"taskId"`
	Stage    string          `json:"stage,omitempty"`
	Thoughts []string        `json:"thoughts,omitempty"`
	Outputs  []string        `json:"outputs,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     string          `json:"code,omitempty"`
	Key      string          `json:"key,omitempty"`
	At       time.Time       `json:"at"`
}

// Final reports whether no further events follow.
func (e Event) Final() bool {
	return e.Type == EventDone || e.Type == EventError
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub publishes events and keeps the latest one so late subscribers catch up.
type Hub struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewHub(client *redis.Client, prefix string, ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Hub{client: client, prefix: prefix, ttl: ttl}
}

func (h *Hub) channel(taskID string) string {
	return fmt.Sprintf("%s:progress:%s", h.prefix, taskID)
}

func (h *Hub) latestKey(taskID string) string {
	return fmt.Sprintf("%s:progress_latest:%s", h.prefix, taskID)
}

func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := h.client.TxPipeline()
	pipe.Set(ctx, h.latestKey(ev.TaskID), data, h.ttl)
	pipe.Publish(ctx, h.channel(ev.TaskID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Latest returns the most recent event of a task.
func (h *Hub) Latest(ctx context.Context, taskID string) (*Event, error) {
	data, err := h.client.Get(ctx, h.latestKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest event: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &ev, nil
}

// Subscribe streams a task's events starting with the latest stored one.
// The channel is closed after a final event or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, taskID string) (<-chan Event, error) {
	sub := h.client.Subscribe(ctx, h.channel(taskID))
	// wait for the subscription to be confirmed before reading the latest event
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	latest, err := h.Latest(ctx, taskID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		var lastAt time.Time
		if latest != nil {
			if !send(ctx, out, *latest) || latest.Final() {
				return
			}
			lastAt = latest.At
		}

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				// skip what the latest record already delivered
				if !ev.At.After(lastAt) && !lastAt.IsZero() {
					continue
				}
				if !send(ctx, out, ev) || ev.Final() {
					return
				}
			}
		}
	}()
	return out, nil
}

// Clear drops the stored latest event.
func (h *Hub) Clear(ctx context.Context, taskID string) error {
	return h.client.Del(ctx, h.latestKey(taskID)).Err()
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
