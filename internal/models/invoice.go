package models

import (
	"context"
	"io"
	"time"
)

// StagedFile 用户暂存的发票图片
type StagedFile struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified int64     `json:"lastModified"`
	MIMEType     string    `json:"mimeType"`
	Content      []byte    `json:"-"`
	StagedAt     time.Time `json:"stagedAt"`
}

// FileSource is a lazily opened input of the extraction pipeline.
type FileSource struct {
	Name     string
	MIMEType string
	Open     func(ctx context.Context) (io.ReadCloser, error)
}

// SpreadsheetTarget 新建的表格
type SpreadsheetTarget struct {
	ID    string `json:"spreadsheetId"`
	URL   string `json:"spreadsheetUrl"`
	Range string `json:"range"`
}

// SessionToken is the persisted OAuth access token. ExpiresAt is epoch milliseconds.
type SessionToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (t SessionToken) Expiry() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// Valid reports whether the token is present and not yet expired at now.
func (t SessionToken) Valid(now time.Time) bool {
	return t.Token != "" && t.ExpiresAt > now.UnixMilli()
}

type ProcessingTask struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId,omitempty"`
	Status         ProcessingStatus  `json:"status"`
	Type           string            `json:"type"`
	Priority       int               `json:"priority"`
	Progress       float64           `json:"progress"`
	Error          string            `json:"error,omitempty"`
	ErrorCode      string            `json:"errorCode,omitempty"`
	SpreadsheetURL string            `json:"spreadsheetUrl,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt,omitempty"`
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)
