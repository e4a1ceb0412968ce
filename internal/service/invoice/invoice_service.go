package invoice

import (
	"context"

	"google.golang.org/api/sheets/v4"
	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/converters"
	"github.com/feichai0017/remi2ai/pkg/progress"
	"github.com/feichai0017/remi2ai/pkg/queue"
)

// InvoiceProcessor is everything the HTTP layer and the worker need.
type InvoiceProcessor interface {
	Submit(ctx context.Context, sessionID string, events chan<- progress.Event) (*converters.ProcessedInvoice, error)
	Enqueue(ctx context.Context, sessionID string) (*models.ProcessingTask, error)
	HandleInvoice(ctx context.Context, task *queue.Task) error
	GetStatus(ctx context.Context, sessionID, taskID string) (*models.ProcessingTask, error)
	GetResult(ctx context.Context, sessionID, taskID string) (*converters.ProcessedInvoice, error)
	CancelTask(ctx context.Context, sessionID, taskID string) error
	CleanupTasks(ctx context.Context) error
}

type Generator interface {
	Generate(ctx context.Context, req *gemini.Request, updates chan<- gemini.Snapshot) (string, error)
}

// RequestBuilder turns pipeline inputs into a model request and exposes the response schema.
type RequestBuilder interface {
	Request(files []models.FileSource) *gemini.Request
	Schema() (*genai.Schema, error)
}

type SheetWriter interface {
	Provision(ctx context.Context, token models.SessionToken, title string, batch []*sheets.Request) (*models.SpreadsheetTarget, error)
	CopyTemplate(ctx context.Context, token models.SessionToken, templateID, name string) (*models.SpreadsheetTarget, error)
	Write(ctx context.Context, token models.SessionToken, spreadsheetID string, rows [][]string, rng string) (*sheets.UpdateValuesResponse, error)
}

type CredentialSource interface {
	Credential(ctx context.Context, sessionID string) (models.SessionToken, error)
}
