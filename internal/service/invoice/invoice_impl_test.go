package invoice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/sheets/v4"
	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/internal/agent/gemini"
	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/pkg/logger"
	"github.com/feichai0017/remi2ai/pkg/progress"
	"github.com/feichai0017/remi2ai/pkg/queue"
	"github.com/feichai0017/remi2ai/pkg/storage/memory"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"code": {"type": "string"}, "qty": {"type": "number"}},
				"propertyOrdering": ["code", "qty"]
			}
		}
	}
}`

const invoiceJSON = `{"title":"Factura","items":[{"qty":2,"code":"A1"},{"code":"B7","qty":1.5}]}`

var fixedNow = time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC)

type fakeBuilder struct{}

func (fakeBuilder) Request(files []models.FileSource) *gemini.Request {
	return &gemini.Request{APIKey: "key", Model: "m", Files: files, Prompt: "p", Schema: testSchema}
}

func (fakeBuilder) Schema() (*genai.Schema, error) {
	return gemini.ParseSchema(testSchema)
}

type fakeGenerator struct {
	mu        sync.Mutex
	snapshots []gemini.Snapshot
	text      string
	err       error
	started   chan struct{}
	release   chan struct{}
	read      []string
}

func (g *fakeGenerator) Generate(ctx context.Context, req *gemini.Request, updates chan<- gemini.Snapshot) (string, error) {
	defer close(updates)
	if g.started != nil {
		close(g.started)
	}
	if g.release != nil {
		<-g.release
	}
	for _, f := range req.Files {
		rc, err := f.Open(ctx)
		if err != nil {
			return "", apperr.Wrap(apperr.KindStorageFailed, err, "fileName", f.Name)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		g.mu.Lock()
		g.read = append(g.read, string(data))
		g.mu.Unlock()
	}
	for _, s := range g.snapshots {
		updates <- s
	}
	return g.text, g.err
}

type fakeSheets struct {
	mu         sync.Mutex
	titles     []string
	copies     []string
	writes     [][][]string
	ranges     []string
	writeErr   error
	createErr  error
	batchSizes []int
}

func (f *fakeSheets) Provision(ctx context.Context, token models.SessionToken, title string, batch []*sheets.Request) (*models.SpreadsheetTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.titles = append(f.titles, title)
	f.batchSizes = append(f.batchSizes, len(batch))
	return &models.SpreadsheetTarget{ID: "sheet-1", URL: "https://docs.google.com/spreadsheets/d/sheet-1"}, nil
}

func (f *fakeSheets) CopyTemplate(ctx context.Context, token models.SessionToken, templateID, name string) (*models.SpreadsheetTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, templateID+"|"+name)
	return &models.SpreadsheetTarget{ID: "copy-1", URL: "https://docs.google.com/spreadsheets/d/copy-1"}, nil
}

func (f *fakeSheets) Write(ctx context.Context, token models.SessionToken, spreadsheetID string, rows [][]string, rng string) (*sheets.UpdateValuesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.writes = append(f.writes, rows)
	f.ranges = append(f.ranges, rng)
	return &sheets.UpdateValuesResponse{SpreadsheetId: spreadsheetID, UpdatedRows: int64(len(rows))}, nil
}

type fakeCreds struct {
	err error
}

func (c fakeCreds) Credential(ctx context.Context, sessionID string) (models.SessionToken, error) {
	if c.err != nil {
		return models.SessionToken{}, c.err
	}
	return models.SessionToken{Token: "tok", ExpiresAt: fixedNow.Add(time.Hour).UnixMilli()}, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	tasks     []*queue.Task
	statuses  map[string]queue.TaskStatus
	cancelled []string
	cancelErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{statuses: make(map[string]queue.TaskStatus)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.statuses[task.ID] = queue.TaskStatus{TaskID: task.ID, SessionID: task.SessionID, Status: "pending"}
	return nil
}

func (q *fakeQueue) GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.statuses[taskID]
	if !ok {
		return nil, queue.ErrTaskNotFound
	}
	return &st, nil
}

func (q *fakeQueue) CancelTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelErr != nil {
		return q.cancelErr
	}
	q.cancelled = append(q.cancelled, taskID)
	return nil
}

func (q *fakeQueue) SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses[status.TaskID] = *status
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev progress.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) all() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Event(nil), p.events...)
}

type fixture struct {
	svc       *InvoiceService
	gen       *fakeGenerator
	sheets    *fakeSheets
	queue     *fakeQueue
	store     *memory.MemoryStorage
	publisher *fakePublisher
	staging   *staging.Manager
	log       *logger.TestLogger
}

func newFixture(t *testing.T, cfg *ServiceConfig) *fixture {
	t.Helper()
	f := &fixture{
		gen:       &fakeGenerator{text: invoiceJSON},
		sheets:    &fakeSheets{},
		queue:     newFakeQueue(),
		store:     memory.NewMemoryStorage(),
		publisher: &fakePublisher{},
		staging:   staging.NewManager(staging.Options{MaxFiles: 3}),
		log:       logger.NewTestLogger(),
	}
	if cfg == nil {
		cfg = &ServiceConfig{Location: time.UTC}
	}
	f.svc = NewService(Deps{
		Requests:    fakeBuilder{},
		Generator:   f.gen,
		Sheets:      f.sheets,
		Credentials: fakeCreds{},
		Staging:     f.staging,
		Queue:       f.queue,
		Storage:     f.store,
		Progress:    f.publisher,
	}, cfg, f.log)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) stage(t *testing.T, sessionID string, names ...string) {
	t.Helper()
	var candidates []staging.Candidate
	for i, name := range names {
		candidates = append(candidates, staging.Candidate{
			Name:         name,
			Size:         int64(len(name)),
			LastModified: int64(i + 1),
			MIMEType:     "image/png",
			Content:      []byte(name),
		})
	}
	_, errs := f.staging.Get(sessionID).Add(candidates)
	require.Empty(t, errs)
}

func drain(ch <-chan progress.Event) func() []progress.Event {
	var got []progress.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			got = append(got, ev)
		}
	}()
	return func() []progress.Event {
		<-done
		return got
	}
}

func TestSubmitWritesRowsInSchemaOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.snapshots = []gemini.Snapshot{
		{Thoughts: []string{"Reading the invoice. "}},
		{Thoughts: []string{"Reading the invoice. ", "Found two lines."}, Outputs: []string{invoiceJSON}},
	}
	f.stage(t, "s1", "a.png", "b.png")

	events := make(chan progress.Event)
	wait := drain(events)

	result, err := f.svc.Submit(context.Background(), "s1", events)
	require.NoError(t, err)
	got := wait()

	assert.Equal(t, []string{"Factura 16/Oct 10:30"}, f.sheets.titles)
	require.Len(t, f.sheets.writes, 1)
	assert.Equal(t, [][]string{{"A1", "2"}, {"B7", "1.5"}}, f.sheets.writes[0])
	assert.Equal(t, []string{"Sheet1!B2"}, f.sheets.ranges)
	assert.Equal(t, []string{"a.png", "b.png"}, f.gen.read)

	assert.Equal(t, "Factura", result.Title)
	assert.Equal(t, []string{"code", "qty"}, result.Columns)
	assert.Equal(t, "sheet-1", result.SpreadsheetID)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1", result.SpreadsheetURL)
	assert.Equal(t, "Reading the invoice. Found two lines.", result.Thoughts)
	assert.Equal(t, 0, f.staging.Len(), "staging list is released after success")

	var stages []string
	snapshots := 0
	for _, ev := range got {
		switch ev.Type {
		case progress.EventStage:
			stages = append(stages, ev.Stage)
		case progress.EventSnapshot:
			snapshots++
		}
	}
	assert.Equal(t, []string{StageGenerating, StageProjecting, StageProvisioning, StageWriting}, stages)
	assert.Equal(t, 2, snapshots)
}

func TestSubmitRequiresSignIn(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Credentials = fakeCreds{err: apperr.New(apperr.KindSignInRequired)}
	f.stage(t, "s1", "a.png")

	_, err := f.svc.Submit(context.Background(), "s1", nil)
	assert.Equal(t, apperr.KindSignInRequired, apperr.KindOf(err))
	assert.Empty(t, f.sheets.titles)
	assert.Equal(t, 1, f.staging.Get("s1").Len())
}

func TestSubmitEmptyItemsCreatesNoSheet(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.text = `{"title":"Factura","items":[]}`
	f.stage(t, "s1", "a.png")

	_, err := f.svc.Submit(context.Background(), "s1", nil)
	assert.Equal(t, apperr.KindNoDataToWrite, apperr.KindOf(err))
	assert.Empty(t, f.sheets.titles)
	assert.Equal(t, 1, f.staging.Get("s1").Len())
}

func TestSubmitProjectionErrorKeepsStaging(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.text = `{"title":"Factura","items":{"code":"A1"}}`
	f.stage(t, "s1", "a.png")

	_, err := f.svc.Submit(context.Background(), "s1", nil)
	assert.Equal(t, apperr.KindSchemaMismatch, apperr.KindOf(err))
	assert.Empty(t, f.sheets.titles)
	assert.Equal(t, 1, f.staging.Get("s1").Len())
}

func TestSubmitWriteFailureReportsCreatedSheet(t *testing.T) {
	f := newFixture(t, nil)
	f.sheets.writeErr = apperr.New(apperr.KindWriteFailed, "message", "quota exceeded")
	f.stage(t, "s1", "a.png")

	_, err := f.svc.Submit(context.Background(), "s1", nil)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindWriteFailed, e.Kind)
	assert.Equal(t, "quota exceeded", e.Message())
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1", e.Params["spreadsheetUrl"])
	assert.Equal(t, 1, f.staging.Get("s1").Len())
}

func TestSubmitUsesTemplateCopy(t *testing.T) {
	f := newFixture(t, &ServiceConfig{TemplateID: "tmpl-1", SheetsRange: "Data!A1", Location: time.UTC})
	f.stage(t, "s1", "a.png")

	result, err := f.svc.Submit(context.Background(), "s1", nil)
	require.NoError(t, err)

	assert.Empty(t, f.sheets.titles)
	assert.Equal(t, []string{"tmpl-1|Factura 16/Oct 10:30"}, f.sheets.copies)
	assert.Equal(t, []string{"Data!A1"}, f.sheets.ranges)
	assert.Equal(t, "copy-1", result.SpreadsheetID)
}

func TestSubmitFallsBackToTitlePrefix(t *testing.T) {
	f := newFixture(t, &ServiceConfig{TitlePrefix: "Remito", Location: time.UTC})
	f.gen.text = `{"title":"  ","items":[{"code":"A1","qty":1}]}`
	f.stage(t, "s1", "a.png")

	_, err := f.svc.Submit(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Remito 16/Oct 10:30"}, f.sheets.titles)
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.started = make(chan struct{})
	f.gen.release = make(chan struct{})
	f.stage(t, "s1", "a.png")

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(context.Background(), "s1", nil)
		firstDone <- err
	}()
	<-f.gen.started

	events := make(chan progress.Event)
	_, err := f.svc.Submit(context.Background(), "s1", events)
	assert.Equal(t, apperr.KindSubmissionInProgress, apperr.KindOf(err))
	_, open := <-events
	assert.False(t, open)

	close(f.gen.release)
	require.NoError(t, <-firstDone)
	assert.Len(t, f.sheets.titles, 1)
}

func TestEnqueueAndHandleInvoice(t *testing.T) {
	f := newFixture(t, &ServiceConfig{QueuePriority: 2, Location: time.UTC})
	f.stage(t, "s1", "a.png", "b.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, 0, f.staging.Len())
	assert.Equal(t, 2, f.store.Len())

	require.Len(t, f.queue.tasks, 1)
	queued := f.queue.tasks[0]
	assert.Equal(t, "s1", queued.SessionID)
	assert.Equal(t, 2, queued.Priority)
	require.Len(t, queued.Files, 2)
	assert.Equal(t, "a.png", queued.Files[0].Name)

	require.NoError(t, f.svc.HandleInvoice(ctx, queued))
	assert.Equal(t, []string{"a.png", "b.png"}, f.gen.read)
	// inputs removed, result kept
	assert.Equal(t, 1, f.store.Len())

	status, err := f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1", status.SpreadsheetURL)

	result, err := f.svc.GetResult(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, result.TaskID)
	assert.Equal(t, [][]string{{"A1", "2"}, {"B7", "1.5"}}, result.Rows)

	events := f.publisher.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, progress.EventDone, last.Type)
	assert.Equal(t, task.ID, last.TaskID)
	assert.NotEmpty(t, last.Result)
	for _, ev := range events {
		assert.Equal(t, task.ID, ev.TaskID)
	}
}

func TestEnqueueRequiresFiles(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Enqueue(context.Background(), "s1")
	assert.Equal(t, apperr.KindNoFiles, apperr.KindOf(err))
	assert.Empty(t, f.queue.tasks)
}

func TestHandleInvoiceFailurePublishesError(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = apperr.New(apperr.KindInvalidJSON, "message", "unexpected end of JSON input")
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)

	err = f.svc.HandleInvoice(ctx, f.queue.tasks[0])
	assert.Equal(t, apperr.KindInvalidJSON, apperr.KindOf(err))
	assert.Equal(t, 0, f.store.Len())

	status, err := f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.Equal(t, "invalid_json", status.ErrorCode)
	assert.Equal(t, "unexpected end of JSON input", status.Error)

	events := f.publisher.all()
	last := events[len(events)-1]
	assert.Equal(t, progress.EventError, last.Type)
	assert.Equal(t, "invalid_json", last.Code)
	assert.Equal(t, apperr.KindInvalidJSON.MessageKey(), last.Key)

	_, err = f.svc.GetResult(ctx, "s1", task.ID)
	assert.Equal(t, apperr.KindTaskNotReady, apperr.KindOf(err))
}

func TestTasksAreScopedToSession(t *testing.T) {
	f := newFixture(t, nil)
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)

	_, err = f.svc.GetStatus(ctx, "s2", task.ID)
	assert.Equal(t, apperr.KindTaskNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindTaskNotFound, apperr.KindOf(f.svc.CancelTask(ctx, "s2", task.ID)))

	_, err = f.svc.GetStatus(ctx, "s1", "missing")
	assert.Equal(t, apperr.KindTaskNotFound, apperr.KindOf(err))

	_, err = f.svc.GetResult(ctx, "s1", task.ID)
	assert.Equal(t, apperr.KindTaskNotReady, apperr.KindOf(err))
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t, nil)
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelTask(ctx, "s1", task.ID))
	assert.Equal(t, []string{task.ID}, f.queue.cancelled)

	status, err := f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)

	// a worker that still dequeues it leaves the task alone
	require.NoError(t, f.svc.HandleInvoice(ctx, f.queue.tasks[0]))
	assert.Empty(t, f.gen.read)
	assert.Empty(t, f.sheets.titles)
	status, err = f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status.Status)
	assert.Equal(t, 0, f.store.Len())
}

func TestCancelTaskRejectsRunningTask(t *testing.T) {
	f := newFixture(t, nil)
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, f.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
		TaskID:    task.ID,
		SessionID: "s1",
		Status:    string(models.StatusRunning),
	}))

	err = f.svc.CancelTask(ctx, "s1", task.ID)
	assert.Equal(t, apperr.KindTaskNotReady, apperr.KindOf(err))
	assert.Empty(t, f.queue.cancelled)

	status, err := f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, status.Status)
}

func TestCancelTaskLosesRaceWithWorker(t *testing.T) {
	f := newFixture(t, nil)
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	task, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)
	f.queue.cancelErr = fmt.Errorf("%w: task is active", queue.ErrTaskNotCancellable)

	err = f.svc.CancelTask(ctx, "s1", task.ID)
	assert.Equal(t, apperr.KindTaskNotReady, apperr.KindOf(err))

	status, err := f.svc.GetStatus(ctx, "s1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status.Status)
}

func TestCleanupTasks(t *testing.T) {
	f := newFixture(t, nil)
	f.stage(t, "s1", "a.png")
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())

	f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, f.svc.CleanupTasks(ctx))
	assert.Equal(t, 0, f.store.Len())
}

func TestRunLogsUndeclaredOrdering(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Requests = orderingBuilder{}
	f.gen.text = `{"title":"T","items":[{"code":"A1","qty":1}]}`

	_, err := f.svc.Run(context.Background(), "s1", nil, nil)
	require.NoError(t, err)
	assert.True(t, f.log.HasMessage("WARN", "Schema ordering names properties the item schema does not declare"))
}

type orderingBuilder struct{ fakeBuilder }

func (orderingBuilder) Schema() (*genai.Schema, error) {
	s, err := gemini.ParseSchema(testSchema)
	if err != nil {
		return nil, err
	}
	s.Properties["items"].Items.PropertyOrdering = []string{"code", "qty", "price"}
	return s, nil
}

func TestRunPropagatesGenerationError(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = apperr.Wrap(apperr.KindGenerationFailed, errors.New("503 overloaded"))

	_, err := f.svc.Run(context.Background(), "s1", nil, nil)
	assert.Equal(t, apperr.KindGenerationFailed, apperr.KindOf(err))
	assert.Empty(t, f.sheets.titles)
}
