package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/sheets/v4"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

type fakeGoogle struct {
	mu       sync.Mutex
	requests []recorded
	// status per path suffix; defaults to 200
	fail map[string]int
	// create response overrides
	createBody string
}

func (f *fakeGoogle) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.requests = append(f.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		f.mu.Unlock()

		for suffix, status := range f.fail {
			if strings.HasSuffix(r.URL.Path, suffix) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = io.WriteString(w, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v4/spreadsheets":
			if f.createBody != "" {
				_, _ = io.WriteString(w, f.createBody)
				return
			}
			_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","spreadsheetUrl":"https://docs.google.com/spreadsheets/d/sheet-1/edit"}`)
		case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
			_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","replies":[]}`)
		case strings.Contains(r.URL.Path, "/values/"):
			_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","updatedRange":"Sheet1!B2:C3","updatedRows":2,"updatedColumns":2,"updatedCells":4}`)
		case strings.HasSuffix(r.URL.Path, "/copy"):
			_, _ = io.WriteString(w, `{"id":"copy-1","webViewLink":"https://docs.google.com/spreadsheets/d/copy-1/edit"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeGoogle) Requests() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newTestClient(t *testing.T, fake *fakeGoogle) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Options{
		SheetsEndpoint: srv.URL + "/",
		DriveEndpoint:  srv.URL + "/drive/v3/",
	}, logger.NewTestLogger())
}

func validToken() models.SessionToken {
	return models.SessionToken{Token: "tok", ExpiresAt: time.Now().Add(time.Hour).UnixMilli()}
}

func testBatch(t *testing.T) []*sheets.Request {
	tmpl, err := DefaultTemplate()
	require.NoError(t, err)
	return tmpl.Requests()
}

func TestProvisionCreatesAndFormats(t *testing.T) {
	fake := &fakeGoogle{}
	c := newTestClient(t, fake)

	target, err := c.Provision(context.Background(), validToken(), "Factura 12/Oct 10:00", testBatch(t))
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", target.ID)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/sheet-1/edit", target.URL)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/v4/spreadsheets", reqs[0].Path)
	assert.Equal(t, "Bearer tok", reqs[0].Auth)
	assert.Contains(t, reqs[0].Query, "fields=spreadsheetId%2CspreadsheetUrl")
	props := reqs[0].Body["properties"].(map[string]any)
	assert.Equal(t, "Factura 12/Oct 10:00", props["title"])

	assert.Equal(t, "/v4/spreadsheets/sheet-1:batchUpdate", reqs[1].Path)
	sent := reqs[1].Body["requests"].([]any)
	assert.Len(t, sent, len(testBatch(t)))
}

func TestProvisionPreconditions(t *testing.T) {
	fake := &fakeGoogle{}
	c := newTestClient(t, fake)
	ctx := context.Background()
	batch := testBatch(t)

	var nilClient *Client
	_, err := nilClient.Provision(ctx, validToken(), "t", batch)
	assert.Equal(t, apperr.KindClientNotReady, apperr.KindOf(err))

	_, err = c.Provision(ctx, models.SessionToken{}, "t", batch)
	assert.Equal(t, apperr.KindAccessTokenMissing, apperr.KindOf(err))

	expired := models.SessionToken{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute).UnixMilli()}
	_, err = c.Provision(ctx, expired, "t", batch)
	assert.Equal(t, apperr.KindAccessTokenMissing, apperr.KindOf(err))

	_, err = c.Provision(ctx, validToken(), "", batch)
	assert.Equal(t, apperr.KindTemplateTitleMissing, apperr.KindOf(err))

	_, err = c.Provision(ctx, validToken(), "t", nil)
	assert.Equal(t, apperr.KindBatchMissing, apperr.KindOf(err))

	assert.Empty(t, fake.Requests(), "no call before preconditions pass")
}

func TestProvisionCreateMissingURL(t *testing.T) {
	fake := &fakeGoogle{createBody: `{"spreadsheetId":"sheet-1"}`}
	c := newTestClient(t, fake)

	_, err := c.Provision(context.Background(), validToken(), "t", testBatch(t))
	assert.Equal(t, apperr.KindCreationFailed, apperr.KindOf(err))
	assert.Len(t, fake.Requests(), 1, "batch is not applied")
}

func TestProvisionApplyFailureCarriesAPIMessage(t *testing.T) {
	fake := &fakeGoogle{fail: map[string]int{":batchUpdate": http.StatusForbidden}}
	c := newTestClient(t, fake)

	_, err := c.Provision(context.Background(), validToken(), "t", testBatch(t))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindApplyTemplateFailed, e.Kind)
	assert.Equal(t, "The caller does not have permission", e.Message())
}

func TestWriteUsesUserEntered(t *testing.T) {
	fake := &fakeGoogle{}
	c := newTestClient(t, fake)

	rows := [][]string{{"7501", "Tornillo"}, {"7502", "=1+1"}}
	resp, err := c.Write(context.Background(), validToken(), "sheet-1", rows, "Sheet1!B2")
	require.NoError(t, err)
	assert.EqualValues(t, 4, resp.UpdatedCells)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Sheet1!B2", reqs[0].Path)
	assert.Contains(t, reqs[0].Query, "valueInputOption=USER_ENTERED")
	assert.Equal(t, []any{
		[]any{"7501", "Tornillo"},
		[]any{"7502", "=1+1"},
	}, reqs[0].Body["values"])
}

func TestWritePreconditions(t *testing.T) {
	fake := &fakeGoogle{}
	c := newTestClient(t, fake)
	ctx := context.Background()
	rows := [][]string{{"a"}}

	_, err := c.Write(ctx, validToken(), "sheet-1", nil, "Sheet1!B2")
	assert.Equal(t, apperr.KindNoDataToWrite, apperr.KindOf(err))

	_, err = c.Write(ctx, validToken(), "", rows, "Sheet1!B2")
	assert.Equal(t, apperr.KindSpreadsheetIDMissing, apperr.KindOf(err))

	_, err = c.Write(ctx, validToken(), "sheet-1", rows, "")
	assert.Equal(t, apperr.KindRangeMissing, apperr.KindOf(err))

	_, err = c.Write(ctx, models.SessionToken{}, "sheet-1", rows, "Sheet1!B2")
	assert.Equal(t, apperr.KindAccessTokenMissing, apperr.KindOf(err))

	assert.Empty(t, fake.Requests())
}

func TestWriteFailure(t *testing.T) {
	fake := &fakeGoogle{fail: map[string]int{"B2": http.StatusForbidden}}
	c := newTestClient(t, fake)

	_, err := c.Write(context.Background(), validToken(), "sheet-1", [][]string{{"a"}}, "Sheet1!B2")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindWriteFailed, e.Kind)
	assert.Equal(t, "The caller does not have permission", e.Message())
}

func TestCopyTemplate(t *testing.T) {
	fake := &fakeGoogle{}
	c := newTestClient(t, fake)

	target, err := c.CopyTemplate(context.Background(), validToken(), "tmpl-1", "Factura")
	require.NoError(t, err)
	assert.Equal(t, "copy-1", target.ID)
	assert.Equal(t, "https://docs.google.com/spreadsheets/d/copy-1/edit", target.URL)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/drive/v3/files/tmpl-1/copy", reqs[0].Path)
	assert.Equal(t, "Factura", reqs[0].Body["name"])

	_, err = c.CopyTemplate(context.Background(), validToken(), "", "Factura")
	assert.Equal(t, apperr.KindCopyFailed, apperr.KindOf(err))
}
