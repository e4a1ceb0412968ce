// Package sheets creates, formats and fills the result spreadsheet in the user's Google Drive.
package sheets

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type Options struct {
	// SheetsEndpoint and DriveEndpoint override the API base URLs.
	SheetsEndpoint string
	DriveEndpoint  string
	// HTTPClient replaces the token-authenticated transport when set.
	HTTPClient *http.Client
}

// Client talks to Sheets and Drive on behalf of the signed-in user.
type Client struct {
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{opts: opts, logger: log, now: time.Now}
}

func (c *Client) clientOptions(token models.SessionToken, endpoint string) []option.ClientOption {
	var opts []option.ClientOption
	if c.opts.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.opts.HTTPClient))
	} else {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token.Token,
			TokenType:   "Bearer",
			Expiry:      token.Expiry(),
		})))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// ready checks the client and token preconditions shared by every call.
func (c *Client) ready(token models.SessionToken) error {
	if c == nil {
		return apperr.New(apperr.KindClientNotReady)
	}
	if !token.Valid(c.now()) {
		return apperr.New(apperr.KindAccessTokenMissing)
	}
	return nil
}

func (c *Client) sheetsService(ctx context.Context, token models.SessionToken) (*sheets.Service, error) {
	svc, err := sheets.NewService(ctx, c.clientOptions(token, c.opts.SheetsEndpoint)...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindClientNotReady, err)
	}
	return svc, nil
}

// Provision creates a blank spreadsheet titled title and applies batch to it.
func (c *Client) Provision(ctx context.Context, token models.SessionToken, title string, batch []*sheets.Request) (*models.SpreadsheetTarget, error) {
	if err := c.ready(token); err != nil {
		return nil, err
	}
	if title == "" {
		return nil, apperr.New(apperr.KindTemplateTitleMissing)
	}
	if len(batch) == 0 {
		return nil, apperr.New(apperr.KindBatchMissing)
	}

	svc, err := c.sheetsService(ctx, token)
	if err != nil {
		return nil, err
	}

	created, err := svc.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}).Fields("spreadsheetId", "spreadsheetUrl").Context(ctx).Do()
	if err != nil {
		c.logger.Error("Failed to create spreadsheet", logger.String("title", title), logger.Error(err))
		return nil, apperr.Wrap(apperr.KindCreationFailed, err, "message", apiMessage(err))
	}
	if created.SpreadsheetId == "" || created.SpreadsheetUrl == "" {
		return nil, apperr.New(apperr.KindCreationFailed)
	}

	target := &models.SpreadsheetTarget{ID: created.SpreadsheetId, URL: created.SpreadsheetUrl}
	c.logger.Info("Spreadsheet created",
		logger.String("spreadsheetId", target.ID),
		logger.Int("requests", len(batch)),
	)

	_, err = svc.Spreadsheets.BatchUpdate(target.ID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: batch,
	}).Context(ctx).Do()
	if err != nil {
		c.logger.Error("Failed to apply template", logger.String("spreadsheetId", target.ID), logger.Error(err))
		return nil, apperr.Wrap(apperr.KindApplyTemplateFailed, err,
			"message", apiMessage(err),
			"spreadsheetUrl", target.URL,
		)
	}
	return target, nil
}

// CopyTemplate copies an existing Drive spreadsheet and returns the copy.
func (c *Client) CopyTemplate(ctx context.Context, token models.SessionToken, templateID, name string) (*models.SpreadsheetTarget, error) {
	if err := c.ready(token); err != nil {
		return nil, err
	}
	if templateID == "" {
		return nil, apperr.New(apperr.KindCopyFailed, "message", "template id is missing")
	}
	if name == "" {
		return nil, apperr.New(apperr.KindTemplateTitleMissing)
	}

	svc, err := drive.NewService(ctx, c.clientOptions(token, c.opts.DriveEndpoint)...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindClientNotReady, err)
	}

	file, err := svc.Files.Copy(templateID, &drive.File{Name: name}).Fields("id, webViewLink").Context(ctx).Do()
	if err != nil {
		c.logger.Error("Failed to copy template", logger.String("templateId", templateID), logger.Error(err))
		return nil, apperr.Wrap(apperr.KindCopyFailed, err, "message", apiMessage(err))
	}
	if file.Id == "" {
		return nil, apperr.New(apperr.KindCopyFailed)
	}

	c.logger.Info("Template copied",
		logger.String("templateId", templateID),
		logger.String("spreadsheetId", file.Id),
	)
	return &models.SpreadsheetTarget{ID: file.Id, URL: file.WebViewLink}, nil
}

// Write puts rows into the spreadsheet starting at rng, interpreted as typed by a user.
func (c *Client) Write(ctx context.Context, token models.SessionToken, spreadsheetID string, rows [][]string, rng string) (*sheets.UpdateValuesResponse, error) {
	if err := c.ready(token); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.KindNoDataToWrite)
	}
	if spreadsheetID == "" {
		return nil, apperr.New(apperr.KindSpreadsheetIDMissing)
	}
	if rng == "" {
		return nil, apperr.New(apperr.KindRangeMissing)
	}

	svc, err := c.sheetsService(ctx, token)
	if err != nil {
		return nil, err
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, v := range row {
			values[i][j] = v
		}
	}

	resp, err := svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.logger.Error("Failed to write values",
			logger.String("spreadsheetId", spreadsheetID),
			logger.String("range", rng),
			logger.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindWriteFailed, err, "message", apiMessage(err))
	}

	c.logger.Info("Values written",
		logger.String("spreadsheetId", spreadsheetID),
		logger.Int64("updatedCells", resp.UpdatedCells),
	)
	return resp, nil
}

// apiMessage prefers the message from the API error body.
func apiMessage(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	return err.Error()
}
