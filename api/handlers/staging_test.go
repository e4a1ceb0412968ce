package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/internal/utils/validator"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

func newStagingRouter(t *testing.T, maxFileSize int64) (*gin.Engine, *staging.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := staging.NewManager(staging.Options{
		MaxFiles: 2,
		Validator: validator.NewImageValidator(&validator.ValidatorConfig{
			MaxFileSize:  maxFileSize,
			AllowedTypes: validator.DefaultConfig().AllowedTypes,
		}),
	})
	h := NewStagingHandler(manager, logger.NewNop())

	r := gin.New()
	r.POST("/files", h.AddFiles)
	return r, manager
}

func multipartBody(t *testing.T, parts map[string][]byte, order ...string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for _, name := range order {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(parts[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAddFilesRejectsOversizedPartBeforeStaging(t *testing.T) {
	r, manager := newStagingRouter(t, 1024)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartBody(t, map[string][]byte{
		"big.png":   bytes.Repeat([]byte("x"), 4096),
		"small.png": bytes.Repeat([]byte("x"), 100),
	}, "big.png", "small.png"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "small.png", resp.Files[0].Name)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "file_too_large", resp.Rejected[0].Code)
	assert.Equal(t, "big.png", resp.Rejected[0].Params["fileName"])

	files := manager.Get("").Files()
	require.Len(t, files, 1)
	assert.Len(t, files[0].Content, 100)
}

func TestAddFilesRejectsOversizedBody(t *testing.T) {
	r, manager := newStagingRouter(t, 1024)

	// two files of 1KiB plus overhead fit; this does not
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartBody(t, map[string][]byte{
		"huge.png": bytes.Repeat([]byte("x"), 2<<20),
	}, "huge.png"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "file_too_large", body.Code)
	assert.Equal(t, 0, manager.Get("").Len())
}
