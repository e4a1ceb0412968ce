package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/api/middleware"
	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/internal/utils/validator"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type StagingHandler struct {
	staging *staging.Manager
	logger  logger.Logger
}

// StagedFileResponse is a staged file as the client lists it.
type StagedFileResponse struct {
	models.StagedFile
	HasPreview bool `json:"hasPreview"`
}

// StageResponse 暂存结果, 被拒绝的文件以通知形式返回
type StageResponse struct {
	Files    []StagedFileResponse `json:"files"`
	Rejected []ErrorResponse      `json:"rejected,omitempty"`
}

func NewStagingHandler(manager *staging.Manager, log logger.Logger) *StagingHandler {
	return &StagingHandler{staging: manager, logger: log}
}

func (h *StagingHandler) list(c *gin.Context) *staging.List {
	return h.staging.Get(middleware.SessionID(c))
}

func (h *StagingHandler) view(list *staging.List, files []models.StagedFile) []StagedFileResponse {
	out := make([]StagedFileResponse, 0, len(files))
	for _, f := range files {
		_, ok := list.Preview(f.Key)
		out = append(out, StagedFileResponse{StagedFile: f, HasPreview: ok})
	}
	return out
}

// ListFiles 列出暂存文件
func (h *StagingHandler) ListFiles(c *gin.Context) {
	list := h.list(c)
	c.JSON(http.StatusOK, StageResponse{Files: h.view(list, list.Files())})
}

// multipartOverhead covers part headers and form values beyond the file bytes.
const multipartOverhead = 1 << 20

// AddFiles stages the multipart "files" parts. An optional "lastModified"
// value per part, in the same order, feeds the duplicate check. Parts that
// fail the size or type rules are rejected before their content is read.
func (h *StagingHandler) AddFiles(c *gin.Context) {
	if limit := h.staging.MaxUploadBytes(); limit > 0 {
		limit += multipartOverhead
		if c.Request.ContentLength > limit {
			handleError(c, h.logger, apperr.New(apperr.KindFileTooLarge, "limit", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleError(c, h.logger, apperr.Wrap(apperr.KindFileTooLarge, err, "limit", tooLarge.Limit))
			return
		}
		handleError(c, h.logger, apperr.Wrap(apperr.KindNoFiles, err))
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		handleError(c, h.logger, apperr.New(apperr.KindNoFiles))
		return
	}
	modified := form.Value["lastModified"]

	list := h.list(c)
	var rejections []error
	candidates := make([]staging.Candidate, 0, len(headers))
	for i, header := range headers {
		var lastModified int64
		if i < len(modified) {
			lastModified, _ = strconv.ParseInt(modified[i], 10, 64)
		}

		head, err := readPart(header, sniffLen)
		if err != nil {
			handleError(c, h.logger, apperr.Wrap(apperr.KindStorageFailed, err, "fileName", header.Filename))
			return
		}
		candidate := staging.Candidate{
			Name:         header.Filename,
			Size:         header.Size,
			LastModified: lastModified,
			MIMEType:     validator.ResolveMIME(header.Filename, header.Header.Get("Content-Type"), head),
		}
		if err := list.Check(candidate); err != nil {
			rejections = append(rejections, err)
			continue
		}

		candidate.Content, err = readPart(header, header.Size)
		if err != nil {
			handleError(c, h.logger, apperr.Wrap(apperr.KindStorageFailed, err, "fileName", header.Filename))
			return
		}
		candidates = append(candidates, candidate)
	}

	files, rejected := list.Add(candidates)
	rejections = append(rejections, rejected...)

	resp := StageResponse{Files: h.view(list, files)}
	for _, rej := range rejections {
		resp.Rejected = append(resp.Rejected, errorBody(rej))
	}
	if len(rejections) > 0 {
		h.logger.Info("Files rejected",
			logger.String("sessionId", middleware.SessionID(c)),
			logger.Int("rejected", len(rejections)),
		)
	}
	c.JSON(http.StatusOK, resp)
}

// RemoveFile 移除暂存文件
func (h *StagingHandler) RemoveFile(c *gin.Context) {
	list := h.list(c)
	files, err := list.Remove(c.Param("key"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, StageResponse{Files: h.view(list, files)})
}

// GetPreview returns the thumbnail data URL of a staged file.
func (h *StagingHandler) GetPreview(c *gin.Context) {
	key := c.Param("key")
	preview, ok := h.list(c).Preview(key)
	if !ok {
		handleError(c, h.logger, apperr.New(apperr.KindFileNotFound, "key", key))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "preview": preview})
}

const sniffLen = 512

// readPart reads at most n bytes of an uploaded part.
func readPart(header *multipart.FileHeader, n int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, n))
}
