package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Key     string         `json:"key"`
	Params  map[string]any `json:"params,omitempty"`
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindNoFiles:              http.StatusBadRequest,
	apperr.KindFileAlreadySelected:  http.StatusBadRequest,
	apperr.KindTooManyFiles:         http.StatusBadRequest,
	apperr.KindInvalidFileType:      http.StatusBadRequest,
	apperr.KindTemplateTitleMissing: http.StatusBadRequest,
	apperr.KindBatchMissing:         http.StatusBadRequest,
	apperr.KindSpreadsheetIDMissing: http.StatusBadRequest,
	apperr.KindRangeMissing:         http.StatusBadRequest,
	apperr.KindFileTooLarge:         http.StatusRequestEntityTooLarge,

	apperr.KindSignInRequired:     http.StatusUnauthorized,
	apperr.KindAccessTokenMissing: http.StatusUnauthorized,
	apperr.KindSessionExpired:     http.StatusUnauthorized,
	apperr.KindSignInFailed:       http.StatusUnauthorized,

	apperr.KindFileNotFound: http.StatusNotFound,
	apperr.KindTaskNotFound: http.StatusNotFound,

	apperr.KindSubmissionInProgress: http.StatusConflict,
	apperr.KindTaskNotReady:         http.StatusConflict,

	apperr.KindNoDataToWrite:      http.StatusUnprocessableEntity,
	apperr.KindNoStructuredOutput: http.StatusUnprocessableEntity,
	apperr.KindInvalidJSON:        http.StatusUnprocessableEntity,
	apperr.KindSchemaMismatch:     http.StatusUnprocessableEntity,

	apperr.KindGenerationFailed:    http.StatusBadGateway,
	apperr.KindCreationFailed:      http.StatusBadGateway,
	apperr.KindApplyTemplateFailed: http.StatusBadGateway,
	apperr.KindCopyFailed:          http.StatusBadGateway,
	apperr.KindWriteFailed:         http.StatusBadGateway,

	apperr.KindMissingAPIKey:  http.StatusServiceUnavailable,
	apperr.KindEmptyPrompt:    http.StatusServiceUnavailable,
	apperr.KindInvalidSchema:  http.StatusServiceUnavailable,
	apperr.KindClientNotReady: http.StatusServiceUnavailable,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func errorBody(err error) ErrorResponse {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Wrap(apperr.KindUnknown, err)
	}
	return ErrorResponse{
		Error:   err.Error(),
		Message: e.Message(),
		Code:    string(e.Kind),
		Key:     e.Kind.MessageKey(),
		Params:  e.Params,
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, err error) {
	body := errorBody(err)
	status := StatusFor(apperr.Kind(body.Code))

	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.String("kind", body.Code),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), log).Error("Request failed", fields...)
	} else {
		logger.FromContext(c.Request.Context(), log).Warn("Request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, body)
}
