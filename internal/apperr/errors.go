// Package apperr defines the tagged error type shared by every pipeline stage.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure precisely enough for a client to localise it.
type Kind string

const (
	// precondition failures, detected before any network call
	KindMissingAPIKey          Kind = "missing_api_key"
	KindNoFiles                Kind = "no_files"
	KindEmptyPrompt            Kind = "empty_prompt"
	KindInvalidSchema          Kind = "invalid_schema"
	KindClientNotReady         Kind = "client_not_ready"
	KindAccessTokenMissing     Kind = "access_token_missing"
	KindTemplateTitleMissing   Kind = "template_title_missing"
	KindBatchMissing           Kind = "batch_missing"
	KindNoDataToWrite          Kind = "no_data_to_write"
	KindSpreadsheetIDMissing   Kind = "spreadsheet_id_missing"
	KindRangeMissing           Kind = "range_missing"
	KindSignInRequired         Kind = "sign_in_required"
	KindSubmissionInProgress   Kind = "submission_in_progress"
	KindFileAlreadySelected    Kind = "already_selected"
	KindTooManyFiles           Kind = "too_many_files"
	KindFileTooLarge           Kind = "file_too_large"
	KindInvalidFileType        Kind = "invalid_file_type"
	KindFileNotFound           Kind = "file_not_found"
	KindTaskNotFound           Kind = "task_not_found"
	KindTaskNotReady           Kind = "task_not_ready"

	// transport / SDK failures
	KindGenerationFailed    Kind = "generation_failed"
	KindCreationFailed      Kind = "creation_failed"
	KindApplyTemplateFailed Kind = "apply_template_failed"
	KindCopyFailed          Kind = "copy_failed"
	KindWriteFailed         Kind = "write_failed"
	KindSignInFailed        Kind = "sign_in_failed"
	KindStorageFailed       Kind = "storage_failed"

	// data-shape failures
	KindNoStructuredOutput Kind = "no_structured_output"
	KindInvalidJSON        Kind = "invalid_json"
	KindSchemaMismatch     Kind = "schema_mismatch"

	// session lifecycle
	KindSessionExpired Kind = "session_expired"

	KindUnknown Kind = "unknown"
)

var messageKeys = map[Kind]string{
	KindMissingAPIKey:        "messages.errorMissingApiKey",
	KindNoFiles:              "fileUpload.errorNoFilesSelected",
	KindEmptyPrompt:          "messages.errorPromptMissing",
	KindInvalidSchema:        "messages.errorInvalidSchema",
	KindClientNotReady:       "messages.errorGapiClientNotReady",
	KindAccessTokenMissing:   "messages.errorAccessTokenMissing",
	KindTemplateTitleMissing: "messages.errorTemplateTitleMissing",
	KindBatchMissing:         "messages.errorBatchUpdatePayloadMissing",
	KindNoDataToWrite:        "messages.errorNoDataToWrite",
	KindSpreadsheetIDMissing: "messages.errorSpreadsheetIdMissing",
	KindRangeMissing:         "messages.errorRangeMissing",
	KindSignInRequired:       "messages.errorSignInRequired",
	KindSubmissionInProgress: "messages.errorSubmissionInProgress",
	KindFileAlreadySelected:  "fileUpload.errorAlreadySelected",
	KindTooManyFiles:         "fileUpload.errorTooManyFiles",
	KindFileTooLarge:         "fileUpload.errorFileTooLarge",
	KindInvalidFileType:      "fileUpload.errorInvalidType",
	KindFileNotFound:         "fileUpload.errorFileNotFound",
	KindTaskNotFound:         "messages.errorTaskNotFound",
	KindTaskNotReady:         "messages.errorTaskNotReady",
	KindGenerationFailed:     "messages.errorProcessingGeneric",
	KindCreationFailed:       "messages.errorCreatingSpreadsheet",
	KindApplyTemplateFailed:  "messages.errorApplyingTemplateToSheet",
	KindCopyFailed:           "messages.errorCopyFile",
	KindWriteFailed:          "messages.errorWritingToSheet",
	KindSignInFailed:         "messages.errorGoogleLoginWithMessage",
	KindStorageFailed:        "messages.errorStorage",
	KindNoStructuredOutput:   "messages.errorNoStructuredOutput",
	KindInvalidJSON:          "messages.errorInvalidJson",
	KindSchemaMismatch:       "messages.errorSchemaMismatch",
	KindSessionExpired:       "messages.sessionExpired",
	KindUnknown:              "messages.errorUnknown",
}

// MessageKey returns the client translation key of the kind.
func (k Kind) MessageKey() string {
	if key, ok := messageKeys[k]; ok {
		return key
	}
	return messageKeys[KindUnknown]
}

// Error carries a Kind, structured params and an optional cause.
type Error struct {
	Kind   Kind
	Params map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if msg, ok := e.Params["message"].(string); ok && msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.New(KindX)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the most specific human readable text available.
func (e *Error) Message() string {
	if msg, ok := e.Params["message"].(string); ok && msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// New creates an error of the given kind. params are read as key/value pairs.
func New(kind Kind, params ...any) *Error {
	return &Error{Kind: kind, Params: toParams(params)}
}

// Wrap tags err with kind, keeping err as the cause and its text as the "message" param.
func Wrap(kind Kind, err error, params ...any) *Error {
	p := toParams(params)
	if err != nil {
		if _, ok := p["message"]; !ok {
			p["message"] = err.Error()
		}
	}
	return &Error{Kind: kind, Params: p, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func toParams(kv []any) map[string]any {
	p := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		p[key] = kv[i+1]
	}
	return p
}
