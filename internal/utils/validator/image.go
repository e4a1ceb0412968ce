// internal/utils/validator/image.go
package validator

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeEmptyFile       = "EMPTY_FILE"
)

// ImageValidator is the drop-target check applied before a file may be staged.
type ImageValidator struct {
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // bytes
	AllowedTypes map[string][]string // MIME type -> accepted extensions
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e ValidationError) Error() string {
	return e.Message
}

// FileInfo is what the validator needs to know about a candidate.
type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// DefaultConfig accepts png, jpeg and webp scans up to 10MB.
func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 10 * 1024 * 1024,
		AllowedTypes: map[string][]string{
			"image/png":  {".png"},
			"image/jpeg": {".jpg", ".jpeg"},
			"image/webp": {".webp"},
		},
	}
}

func NewImageValidator(config *ValidatorConfig) *ImageValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &ImageValidator{config: config}
}

func (v *ImageValidator) MaxFileSize() int64 {
	return v.config.MaxFileSize
}

// Validate returns every rule the file breaks; an empty slice means accepted.
func (v *ImageValidator) Validate(info FileInfo) []ValidationError {
	var errors []ValidationError

	if info.Size <= 0 {
		errors = append(errors, ValidationError{
			Code:    CodeEmptyFile,
			Message: fmt.Sprintf("File %s is empty", info.Filename),
			Field:   "size",
		})
	}

	if info.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}

	if !v.accepts(info.MimeType, info.Filename) {
		errors = append(errors, ValidationError{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("File type %s is not allowed", info.MimeType),
			Field:   "mimeType",
		})
	}

	return errors
}

func (v *ImageValidator) accepts(mimeType, filename string) bool {
	exts, ok := v.config.AllowedTypes[normalizeMIME(mimeType)]
	if !ok {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return true
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// ResolveMIME returns the declared type when present, otherwise one derived
// from the extension, otherwise one sniffed from the first bytes.
func ResolveMIME(filename, declared string, head []byte) string {
	if t := normalizeMIME(declared); t != "" && t != "application/octet-stream" {
		return t
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return normalizeMIME(t)
	}
	if len(head) > 0 {
		return normalizeMIME(http.DetectContentType(head))
	}
	return ""
}

func normalizeMIME(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "image/jpg" {
		return "image/jpeg"
	}
	return t
}
