// Package staging keeps the per-session list of invoice images waiting to be submitted.
package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/internal/utils/validator"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

// Candidate is a file offered for staging.
type Candidate struct {
	Name         string
	Size         int64
	LastModified int64
	MIMEType     string
	Content      []byte
}

// IdentityKey identifies a file by name, modification time and size, not by content.
func IdentityKey(name string, size, lastModified int64) string {
	return fmt.Sprintf("%s-%d-%d", name, lastModified, size)
}

type Options struct {
	MaxFiles  int
	Validator *validator.ImageValidator
	Previewer Previewer
	Logger    logger.Logger
}

// List is one session's staged files. Safe for concurrent use.
type List struct {
	mu       sync.RWMutex
	files    []models.StagedFile
	previews map[string]string

	maxFiles  int
	validator *validator.ImageValidator
	previewer Previewer
	logger    logger.Logger
	pending   sync.WaitGroup
}

func (o Options) withDefaults() Options {
	if o.MaxFiles <= 0 {
		o.MaxFiles = 3
	}
	if o.Validator == nil {
		o.Validator = validator.NewImageValidator(nil)
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

func NewList(opts Options) *List {
	opts = opts.withDefaults()
	return &List{
		previews:  make(map[string]string),
		maxFiles:  opts.MaxFiles,
		validator: opts.Validator,
		previewer: opts.Previewer,
		logger:    opts.Logger,
	}
}

// Add stages candidates in order and returns the updated list plus one
// *apperr.Error per rejected candidate. Rejections for size, type or
// duplicates skip that candidate; exceeding the file limit stops the batch.
func (l *List) Add(candidates []Candidate) ([]models.StagedFile, []error) {
	l.mu.Lock()
	var (
		rejections []error
		accepted   []models.StagedFile
	)
	existing := make(map[string]bool, len(l.files))
	for _, f := range l.files {
		existing[f.Key] = true
	}

	for _, c := range candidates {
		if err := l.validate(c); err != nil {
			rejections = append(rejections, err)
			continue
		}

		key := IdentityKey(c.Name, c.Size, c.LastModified)
		if existing[key] {
			rejections = append(rejections, apperr.New(apperr.KindFileAlreadySelected, "fileName", c.Name))
			continue
		}
		if len(l.files) >= l.maxFiles {
			rejections = append(rejections, apperr.New(apperr.KindTooManyFiles, "maxFiles", l.maxFiles, "fileName", c.Name))
			break
		}

		file := models.StagedFile{
			Key:          key,
			Name:         c.Name,
			Size:         c.Size,
			LastModified: c.LastModified,
			MIMEType:     c.MIMEType,
			Content:      c.Content,
			StagedAt:     time.Now(),
		}
		l.files = append(l.files, file)
		existing[key] = true
		accepted = append(accepted, file)
	}
	updated := l.snapshotLocked()
	l.mu.Unlock()

	for _, f := range accepted {
		l.schedulePreview(f)
	}

	return updated, rejections
}

// Check applies the size and type rules to a candidate without staging it.
// Content is not needed.
func (l *List) Check(c Candidate) error {
	return l.validate(c)
}

func (l *List) validate(c Candidate) error {
	errs := l.validator.Validate(validator.FileInfo{
		Filename: c.Name,
		Size:     c.Size,
		MimeType: c.MIMEType,
	})
	if len(errs) == 0 {
		return nil
	}
	params := []any{
		"fileName", c.Name,
		"maxSizeMB", fmt.Sprintf("%.1f", float64(l.validator.MaxFileSize())/1024/1024),
		"message", errs[0].Message,
	}
	switch errs[0].Code {
	case validator.CodeFileTooLarge:
		return apperr.New(apperr.KindFileTooLarge, params...)
	default:
		return apperr.New(apperr.KindInvalidFileType, params...)
	}
}

func (l *List) schedulePreview(f models.StagedFile) {
	if l.previewer == nil {
		return
	}
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()

		preview, err := l.previewer.Preview(f.Content, f.MIMEType)
		if err != nil {
			l.logger.Warn("Failed to create preview",
				logger.String("file", f.Name),
				logger.Error(err),
			)
			return
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.indexLocked(f.Key) >= 0 {
			l.previews[f.Key] = preview
		}
	}()
}

// WaitPreviews blocks until every scheduled preview finished.
func (l *List) WaitPreviews() {
	l.pending.Wait()
}

// Remove unstages the file with the given key. Unknown keys are reported.
func (l *List) Remove(key string) ([]models.StagedFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(key)
	if i < 0 {
		return l.snapshotLocked(), apperr.New(apperr.KindFileNotFound, "key", key)
	}
	l.files = append(l.files[:i], l.files[i+1:]...)
	delete(l.previews, key)
	return l.snapshotLocked(), nil
}

// Clear drops every staged file, e.g. after a successful submission.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = nil
	l.previews = make(map[string]string)
}

// Files returns a copy of the staged files in selection order.
func (l *List) Files() []models.StagedFile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.files)
}

func (l *List) Preview(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.previews[key]
	return p, ok
}

// Sources adapts the staged files to pipeline inputs, preserving order.
func (l *List) Sources() []models.FileSource {
	return Sources(l.Files())
}

func Sources(files []models.StagedFile) []models.FileSource {
	out := make([]models.FileSource, 0, len(files))
	for _, f := range files {
		content := f.Content
		out = append(out, models.FileSource{
			Name:     f.Name,
			MIMEType: f.MIMEType,
			Open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(content)), nil
			},
		})
	}
	return out
}

func (l *List) indexLocked(key string) int {
	for i, f := range l.files {
		if f.Key == key {
			return i
		}
	}
	return -1
}

func (l *List) snapshotLocked() []models.StagedFile {
	out := make([]models.StagedFile, len(l.files))
	copy(out, l.files)
	return out
}
