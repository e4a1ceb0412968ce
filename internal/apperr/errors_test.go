package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := New(KindSchemaMismatch, "field", "items")
	wrapped := fmt.Errorf("project response: %w", base)

	assert.Equal(t, KindSchemaMismatch, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, New(KindSchemaMismatch)))
	assert.False(t, errors.Is(wrapped, New(KindInvalidJSON)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestWrapKeepsCauseAndMessage(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := Wrap(KindGenerationFailed, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "quota exceeded", err.Message())
	assert.Equal(t, "generation_failed: quota exceeded", err.Error())
}

func TestWrapExplicitMessageWins(t *testing.T) {
	err := Wrap(KindWriteFailed, errors.New("googleapi: Error 403"), "message", "The caller does not have permission")
	assert.Equal(t, "The caller does not have permission", err.Message())
}

func TestMessageKey(t *testing.T) {
	assert.Equal(t, "messages.errorNoDataToWrite", KindNoDataToWrite.MessageKey())
	assert.Equal(t, "messages.errorUnknown", Kind("nope").MessageKey())
}

func TestNewIgnoresOddParams(t *testing.T) {
	err := New(KindTooManyFiles, "maxFiles", 3, "dangling")
	assert.Equal(t, map[string]any{"maxFiles": 3}, err.Params)
	assert.Equal(t, "too_many_files", err.Error())
}
