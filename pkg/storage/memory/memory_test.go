package memory

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetDelete(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	key, err := m.Store(ctx, strings.NewReader("png-bytes"), "tasks/t1/0-a.png", 9, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "tasks/t1/0-a.png", key)

	rc, err := m.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, m.Delete(ctx, key))
	_, err = m.Get(ctx, key)
	assert.Error(t, err)
}

func TestCleanupBefore(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	m.now = func() time.Time { return old }
	_, err := m.Store(ctx, strings.NewReader("old"), "old", 3, "image/png")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Store(ctx, strings.NewReader("new"), "new", 3, "image/png")
	require.NoError(t, err)

	require.NoError(t, m.CleanupBefore(ctx, time.Now().Add(-24*time.Hour)))
	assert.Equal(t, 1, m.Len())
	_, err = m.Get(ctx, "new")
	assert.NoError(t, err)
}
