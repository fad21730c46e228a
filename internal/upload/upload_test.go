package upload

import (
	"testing"
	"time"

	"github.com/pavelkim/flowcached/internal/logger"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.NewLogger(&logger.Config{Level: "debug", ConsoleOutput: false})
	require.NoError(t, err)
	return l
}

func TestUploader_DisabledWhenNoUploadKey(t *testing.T) {
	u := NewUploader("", testLogger(t))
	require.False(t, u.Enabled())
	u.Upload("/tmp/whatever.ndjson") // must not panic or spawn anything
	require.Nil(t, u.pending)
}

func TestUploader_SpawnsAndTracksChild(t *testing.T) {
	u := NewUploader("/bin/true", testLogger(t))
	require.True(t, u.Enabled())

	u.Upload("rotated-1.ndjson")

	u.mu.Lock()
	first := u.pending
	u.mu.Unlock()
	require.NotNil(t, first)

	// Give the (instantly exiting) child a moment to become a zombie, then
	// spawn a second upload: this reaps the first without blocking.
	time.Sleep(20 * time.Millisecond)
	u.Upload("rotated-2.ndjson")

	u.mu.Lock()
	second := u.pending
	u.mu.Unlock()
	require.NotNil(t, second)
	require.NotSame(t, first, second)

	u.Close()
}
