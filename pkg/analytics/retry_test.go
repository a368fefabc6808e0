package analytics

import (
	"net/http"
	"testing"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/http/client"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRetryTracker(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	store := kv.NewMemoryStore()
	tracker := newRetryTracker(store, func() time.Time { return now }, zap.NewNop())

	t.Run("no headers before a failure", func(t *testing.T) {
		header := http.Header{}
		tracker.apply(header, "batch-1")
		assert.Empty(t, header)
	})

	t.Run("headers describe the previous failures", func(t *testing.T) {
		tracker.recordFailure("batch-1", "server-503")
		now = now.Add(1500 * time.Millisecond)
		tracker.recordFailure("batch-1", "client-timeout")
		now = now.Add(2 * time.Second)

		header := http.Header{}
		tracker.apply(header, "batch-1")

		assert.Equal(t, "2", header.Get(client.HeaderRetryAttempt))
		assert.Equal(t, "2000", header.Get(client.HeaderSinceLastRetry))
		assert.Equal(t, "client-timeout", header.Get(client.HeaderRetryReason))
	})

	t.Run("batches are tracked separately", func(t *testing.T) {
		header := http.Header{}
		tracker.apply(header, "batch-2")
		assert.Empty(t, header)
	})

	t.Run("metadata survives a new tracker", func(t *testing.T) {
		reopened := newRetryTracker(store, func() time.Time { return now }, zap.NewNop())
		header := http.Header{}
		reopened.apply(header, "batch-1")
		assert.Equal(t, "2", header.Get(client.HeaderRetryAttempt))
	})

	t.Run("clear removes metadata", func(t *testing.T) {
		tracker.clear("batch-1")

		header := http.Header{}
		tracker.apply(header, "batch-1")
		assert.Empty(t, header)
	})
}
