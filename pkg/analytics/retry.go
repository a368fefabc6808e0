package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/http/client"
	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"go.uber.org/zap"
)

const retryMetadataPrefix = "retry.metadata."

// retryMetadata describes the failed attempts of the batch currently being retried.
type retryMetadata struct {
	BatchID           string `json:"batchId"`
	Attempt           int    `json:"attempt"`
	LastAttemptMillis int64  `json:"lastAttemptTimestampInMillis"`
	Reason            string `json:"reason"`
}

// retryTracker persists retry metadata per batch so the data plane can see how often a batch
// was retried, also across restarts.
type retryTracker struct {
	store kv.Store
	now   func() time.Time
	log   *zap.Logger
}

func newRetryTracker(store kv.Store, now func() time.Time, log *zap.Logger) *retryTracker {
	return &retryTracker{store: store, now: now, log: log}
}

func retryMetadataKey(batchID string) string {
	return retryMetadataPrefix + batchID
}

func (r *retryTracker) load(batchID string) (retryMetadata, bool) {
	meta, ok := kv.Read[retryMetadata](r.store, retryMetadataKey(batchID))
	if !ok || meta.BatchID != batchID {
		return retryMetadata{}, false
	}
	return meta, true
}

// apply adds the retry headers for batchID when it failed before.
func (r *retryTracker) apply(header http.Header, batchID string) {
	meta, ok := r.load(batchID)
	if !ok {
		return
	}
	since := max(r.now().UnixMilli()-meta.LastAttemptMillis, 0)
	header.Set(client.HeaderRetryAttempt, strconv.Itoa(meta.Attempt))
	header.Set(client.HeaderSinceLastRetry, strconv.FormatInt(since, 10))
	header.Set(client.HeaderRetryReason, meta.Reason)
}

func (r *retryTracker) recordFailure(batchID, reason string) {
	attempt := 1
	if meta, ok := r.load(batchID); ok {
		attempt = meta.Attempt + 1
	}
	err := kv.Write(r.store, retryMetadataKey(batchID), retryMetadata{
		BatchID:           batchID,
		Attempt:           attempt,
		LastAttemptMillis: r.now().UnixMilli(),
		Reason:            reason,
	})
	if err != nil {
		r.log.Debug("failed to persist retry metadata", zap.Error(err))
	}
}

func (r *retryTracker) clear(batchID string) {
	if err := kv.Remove(r.store, retryMetadataKey(batchID)); err != nil {
		r.log.Debug("failed to clear retry metadata", zap.Error(err))
	}
}
