package client

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/core/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type capturedRequest struct {
	method string
	path   string
	header http.Header
	body   string
}

func newDataPlane(t *testing.T, status int) (*httptest.Server, chan capturedRequest) {
	t.Helper()
	captured := make(chan capturedRequest, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			defer zr.Close()
			reader = zr
		}
		body, _ := io.ReadAll(reader)
		captured <- capturedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: string(body)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newSender(t *testing.T, url string, gzipEnabled bool) *BatchSender {
	t.Helper()
	s, err := NewBatchSender(SenderConfig{
		DataPlaneURL: url,
		WriteKey:     "write-key",
		Gzip:         gzipEnabled,
		HTTP:         ClientConfig{Timeout: lo.ToPtr(2 * time.Second)},
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestBatchSender_SendBatch_Request(t *testing.T) {
	for _, gzipEnabled := range []bool{true, false} {
		name := lo.Ternary(gzipEnabled, "gzip", "plain")
		t.Run(name, func(t *testing.T) {
			srv, captured := newDataPlane(t, http.StatusOK)
			sender := newSender(t, srv.URL+"/", gzipEnabled)

			header := http.Header{}
			header.Set(HeaderAnonymousID, "anon-1")
			err := sender.SendBatch(context.Background(), []byte(`{"batch":[],"sentAt":"x"}`), header)

			require.NoError(t, err)
			req := <-captured
			assert.Equal(t, http.MethodPost, req.method)
			assert.Equal(t, "/v1/batch", req.path)
			assert.Equal(t, `{"batch":[],"sentAt":"x"}`, req.body)
			assert.Equal(t, "application/json", req.header.Get("Content-Type"))
			assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("write-key:")), req.header.Get("Authorization"))
			assert.Equal(t, "anon-1", req.header.Get(HeaderAnonymousID))
			assert.Equal(t, lo.Ternary(gzipEnabled, "gzip", ""), req.header.Get("Content-Encoding"))
		})
	}
}

func TestBatchSender_SendBatch_StatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		retryable bool
		reason    string
	}{
		{status: http.StatusOK},
		{status: http.StatusAccepted},
		{status: http.StatusBadRequest, sentinel: ErrBadRequest},
		{status: http.StatusUnauthorized, sentinel: ErrInvalidWriteKey},
		{status: http.StatusNotFound, sentinel: ErrSourceDisabled},
		{status: http.StatusRequestEntityTooLarge, sentinel: ErrPayloadTooLarge},
		{status: http.StatusTooManyRequests, retryable: true, reason: "server-429"},
		{status: http.StatusServiceUnavailable, retryable: true, reason: "server-503"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newDataPlane(t, tt.status)
			sender := newSender(t, srv.URL, false)

			err := sender.SendBatch(context.Background(), []byte(`{}`), nil)

			switch {
			case tt.sentinel != nil:
				assert.ErrorIs(t, err, tt.sentinel)
				assert.False(t, IsRetryable(err))
			case tt.retryable:
				require.True(t, IsRetryable(err))
				assert.Equal(t, tt.reason, RetryReason(err))
				var re *RetryableError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.status, re.StatusCode)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestBatchSender_SendBatch_NetworkError(t *testing.T) {
	srv, _ := newDataPlane(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	sender := newSender(t, url, false)
	err := sender.SendBatch(context.Background(), []byte(`{}`), nil)

	require.True(t, IsRetryable(err))
	assert.Equal(t, ReasonNetwork, RetryReason(err))
}

func TestBatchSender_SendBatch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	sender := newSender(t, srv.URL, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sender.SendBatch(ctx, []byte(`{}`), nil)

	require.True(t, IsRetryable(err))
	assert.Equal(t, ReasonTimeout, RetryReason(err))
}

func TestBatchSender_CircuitBreaker(t *testing.T) {
	// Given: a data plane that always fails and a breaker tripping after 2 failures
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender, err := NewBatchSender(SenderConfig{
		DataPlaneURL: srv.URL,
		WriteKey:     "write-key",
		HTTP: ClientConfig{
			BreakerFailures: lo.ToPtr(uint32(2)),
			BreakerTimeout:  lo.ToPtr(time.Hour),
		},
	}, zap.NewNop())
	require.NoError(t, err)

	// When: sending three batches
	for range 2 {
		assert.True(t, IsRetryable(sender.SendBatch(context.Background(), []byte(`{}`), nil)))
	}
	err = sender.SendBatch(context.Background(), []byte(`{}`), nil)

	// Then: the third call is rejected without reaching the server
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, ReasonCircuitOpen, RetryReason(err))
	assert.Equal(t, int32(2), hits.Load())
}

func TestBatchSender_NonRetryableErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sender, err := NewBatchSender(SenderConfig{
		DataPlaneURL: srv.URL,
		WriteKey:     "write-key",
		HTTP:         ClientConfig{BreakerFailures: lo.ToPtr(uint32(1))},
	}, zap.NewNop())
	require.NoError(t, err)

	for range 3 {
		assert.ErrorIs(t, sender.SendBatch(context.Background(), []byte(`{}`), nil), ErrBadRequest)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestNewBatchSender_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SenderConfig
	}{
		{name: "missing write key", cfg: SenderConfig{DataPlaneURL: "https://dp.example.com"}},
		{name: "missing url", cfg: SenderConfig{WriteKey: "k"}},
		{name: "bad scheme", cfg: SenderConfig{WriteKey: "k", DataPlaneURL: "ftp://dp.example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatchSender(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewBatchSender_Endpoint(t *testing.T) {
	s, err := NewBatchSender(SenderConfig{DataPlaneURL: "https://dp.example.com/base", WriteKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dp.example.com/base/v1/batch", s.Endpoint())
}

func TestBatchSender_LogsThroughContextLogger(t *testing.T) {
	// Given
	srv, captured := newDataPlane(t, http.StatusOK)
	s := newSender(t, srv.URL, true)
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.With(context.Background(), zap.New(core).With(zap.String("batch", "b-1")))

	// When
	err := s.SendBatch(ctx, []byte(`{"batch":[]}`), nil)

	// Then
	require.NoError(t, err)
	<-captured
	entries := logs.FilterMessage("batch posted").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "b-1", fields["batch"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.EqualValues(t, len(`{"batch":[]}`), fields["bytes"])
}
