package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/core/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const batchPath = "v1/batch"

// Header names set on batch uploads.
const (
	HeaderAnonymousID     = "AnonymousId"
	HeaderRetryAttempt    = "Rsa-Retry-Attempt"
	HeaderSinceLastRetry  = "Rsa-Since-Last-Attempt"
	HeaderRetryReason     = "Rsa-Retry-Reason"
	headerContentEncoding = "Content-Encoding"
)

var (
	// ErrBadRequest means the data plane rejected the batch as malformed. The batch must be dropped.
	ErrBadRequest = errors.New("client: batch rejected as malformed (400)")

	// ErrInvalidWriteKey means the write key was refused. Uploading must stop.
	ErrInvalidWriteKey = errors.New("client: invalid write key (401)")

	// ErrSourceDisabled means the source is disabled on the data plane (404).
	ErrSourceDisabled = errors.New("client: source disabled (404)")

	// ErrPayloadTooLarge means the batch exceeds the data plane limit. The batch must be dropped.
	ErrPayloadTooLarge = errors.New("client: payload too large (413)")

	// ErrCircuitOpen is wrapped into a RetryableError while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("client: circuit breaker is open")
)

// Retry reasons reported by RetryableError.
const (
	ReasonNetwork     = "client-network"
	ReasonTimeout     = "client-timeout"
	ReasonUnknown     = "client-unknown"
	ReasonCircuitOpen = "client-circuit-open"
)

// RetryableError is a delivery failure after which the batch is kept and retried later.
type RetryableError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: retryable upload failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client: retryable upload failure (%s)", e.Reason)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err leaves the batch eligible for another attempt.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RetryReason returns the reason of a retryable error, or ReasonUnknown.
func RetryReason(err error) string {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// SenderConfig identifies the data plane and the source.
type SenderConfig struct {
	DataPlaneURL string
	WriteKey     string
	Gzip         bool
	HTTP         ClientConfig
}

// BatchSender posts batch payloads to the data plane.
type BatchSender struct {
	endpoint   string
	authHeader string
	gzip       bool
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
	otelOpts   []otelhttp.Option
}

// SenderOption configures a BatchSender.
type SenderOption func(*BatchSender)

// WithHTTPClient replaces the pooled client, mainly for tests.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *BatchSender) {
		s.httpClient = c
	}
}

// WithInstrumentation records client spans and request metrics for every upload.
func WithInstrumentation(tp trace.TracerProvider, mp metric.MeterProvider) SenderOption {
	return func(s *BatchSender) {
		if tp != nil {
			s.otelOpts = append(s.otelOpts,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithPropagators(propagation.TraceContext{}),
			)
		}
		if mp != nil {
			s.otelOpts = append(s.otelOpts, otelhttp.WithMeterProvider(mp))
		}
	}
}

// NewBatchSender creates a sender for cfg.
func NewBatchSender(cfg SenderConfig, log *zap.Logger, opts ...SenderOption) (*BatchSender, error) {
	if cfg.WriteKey == "" {
		return nil, errors.New("client: write key is required")
	}
	base, err := url.Parse(strings.TrimSpace(cfg.DataPlaneURL))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("client: invalid data plane url %q", cfg.DataPlaneURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.HTTP.ApplyDefaults()

	log = log.With(zap.String("component", "batch-sender"))
	s := &BatchSender{
		endpoint:   base.JoinPath(batchPath).String(),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.WriteKey+":")),
		gzip:       cfg.Gzip,
		breaker:    newCircuitBreaker(*cfg.HTTP.BreakerFailures, *cfg.HTTP.BreakerTimeout, log),
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = NewHTTPClient(cfg.HTTP)
	}
	if len(s.otelOpts) > 0 {
		instrumented := *s.httpClient
		base := instrumented.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		instrumented.Transport = otelhttp.NewTransport(base, s.otelOpts...)
		s.httpClient = &instrumented
	}
	return s, nil
}

func newCircuitBreaker(failures uint32, timeout time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "data-plane",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		// Only transient failures mean the data plane is unhealthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Close releases idle connections held by the underlying client.
func (s *BatchSender) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// Endpoint returns the batch URL.
func (s *BatchSender) Endpoint() string {
	return s.endpoint
}

// SendBatch posts one batch payload. header carries per-batch headers such as AnonymousId.
// Errors are either one of the package sentinels or a *RetryableError.
func (s *BatchSender) SendBatch(ctx context.Context, payload []byte, header http.Header) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, payload, header)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &RetryableError{Reason: ReasonCircuitOpen, Err: ErrCircuitOpen}
	}
	return err
}

func (s *BatchSender) post(ctx context.Context, payload []byte, header http.Header) error {
	body, err := s.encode(payload)
	if err != nil {
		return &RetryableError{Reason: ReasonUnknown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &RetryableError{Reason: ReasonUnknown, Err: err}
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.authHeader)
	if s.gzip {
		req.Header.Set(headerContentEncoding, "gzip")
	}

	log := logger.Get(ctx)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Debug("batch post failed", zap.Error(err))
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	log.Debug("batch posted",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(payload)),
		zap.Int("encodedBytes", len(body)))
	return classifyStatus(resp.StatusCode)
}

func (s *BatchSender) encode(payload []byte) ([]byte, error) {
	if !s.gzip {
		return payload, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	return buf.Bytes(), nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusUnauthorized:
		return ErrInvalidWriteKey
	case code == http.StatusNotFound:
		return ErrSourceDisabled
	case code == http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		return &RetryableError{StatusCode: code, Reason: "server-" + strconv.Itoa(code)}
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &RetryableError{Reason: ReasonTimeout, Err: err}
	case errors.As(err, &netErr):
		return &RetryableError{Reason: ReasonNetwork, Err: err}
	default:
		return &RetryableError{Reason: ReasonUnknown, Err: err}
	}
}
