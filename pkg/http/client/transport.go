package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrConnExpired is returned by a pooled connection that outlived its max lifetime.
// The retry transport redials without counting it as an attempt.
var ErrConnExpired = errors.New("connection expired")

// NewHTTPClient builds a pooled client with connection lifetime rotation and
// immediate retries of dead pooled connections. cfg must have defaults applied.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	lifetime := *cfg.MaxConnLifetime

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: *cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     *cfg.IdleConnTimeout,
		// Bodies are compressed by the sender; never negotiate transparently.
		DisableCompression: true,
	}
	if lifetime > 0 {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &expiringConn{Conn: conn, deadline: time.Now().Add(lifetime)}, nil
		}
	}

	return &http.Client{
		Timeout: *cfg.Timeout,
		Transport: &retryTransport{
			base:       transport,
			pool:       transport,
			maxRetries: min(*cfg.MaxIdleConnsPerHost, MaxRetriesCap),
		},
	}
}

// expiringConn fails reads and writes once its deadline has passed so the
// transport drops it from the pool and dials a fresh one.
type expiringConn struct {
	net.Conn
	deadline time.Time
}

func (c *expiringConn) expired() bool {
	if time.Now().Before(c.deadline) {
		return false
	}
	_ = c.Close()
	return true
}

func (c *expiringConn) Read(b []byte) (int, error) {
	if c.expired() {
		return 0, ErrConnExpired
	}
	return c.Conn.Read(b)
}

func (c *expiringConn) Write(b []byte) (int, error) {
	if c.expired() {
		return 0, ErrConnExpired
	}
	return c.Conn.Write(b)
}

// retryTransport replays a request whose pooled connection turned out to be dead.
// It does not back off; delivery level retries belong to the upload loop.
type retryTransport struct {
	base       http.RoundTripper
	pool       *http.Transport // nil when base is not a pooling transport
	maxRetries int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; {
		resp, err := t.send(req, attempt > 0 || lastErr != nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrConnExpired) {
			continue
		}
		if !isConnError(err) || req.Context().Err() != nil {
			return nil, err
		}
		attempt++
	}

	// Every pooled connection failed; start over with a fresh one.
	if t.pool != nil {
		t.pool.CloseIdleConnections()
	}
	return t.send(req, true)
}

func (t *retryTransport) send(req *http.Request, replay bool) (*http.Response, error) {
	if !replay {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("client: request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return t.base.RoundTrip(clone)
}

// isConnError reports errors caused by a connection dying under the request.
func isConnError(err error) bool {
	for _, target := range []error{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ENETUNREACH,
		syscall.EPIPE,
		io.EOF,
		io.ErrUnexpectedEOF,
		net.ErrClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
