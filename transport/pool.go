package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// PoolConfig holds connection pool tuning, generalized from a
// per-provider connection pool down to one shared transport per
// target base URL.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	DefaultTimeout        time.Duration
}

// DefaultPoolConfig returns production-grade pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		DefaultTimeout:      30 * time.Second,
	}
}

// PooledHTTPTransport is a Transport backed by a single shared
// http.Transport, reused across every Execute call against one target.
type PooledHTTPTransport struct {
	client *http.Client
}

// NewPooledHTTPTransport builds a transport with a dedicated
// connection pool sized by cfg.
func NewPooledHTTPTransport(cfg PoolConfig) *PooledHTTPTransport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	rt := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &PooledHTTPTransport{
		client: &http.Client{Transport: rt, Timeout: cfg.DefaultTimeout},
	}
}

// Execute performs the HTTP call and classifies any failure.
func (t *PooledHTTPTransport) Execute(ctx context.Context, req HttpRequest) (HttpResponse, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytesReader(req.Body))
	if err != nil {
		return HttpResponse{}, 0, &TransportError{Kind: ErrTerminal, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return HttpResponse{}, duration, &TransportError{Kind: classify(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return HttpResponse{}, duration, &TransportError{Kind: ErrConnectionLost, Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return HttpResponse{Status: resp.StatusCode, Headers: headers, Body: body}, duration, nil
}

func classify(err error) ErrorKind {
	if err == context.DeadlineExceeded {
		return ErrTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "EOF"), strings.Contains(msg, "broken pipe"):
		return ErrConnectionLost
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return ErrNotConnected
	default:
		return ErrTerminal
	}
}

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
