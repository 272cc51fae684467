// Package httpkit builds the HTTP client embedding providers use. The
// client sets a User-Agent, bounds every phase of a request, and can
// retry requests that never reached the server, such as a POST to a
// local Ollama that is still starting.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/shippopotamus/internal/buildinfo"
)

// DefaultTimeout bounds a whole embedding request.
const DefaultTimeout = 30 * time.Second

// Config configures NewClient. The zero value is usable.
type Config struct {
	// Timeout bounds the whole request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retries is how many extra attempts a request gets after a dial
	// failure. Zero disables retry.
	Retries    int
	RetryDelay time.Duration

	// UserAgent defaults to buildinfo.UserAgent().
	UserAgent string

	Logger *slog.Logger
}

// NewClient returns a client for talking to an embedding provider.
func NewClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = buildinfo.UserAgent()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &providerTransport{
			base:    newTransport(),
			ua:      cfg.UserAgent,
			retries: cfg.Retries,
			delay:   cfg.RetryDelay,
			logger:  cfg.Logger,
		},
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		ForceAttemptHTTP2:     true,
	}
}

// providerTransport sets the User-Agent and retries dial failures.
type providerTransport struct {
	base    http.RoundTripper
	ua      string
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *providerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}

	resp, err := t.base.RoundTrip(req)
	for attempt := 1; attempt <= t.retries && dialFailed(err); attempt++ {
		// A body we cannot rewind was already consumed.
		if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
			break
		}

		t.logger.Debug("embedding provider unreachable, retrying",
			"url", req.URL.Redacted(),
			"attempt", attempt,
			"error", err,
		)

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("rewind request body: %w", bodyErr)
			}
			retry.Body = body
		}
		resp, err = t.base.RoundTrip(retry)
	}
	return resp, err
}

// dialFailed reports whether err happened before the request reached
// the server. ECONNRESET is excluded because the server may have
// started processing.
func dialFailed(err error) bool {
	return err != nil && (errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH))
}

// ReadErrorBody returns up to limit bytes of rc for an error message and
// closes it. A nil rc yields "".
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
